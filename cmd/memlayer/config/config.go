// Package configcmder provides the config command for managing persistent
// memlayer configuration stored in the .memlayer/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memlayer/pkg/cliui"
	"github.com/papercomputeco/memlayer/pkg/config"
)

const configLongDesc string = `Manage persistent memlayer configuration.

Configuration is stored as config.toml in the .memlayer/ directory and
provides default values for command flags. CLI flags and MEMLAYER_*
environment variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example
storage.provider, cache.slice_ttl, scheduler.default_budget or
lifecycle.stale_after. Run "memlayer config list" to see every key.

Durations accept Go syntax plus whole days: 90s, 10m, 36h, 30d.

Use subcommands to get, set, or list configuration values:
  memlayer config set <key> <value>    Set a configuration value
  memlayer config get <key>            Get a configuration value
  memlayer config list                 List all configuration values

Examples:
  memlayer config set storage.provider sqlite
  memlayer config set storage.sqlite_path ./memlayer.db
  memlayer config set lifecycle.retention_grace 14d
  memlayer config get cache.slice_ttl`

const configShortDesc string = "Manage persistent memlayer configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func checkKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	cliui.Header(w, "No config file found. Using defaults.")
}
