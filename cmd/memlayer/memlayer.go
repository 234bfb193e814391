// Package memlayercmder is the root memlayer command.
package memlayercmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/memlayer/cmd/memlayer/config"
	servecmder "github.com/papercomputeco/memlayer/cmd/memlayer/serve"
	sweepcmder "github.com/papercomputeco/memlayer/cmd/memlayer/sweep"
	versioncmder "github.com/papercomputeco/memlayer/cmd/version"
)

const memlayerLongDesc string = `Memlayer is a shared memory layer for multi-agent systems.

It keeps versioned documents agents coordinate through, tiered memory
records with governance, and schedules the most relevant records into
each agent's token budget.

Commands:
  memlayer serve          Run the API server and lifecycle sweeps
  memlayer sweep          Run one lifecycle sweep
  memlayer config         Manage persistent configuration`

const memlayerShortDesc string = "Memlayer - shared agent memory"

func NewMemlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memlayer",
		Short:         memlayerShortDesc,
		Long:          memlayerLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .memlayer/ config directory")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(sweepcmder.NewSweepCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
