// Package sweepcmder provides the sweep command, which runs a single
// lifecycle sweep against the configured storage.
package sweepcmder

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/memlayer/cmd/memlayer/stack"
	"github.com/papercomputeco/memlayer/pkg/cliui"
	"github.com/papercomputeco/memlayer/pkg/config"
	"github.com/papercomputeco/memlayer/pkg/dotdir"
	"github.com/papercomputeco/memlayer/pkg/lifecycle"
	"github.com/papercomputeco/memlayer/pkg/logger"
)

type sweepCommander struct {
	storageProvider string
	sqlitePath      string
	postgresDSN     string
	cacheProvider   string
	redisURL        string
	blobProvider    string
	blobEndpoint    string
	purgeExpired    bool
	last            bool

	configDir string
	debug     bool
	viper     *viper.Viper
	out       io.Writer
}

const sweepLongDesc string = `Run one lifecycle sweep.

Every record is checked against the lifecycle policy: fresh records become
active, idle ones go stale and then archived, and archived records expire
once their retention grace has passed. With --purge-expired expired records
are deleted. Stale slice cache entries are evicted as well.

The summary of the sweep is saved in the .memlayer/ directory. Use --last
to show the most recent sweep, including ones run by "memlayer serve".

Examples:
  memlayer sweep --sqlite ./memlayer.db
  memlayer sweep --purge-expired
  memlayer sweep --last`

const sweepShortDesc string = "Run one lifecycle sweep"

var sweepFlags = []string{
	config.FlagStorageProvider,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagCacheProvider,
	config.FlagRedisURL,
	config.FlagBlobProvider,
	config.FlagBlobEndpoint,
	config.FlagPurgeExpired,
}

func NewSweepCmd() *cobra.Command {
	cmder := &sweepCommander{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: sweepShortDesc,
		Long:  sweepLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, config.Flags, sweepFlags)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.debug, _ = cmd.Flags().GetBool("debug")
			cmder.out = cmd.OutOrStdout()
			if cmder.last {
				return cmder.showLast()
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheProvider, &cmder.cacheProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedisURL, &cmder.redisURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagBlobProvider, &cmder.blobProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagBlobEndpoint, &cmder.blobEndpoint)
	config.AddBoolFlag(cmd, config.Flags, config.FlagPurgeExpired, &cmder.purgeExpired)
	cmd.Flags().BoolVar(&cmder.last, "last", false, "Show the most recent sweep instead of running one")

	return cmd
}

func (c *sweepCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	log := logger.Nop()
	if c.debug {
		log = logger.New(logger.WithDebug(true), logger.WithPretty(true))
	}

	var s *stack.Stack
	err = cliui.Step(c.out, fmt.Sprintf("Opening %s storage", cfg.Storage.Provider), func() error {
		var err error
		s, err = stack.Build(ctx, cfg, stack.Options{Logger: log})
		return err
	})
	if err != nil {
		return err
	}
	defer s.Close()

	var report lifecycle.Report
	err = cliui.Step(c.out, "Sweeping records", func() error {
		var err error
		report, err = s.Lifecycle.SweepOnce(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if err := SaveReport(report, c.configDir); err != nil {
		log.Warn("could not save sweep state", "error", err)
	}

	printState(c.out, stateFromReport(report))
	return nil
}

func (c *sweepCommander) showLast() error {
	st, err := dotdir.NewManager().LoadSweepState(c.configDir)
	if err != nil {
		return err
	}
	if st == nil {
		cliui.Header(c.out, "No sweep has been recorded yet.")
		return nil
	}
	cliui.Header(c.out, "Last sweep, %s ago", cliui.FormatDuration(time.Since(st.StartedAt)))
	printState(c.out, st)
	return nil
}

// SaveReport records r as the last sweep in the .memlayer/ directory.
func SaveReport(r lifecycle.Report, configDir string) error {
	return dotdir.NewManager().SaveSweepState(stateFromReport(r), configDir)
}

func stateFromReport(r lifecycle.Report) *dotdir.SweepState {
	transitions := make(map[string]int, len(r.Transitions))
	for lc, n := range r.Transitions {
		transitions[string(lc)] = n
	}
	return &dotdir.SweepState{
		StartedAt:     r.StartedAt,
		Scanned:       r.Scanned,
		Transitions:   transitions,
		Purged:        r.Purged,
		SlicesEvicted: r.SlicesEvicted,
		Errors:        r.Errors,
		Took:          r.Took,
	}
}

func printState(w io.Writer, st *dotdir.SweepState) {
	rows := []cliui.KV{
		{Key: "started", Value: st.StartedAt.Local().Format(time.DateTime)},
		{Key: "took", Value: cliui.FormatDuration(st.Took)},
		{Key: "scanned", Value: strconv.Itoa(st.Scanned)},
	}
	for _, to := range slices.Sorted(maps.Keys(st.Transitions)) {
		rows = append(rows, cliui.KV{Key: "-> " + to, Value: strconv.Itoa(st.Transitions[to])})
	}
	rows = append(rows,
		cliui.KV{Key: "purged", Value: strconv.Itoa(st.Purged)},
		cliui.KV{Key: "slices evicted", Value: strconv.Itoa(st.SlicesEvicted)},
		cliui.KV{Key: "errors", Value: strconv.Itoa(st.Errors)},
	)
	fmt.Fprintln(w)
	cliui.KeyValues(w, rows)
	fmt.Fprintln(w)
}
