// Package servecmder provides the serve command, which runs the API server
// together with the scheduled lifecycle sweeps.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/memlayer/cmd/memlayer/stack"
	sweepcmder "github.com/papercomputeco/memlayer/cmd/memlayer/sweep"
	"github.com/papercomputeco/memlayer/pkg/config"
	"github.com/papercomputeco/memlayer/pkg/lifecycle"
	"github.com/papercomputeco/memlayer/pkg/logger"
)

type ServeCommander struct {
	listen          string
	storageProvider string
	sqlitePath      string
	postgresDSN     string
	cacheProvider   string
	redisURL        string
	blobProvider    string
	blobEndpoint    string
	embeddingProv   string
	embeddingTarget string
	embeddingModel  string
	eventsProvider  string
	defaultBudget   int
	purgeExpired    bool
	mcp             bool

	configDir string
	debug     bool
	viper     *viper.Viper
	logger    *slog.Logger
}

const serveLongDesc string = `Run the memlayer API server.

The server exposes the document store, memory records and the relevance
scheduler over HTTP under /v1, Prometheus metrics under /metrics and, when
enabled, an MCP endpoint under /mcp. Lifecycle sweeps run on the configured
interval in the background.

Settings come from flags, MEMLAYER_* environment variables and config.toml
in the .memlayer/ directory, in that order of precedence. Edits to the TTLs
and lifecycle policy in config.toml are applied without a restart.`

const serveShortDesc string = "Run the memlayer API server"

var serveFlags = []string{
	config.FlagListen,
	config.FlagStorageProvider,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagCacheProvider,
	config.FlagRedisURL,
	config.FlagBlobProvider,
	config.FlagBlobEndpoint,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEventsProvider,
	config.FlagDefaultBudget,
	config.FlagPurgeExpired,
	config.FlagMCP,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.viper, err = config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(cmder.viper, cmd, config.Flags, serveFlags)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagCacheProvider, &cmder.cacheProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedisURL, &cmder.redisURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagBlobProvider, &cmder.blobProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagBlobEndpoint, &cmder.blobEndpoint)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embeddingProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embeddingTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embeddingModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsProvider, &cmder.eventsProvider)
	config.AddIntFlag(cmd, config.Flags, config.FlagDefaultBudget, &cmder.defaultBudget)
	config.AddBoolFlag(cmd, config.Flags, config.FlagPurgeExpired, &cmder.purgeExpired)
	config.AddBoolFlag(cmd, config.Flags, config.FlagMCP, &cmder.mcp)

	return cmd
}

func (c *ServeCommander) run(parent context.Context) error {
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := stack.Build(ctx, cfg, stack.Options{
		Logger:  c.logger,
		OnSweep: c.recordSweep,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	server, err := s.APIServer()
	if err != nil {
		return err
	}

	if err := s.Lifecycle.Start(); err != nil {
		return err
	}
	defer s.Lifecycle.Stop()

	c.logger.Info("starting API server",
		"listen", cfg.API.Listen,
		"storage", cfg.Storage.Provider,
		"cache", cfg.Cache.Provider,
		"mcp", cfg.MCP.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Run(); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutting down")
		return server.Shutdown()
	})

	if path := config.ConfigFile(c.viper); path != "" {
		g.Go(func() error {
			err := config.Watch(gctx, path, c.logger, s.Reload)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("config watch stopped", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// recordSweep persists the latest sweep so "memlayer sweep --last" can show it.
func (c *ServeCommander) recordSweep(r lifecycle.Report) {
	if err := sweepcmder.SaveReport(r, c.configDir); err != nil {
		c.logger.Debug("could not save sweep state", "error", err)
	}
}
