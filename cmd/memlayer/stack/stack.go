// Package stack assembles the memlayer components from a resolved config.
// The serve and sweep commands share it so both see the same storage,
// cache and lifecycle policy.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/memlayer/api"
	"github.com/papercomputeco/memlayer/api/mcp"
	"github.com/papercomputeco/memlayer/pkg/blob"
	blobinmemory "github.com/papercomputeco/memlayer/pkg/blob/inmemory"
	"github.com/papercomputeco/memlayer/pkg/blob/minio"
	"github.com/papercomputeco/memlayer/pkg/config"
	"github.com/papercomputeco/memlayer/pkg/docstore"
	embeddingutils "github.com/papercomputeco/memlayer/pkg/embeddings/utils"
	"github.com/papercomputeco/memlayer/pkg/eventstream"
	"github.com/papercomputeco/memlayer/pkg/eventstream/kafka"
	"github.com/papercomputeco/memlayer/pkg/eventstream/nop"
	"github.com/papercomputeco/memlayer/pkg/lifecycle"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/metrics"
	"github.com/papercomputeco/memlayer/pkg/recordstore"
	"github.com/papercomputeco/memlayer/pkg/scheduler"
	"github.com/papercomputeco/memlayer/pkg/slicecache"
	"github.com/papercomputeco/memlayer/pkg/slicecache/memory"
	"github.com/papercomputeco/memlayer/pkg/slicecache/redis"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/storage/inmemory"
	"github.com/papercomputeco/memlayer/pkg/storage/postgres"
	"github.com/papercomputeco/memlayer/pkg/storage/sqlite"
	"github.com/papercomputeco/memlayer/pkg/worker"
)

// Stack holds the wired components. Close releases them in reverse order
// of construction.
type Stack struct {
	Config    *config.Config
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Driver    storage.Driver
	Cache     slicecache.Cache
	Blobs     blob.Store
	Publisher eventstream.Publisher
	Pool      *worker.Pool
	Docs      *docstore.Store
	Records   *recordstore.Store
	Scheduler *scheduler.Scheduler
	Lifecycle *lifecycle.Manager

	logger  *slog.Logger
	closers []func() error
}

// Options tweaks Build.
type Options struct {
	Logger *slog.Logger

	// OnSweep is handed every lifecycle report.
	OnSweep func(lifecycle.Report)
}

// Build wires every component described by cfg. On error whatever was
// already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *Stack, err error) {
	s := &Stack{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		logger:   logger.OrNop(opts.Logger),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.Metrics = metrics.New(s.Registry)

	if s.Driver, err = s.newDriver(ctx); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Driver.Close)

	if s.Cache, err = s.newCache(ctx); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Cache.Close)

	if s.Blobs, err = s.newBlobStore(ctx); err != nil {
		return nil, err
	}

	if s.Publisher, err = s.newPublisher(); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Publisher.Close)

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	s.Pool, err = worker.NewPool(&worker.Config{
		NumWorkers: uint(max(cfg.Scheduler.AccessWorkers, 1)),
		QueueSize:  uint(max(cfg.Scheduler.AccessQueue, 1)),
		OnResult: func(job worker.Job, err error) {
			s.Metrics.JobFinished(job.Kind, err)
		},
		Logger: s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	s.closers = append(s.closers, func() error {
		s.Pool.Close()
		return nil
	})

	s.Docs = docstore.New(docstore.Config{
		Driver:    s.Driver,
		Cache:     s.Cache,
		SliceTTL:  cfg.Cache.SliceTTL.D(),
		Publisher: s.Publisher,
		Metrics:   s.Metrics,
		Logger:    s.logger,
	})

	s.Records = recordstore.New(recordstore.Config{
		Driver:       s.Driver,
		Blobs:        s.Blobs,
		FetchTimeout: cfg.Blob.FetchTimeout.D(),
		Embedder:     embedder,
		Pool:         s.Pool,
		Publisher:    s.Publisher,
		Metrics:      s.Metrics,
		Logger:       s.logger,
	})

	s.Scheduler, err = scheduler.New(scheduler.Config{
		Records:       s.Records,
		Embedder:      embedder,
		ResultTTL:     cfg.Scheduler.ResultTTL.D(),
		DefaultBudget: cfg.Scheduler.DefaultBudget,
		Pool:          s.Pool,
		Metrics:       s.Metrics,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	s.Lifecycle, err = lifecycle.New(lifecycle.Config{
		Driver:       s.Driver,
		Records:      s.Records,
		Cache:        s.Cache,
		Policy:       cfg.Lifecycle.Policy(),
		Interval:     cfg.Lifecycle.SweepInterval.D(),
		PurgeExpired: cfg.Lifecycle.PurgeExpired,
		OnSweep:      opts.OnSweep,
		Metrics:      s.Metrics,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating lifecycle manager: %w", err)
	}

	return s, nil
}

// APIServer builds the HTTP server over the stack, mounting the MCP
// endpoint when it is enabled.
func (s *Stack) APIServer() (*api.Server, error) {
	var mcpHandler *mcp.Server
	if s.Config.MCP.Enabled {
		var err error
		mcpHandler, err = mcp.NewServer(mcp.Config{
			Docs:      s.Docs,
			Scheduler: s.Scheduler,
			Records:   s.Records,
			Logger:    s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
	}

	c := api.Config{
		ListenAddr: s.Config.API.Listen,
		Docs:       s.Docs,
		Records:    s.Records,
		Scheduler:  s.Scheduler,
		Lifecycle:  s.Lifecycle,
		Cache:      s.Cache,
		Gatherer:   s.Registry,
		Logger:     s.logger,
	}
	if mcpHandler != nil {
		c.MCP = mcpHandler.Handler()
	}
	return api.NewServer(c)
}

// Reload applies the settings of cfg that can change without a restart.
func (s *Stack) Reload(cfg *config.Config) {
	s.Docs.SetSliceTTL(cfg.Cache.SliceTTL.D())
	s.Scheduler.SetResultTTL(cfg.Scheduler.ResultTTL.D())
	s.Lifecycle.SetPolicy(cfg.Lifecycle.Policy())
	s.logger.Info("configuration reloaded",
		"slice_ttl", cfg.Cache.SliceTTL.String(),
		"result_ttl", cfg.Scheduler.ResultTTL.String(),
	)
}

// Close releases every opened component.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) newDriver(ctx context.Context) (storage.Driver, error) {
	switch s.Config.Storage.Provider {
	case "sqlite":
		d, err := sqlite.NewDriver(ctx, s.Config.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		s.logger.Info("using SQLite storage", "path", s.Config.Storage.SQLitePath)
		return d, nil
	case "postgres":
		d, err := postgres.NewDriver(ctx, s.Config.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
		}
		s.logger.Info("using PostgreSQL storage")
		return d, nil
	default:
		s.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil
	}
}

func (s *Stack) newCache(ctx context.Context) (slicecache.Cache, error) {
	if s.Config.Cache.Provider == "redis" {
		c, err := redis.New(ctx, s.Config.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect slice cache: %w", err)
		}
		s.logger.Info("using redis slice cache")
		return c, nil
	}
	return memory.New(s.Config.Cache.SliceTTL.D(), s.Config.Cache.CleanupInterval.D()), nil
}

func (s *Stack) newBlobStore(ctx context.Context) (blob.Store, error) {
	if s.Config.Blob.Provider == "minio" {
		b, err := minio.New(ctx, minio.Config{
			Endpoint:  s.Config.Blob.Endpoint,
			Bucket:    s.Config.Blob.Bucket,
			AccessKey: s.Config.Blob.AccessKey,
			SecretKey: s.Config.Blob.SecretKey,
			UseSSL:    s.Config.Blob.UseSSL,
			Logger:    s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create blob store: %w", err)
		}
		s.logger.Info("using minio blob store", "endpoint", s.Config.Blob.Endpoint, "bucket", s.Config.Blob.Bucket)
		return b, nil
	}
	return blobinmemory.New(), nil
}

func (s *Stack) newPublisher() (eventstream.Publisher, error) {
	if s.Config.Events.Provider == "kafka" {
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: s.Config.Events.Brokers,
			Topic:   s.Config.Events.Topic,
			Logger:  s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		s.logger.Info("publishing events to kafka", "topic", s.Config.Events.Topic)
		return p, nil
	}
	return nop.NewPublisher(), nil
}
