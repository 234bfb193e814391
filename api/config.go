// Package api provides the HTTP API server for document state, memory
// records and scheduling.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/memlayer/pkg/docstore"
	"github.com/papercomputeco/memlayer/pkg/lifecycle"
	"github.com/papercomputeco/memlayer/pkg/recordstore"
	"github.com/papercomputeco/memlayer/pkg/scheduler"
	"github.com/papercomputeco/memlayer/pkg/slicecache"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	Docs      *docstore.Store
	Records   *recordstore.Store
	Scheduler *scheduler.Scheduler

	// Lifecycle enables POST /v1/admin/lifecycle/sweep. Optional.
	Lifecycle *lifecycle.Manager

	// Cache enables GET /v1/admin/cache/stats. Optional.
	Cache slicecache.Cache

	// Gatherer is served on /metrics. Optional.
	Gatherer prometheus.Gatherer

	// MCP is mounted on /mcp. Optional.
	MCP http.Handler

	Logger *slog.Logger
}
