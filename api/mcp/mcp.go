// Package mcp provides an MCP (Model Context Protocol) server that exposes
// document state and scheduled memory to agents.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/memlayer/pkg/docstore"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/recordstore"
	"github.com/papercomputeco/memlayer/pkg/scheduler"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/utils"
)

// StateReader reads versioned documents.
type StateReader interface {
	GetState(ctx context.Context, key state.StreamKey, version int64) (*state.Document, error)
	Slice(ctx context.Context, key state.StreamKey, version int64, pattern string, limit int) (*state.Slice, error)
}

// Scheduler assembles working sets.
type Scheduler interface {
	Schedule(ctx context.Context, req scheduler.Request) (*scheduler.Result, error)
}

// RecordReader reads a single memory record.
type RecordReader interface {
	Get(ctx context.Context, id string) (*memcube.Record, error)
}

var (
	_ StateReader  = (*docstore.Store)(nil)
	_ Scheduler    = (*scheduler.Scheduler)(nil)
	_ RecordReader = (*recordstore.Store)(nil)
)

type Config struct {
	Docs      StateReader
	Scheduler Scheduler

	// Records enables the memory_get tool. Optional.
	Records RecordReader

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	logger    *slog.Logger
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the state and memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
		logger: logger.OrNop(c.Logger).With("component", "mcp"),
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "memlayer",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Docs == nil {
			return nil, errors.New("document store is required")
		}
		if c.Scheduler == nil {
			return nil, errors.New("scheduler is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        stateGetToolName,
			Description: stateGetDescription,
		}, s.handleStateGet)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        stateSliceToolName,
			Description: stateSliceDescription,
		}, s.handleStateSlice)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        scheduleToolName,
			Description: scheduleDescription,
		}, s.handleSchedule)

		if c.Records != nil {
			mcp.AddTool(mcpServer, &mcp.Tool{
				Name:        memoryGetToolName,
				Description: memoryGetDescription,
			}, s.handleMemoryGet)
		}
	}

	s.mcpServer = mcpServer
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
