package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/logger"
)

const (
	// HeaderCaller names the calling agent or user.
	HeaderCaller = "X-Memlayer-Caller"

	// HeaderRoles carries the caller's comma separated roles.
	HeaderRoles = "X-Memlayer-Roles"
)

// Server is the API server for the memory layer.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server. The stores are injected so they can
// be shared with the lifecycle manager and the MCP server.
func NewServer(config Config) (*Server, error) {
	if config.Docs == nil || config.Records == nil || config.Scheduler == nil {
		return nil, errors.New("api server requires a document store, a record store and a scheduler")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
		},
	})

	s := &Server{
		config: config,
		logger: logger.OrNop(config.Logger).With("component", "api"),
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	if config.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})))
	}
	if config.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCP))
	}

	v1 := app.Group("/v1", s.withCaller)

	v1.Get("/state/:tenant/:stream", s.handleGetState)
	v1.Post("/state/:tenant/:stream/delta", s.handleApplyDelta)
	v1.Get("/state/:tenant/:stream/slice", s.handleSlice)
	v1.Get("/state/:tenant/:stream/history", s.handleStateHistory)

	v1.Post("/memories/schedule", s.handleSchedule)
	v1.Post("/memories", s.handleCreateMemory)
	v1.Get("/memories", s.handleListMemories)
	v1.Get("/memories/:id", s.handleGetMemory)
	v1.Put("/memories/:id", s.handleUpdateMemory)
	v1.Delete("/memories/:id", s.handleDeleteMemory)
	v1.Get("/memories/:id/versions", s.handleMemoryVersions)
	v1.Post("/memories/:id/links", s.handleLinkTask)

	v1.Post("/admin/lifecycle/sweep", s.handleSweep)
	v1.Get("/admin/cache/stats", s.handleCacheStats)

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// withCaller moves the caller headers into the request context.
func (s *Server) withCaller(c *fiber.Ctx) error {
	caller := governance.Caller{
		ID:    c.Get(HeaderCaller),
		Roles: governance.ParseRoles(c.Get(HeaderRoles)),
	}
	if caller.ID == "" {
		caller.ID = "anonymous"
	}
	c.SetUserContext(governance.WithCaller(c.UserContext(), caller))
	return c.Next()
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}
