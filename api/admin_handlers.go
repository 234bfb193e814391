package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memlayer/pkg/lifecycle"
	"github.com/papercomputeco/memlayer/pkg/memcube"
)

// SweepResponse reports one manual lifecycle sweep.
type SweepResponse struct {
	lifecycle.Report
	Changed int `json:"changed"`
}

// handleSweep handles POST /v1/admin/lifecycle/sweep
func (s *Server) handleSweep(c *fiber.Ctx) error {
	if s.config.Lifecycle == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "lifecycle manager is not configured",
		})
	}

	report, err := s.config.Lifecycle.SweepOnce(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if report.Transitions == nil {
		report.Transitions = map[memcube.Lifecycle]int{}
	}
	return c.JSON(SweepResponse{Report: report, Changed: report.Changed()})
}

// handleCacheStats handles GET /v1/admin/cache/stats
func (s *Server) handleCacheStats(c *fiber.Ctx) error {
	if s.config.Cache == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "slice cache is not configured",
		})
	}

	stats, err := s.config.Cache.Stats(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(stats)
}
