package api

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memlayer/pkg/docstore"
	"github.com/papercomputeco/memlayer/pkg/state"
)

// DeltaResponse is returned for a committed delta list.
type DeltaResponse struct {
	Version       int64  `json:"version"`
	ParentVersion *int64 `json:"parent_version,omitempty"`
}

// HistoryResponse lists the version headers of a stream, newest first.
type HistoryResponse struct {
	Tenant   string         `json:"tenant"`
	StreamID string         `json:"stream_id"`
	Versions []state.Header `json:"versions"`
}

func streamKey(c *fiber.Ctx) state.StreamKey {
	return state.StreamKey{Tenant: c.Params("tenant"), Stream: c.Params("stream")}
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *fiber.Ctx, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// handleGetState handles GET /v1/state/:tenant/:stream?version=
func (s *Server) handleGetState(c *fiber.Ctx) error {
	version, err := queryInt(c, "version")
	if err != nil {
		return badRequest(c, err.Error())
	}

	doc, err := s.config.Docs.GetState(c.UserContext(), streamKey(c), version)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(doc)
}

// handleApplyDelta handles POST /v1/state/:tenant/:stream/delta
func (s *Server) handleApplyDelta(c *fiber.Ctx) error {
	var req docstore.ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	doc, err := s.config.Docs.ApplyDelta(c.UserContext(), streamKey(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(DeltaResponse{
		Version:       doc.Version,
		ParentVersion: doc.ParentVersion,
	})
}

// handleSlice handles GET /v1/state/:tenant/:stream/slice?pattern=&limit=&version=
func (s *Server) handleSlice(c *fiber.Ctx) error {
	pattern := c.Query("pattern")
	if pattern == "" {
		return badRequest(c, "pattern parameter is required")
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, err.Error())
	}
	version, err := queryInt(c, "version")
	if err != nil {
		return badRequest(c, err.Error())
	}

	slice, err := s.config.Docs.Slice(c.UserContext(), streamKey(c), version, pattern, int(limit))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(slice)
}

// handleStateHistory handles GET /v1/state/:tenant/:stream/history?limit=
func (s *Server) handleStateHistory(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, err.Error())
	}

	key := streamKey(c)
	headers, err := s.config.Docs.History(c.UserContext(), key, int(limit))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(HistoryResponse{Tenant: key.Tenant, StreamID: key.Stream, Versions: headers})
}
