package api

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/recordstore"
	"github.com/papercomputeco/memlayer/pkg/scheduler"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// LinkRequest is the body of POST /v1/memories/:id/links.
type LinkRequest struct {
	TaskID string `json:"task_id"`
}

// ListResponse is returned by GET /v1/memories.
type ListResponse struct {
	Count   int               `json:"count"`
	Records []*memcube.Record `json:"records"`
}

// VersionsResponse is returned by GET /v1/memories/:id/versions.
type VersionsResponse struct {
	ID       string            `json:"id"`
	Versions []memcube.Payload `json:"versions"`
}

// handleSchedule handles POST /v1/memories/schedule
func (s *Server) handleSchedule(c *fiber.Ctx) error {
	var req scheduler.Request
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	res, err := s.config.Scheduler.Schedule(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

// handleCreateMemory handles POST /v1/memories
func (s *Server) handleCreateMemory(c *fiber.Ctx) error {
	var req recordstore.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	r, err := s.config.Records.Create(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

// handleGetMemory handles GET /v1/memories/:id
func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	r, err := s.config.Records.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(r)
}

// handleUpdateMemory handles PUT /v1/memories/:id
func (s *Server) handleUpdateMemory(c *fiber.Ctx) error {
	var req recordstore.UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}

	r, err := s.config.Records.Update(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(r)
}

// handleDeleteMemory handles DELETE /v1/memories/:id. The record is
// archived; with ?purge=true an expired record is removed for good.
func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	id := c.Params("id")

	if c.QueryBool("purge") {
		if err := s.config.Records.Purge(c.UserContext(), id); err != nil {
			return s.fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}

	r, err := s.config.Records.Archive(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(r)
}

// handleMemoryVersions handles GET /v1/memories/:id/versions
func (s *Server) handleMemoryVersions(c *fiber.Ctx) error {
	id := c.Params("id")
	versions, err := s.config.Records.History(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(VersionsResponse{ID: id, Versions: versions})
}

// handleLinkTask handles POST /v1/memories/:id/links
func (s *Server) handleLinkTask(c *fiber.Ctx) error {
	var req LinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid request body: %v", err))
	}
	if strings.TrimSpace(req.TaskID) == "" {
		return badRequest(c, "task_id is required")
	}

	r, err := s.config.Records.LinkTask(c.UserContext(), c.Params("id"), req.TaskID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(r)
}

// handleListMemories handles GET /v1/memories
// Query parameters:
//   - project_id (optional): only records of this project
//   - lifecycle (optional, repeatable or comma separated)
//   - priority (optional, repeatable or comma separated)
//   - limit (optional, default unbounded)
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	q := storage.RecordQuery{ProjectID: c.Query("project_id")}

	for _, l := range queryList(c, "lifecycle") {
		lc := memcube.Lifecycle(l)
		if !lc.Valid() {
			return badRequest(c, fmt.Sprintf("unknown lifecycle %q", l))
		}
		q.Lifecycles = append(q.Lifecycles, lc)
	}
	for _, p := range queryList(c, "priority") {
		pr := memcube.Priority(p)
		if !slices.Contains([]memcube.Priority{memcube.PriorityHot, memcube.PriorityWarm, memcube.PriorityCold}, pr) {
			return badRequest(c, fmt.Sprintf("unknown priority %q", p))
		}
		q.Priorities = append(q.Priorities, pr)
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		q.Limit = n
	}

	recs, err := s.config.Records.List(c.UserContext(), q)
	if err != nil {
		return s.fail(c, err)
	}
	if recs == nil {
		recs = []*memcube.Record{}
	}
	return c.JSON(ListResponse{Count: len(recs), Records: recs})
}

// queryList collects a query parameter given either repeatedly or as a
// comma separated list.
func queryList(c *fiber.Ctx, name string) []string {
	var out []string
	for _, raw := range c.Context().QueryArgs().PeekMulti(name) {
		for v := range strings.SplitSeq(string(raw), ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
