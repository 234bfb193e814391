package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/state"
	"github.com/papercomputeco/memlayer/pkg/storage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`

	// CurrentVersion is set on version conflicts so the caller can re-read
	// and resubmit.
	CurrentVersion *int64 `json:"current_version,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, storage.ErrVersionConflict):
		return fiber.StatusConflict
	case errors.Is(err, storage.ErrPayloadTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrAccessDenied):
		return fiber.StatusForbidden
	case errors.Is(err, state.ErrInvalidDelta),
		errors.Is(err, state.ErrBadPattern),
		errors.Is(err, memcube.ErrInvalidRecord),
		errors.Is(err, storage.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var conflict storage.VersionConflictError
	if errors.As(err, &conflict) {
		resp.CurrentVersion = &conflict.Current
	}
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}
