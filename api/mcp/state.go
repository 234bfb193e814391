package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/state"
)

// Documents and slices carry arbitrary JSON, so the state tools declare no
// output schema.
var (
	stateGetToolName    = "state_get"
	stateGetDescription = "Read a versioned shared document. Returns the current version unless a version is given."

	stateSliceToolName    = "state_slice"
	stateSliceDescription = "Read the leaves of a shared document matching a colon separated glob pattern such as tasks:*:status. Prefer this over state_get for large documents."
)

// StateGetInput represents the input arguments for the state_get tool.
type StateGetInput struct {
	Tenant  string `json:"tenant" jsonschema:"the tenant owning the stream"`
	Stream  string `json:"stream" jsonschema:"the stream id"`
	Version int64  `json:"version,omitempty" jsonschema:"the version to read (default: current)"`
}

// StateSliceInput represents the input arguments for the state_slice tool.
type StateSliceInput struct {
	Tenant  string `json:"tenant" jsonschema:"the tenant owning the stream"`
	Stream  string `json:"stream" jsonschema:"the stream id"`
	Pattern string `json:"pattern" jsonschema:"colon separated glob pattern, one segment per level"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of entries (default: all)"`
	Version int64  `json:"version,omitempty" jsonschema:"the version to read (default: current)"`
}

func (s *Server) handleStateGet(ctx context.Context, _ *mcp.CallToolRequest, input StateGetInput) (*mcp.CallToolResult, any, error) {
	if input.Tenant == "" || input.Stream == "" {
		return toolError("tenant and stream are required"), nil, nil
	}

	ctx = governance.WithCaller(ctx, governance.Caller{ID: "mcp"})
	doc, err := s.config.Docs.GetState(ctx, state.StreamKey{Tenant: input.Tenant, Stream: input.Stream}, input.Version)
	if err != nil {
		s.logger.Debug("state_get failed", "tenant", input.Tenant, "stream", input.Stream, "error", err)
		return toolError("Failed to read state: %v", err), nil, nil
	}
	return toolResult(doc), doc, nil
}

func (s *Server) handleStateSlice(ctx context.Context, _ *mcp.CallToolRequest, input StateSliceInput) (*mcp.CallToolResult, any, error) {
	if input.Tenant == "" || input.Stream == "" {
		return toolError("tenant and stream are required"), nil, nil
	}
	if input.Pattern == "" {
		return toolError("pattern is required"), nil, nil
	}

	key := state.StreamKey{Tenant: input.Tenant, Stream: input.Stream}
	slice, err := s.config.Docs.Slice(ctx, key, input.Version, input.Pattern, input.Limit)
	if err != nil {
		s.logger.Debug("state_slice failed", "tenant", input.Tenant, "stream", input.Stream, "pattern", input.Pattern, "error", err)
		return toolError("Failed to slice state: %v", err), nil, nil
	}
	return toolResult(slice), slice, nil
}
