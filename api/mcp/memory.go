package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/scheduler"
	"github.com/papercomputeco/memlayer/pkg/utils"
)

const previewLen = 280

var (
	scheduleToolName    = "memory_schedule"
	scheduleDescription = "Select the memory records most relevant to a task, ranked and packed into a token budget. Returns record ids, labels, scores and token counts."

	memoryGetToolName    = "memory_get"
	memoryGetDescription = "Fetch one memory record by id, including its content."
)

// ScheduleInput represents the input arguments for the memory_schedule tool.
type ScheduleInput struct {
	AgentID     string   `json:"agent_id,omitempty" jsonschema:"the calling agent"`
	TaskID      string   `json:"task_id,omitempty" jsonschema:"the task the working set is for"`
	ProjectID   string   `json:"project_id" jsonschema:"the project to draw records from"`
	TagsNeeded  []string `json:"tags_needed,omitempty" jsonschema:"tags the task is about"`
	TokenBudget *int     `json:"token_budget,omitempty" jsonschema:"maximum total tokens (default: server budget)"`
	PreferHot   bool     `json:"prefer_hot,omitempty" jsonschema:"only consider hot and warm records"`
	Query       string   `json:"query,omitempty" jsonschema:"free text used for semantic scoring"`
	Roles       []string `json:"roles,omitempty" jsonschema:"roles of the calling agent"`
}

// MemoryGetInput represents the input arguments for the memory_get tool.
type MemoryGetInput struct {
	ID    string   `json:"id" jsonschema:"the record id"`
	Roles []string `json:"roles,omitempty" jsonschema:"roles of the calling agent"`
	Full  bool     `json:"full,omitempty" jsonschema:"return the whole content instead of a preview"`
}

// MemoryGetOutput is the structured output of the memory_get tool.
type MemoryGetOutput struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Priority string   `json:"priority"`
	Version  int      `json:"version"`
	Tasks    []string `json:"tasks,omitempty"`
	Content  string   `json:"content"`
}

func (s *Server) handleSchedule(ctx context.Context, _ *mcp.CallToolRequest, input ScheduleInput) (*mcp.CallToolResult, *scheduler.Result, error) {
	if input.ProjectID == "" {
		return toolError("project_id is required"), nil, nil
	}

	ctx = governance.WithCaller(ctx, governance.Caller{ID: callerID(input.AgentID), Roles: input.Roles})
	res, err := s.config.Scheduler.Schedule(ctx, scheduler.Request{
		AgentID:     input.AgentID,
		TaskID:      input.TaskID,
		ProjectID:   input.ProjectID,
		TagsNeeded:  input.TagsNeeded,
		TokenBudget: input.TokenBudget,
		PreferHot:   input.PreferHot,
		Query:       input.Query,
	})
	if err != nil {
		s.logger.Error("failed to schedule", "project", input.ProjectID, "error", err)
		return toolError("Failed to schedule memory: %v", err), nil, nil
	}
	return toolResult(res), res, nil
}

func (s *Server) handleMemoryGet(ctx context.Context, _ *mcp.CallToolRequest, input MemoryGetInput) (*mcp.CallToolResult, *MemoryGetOutput, error) {
	if input.ID == "" {
		return toolError("id is required"), nil, nil
	}

	ctx = governance.WithCaller(ctx, governance.Caller{ID: "mcp", Roles: input.Roles})
	r, err := s.config.Records.Get(ctx, input.ID)
	if err != nil {
		return toolError("Failed to get memory: %v", err), nil, nil
	}

	content := r.Payload.Content
	if !input.Full {
		content = utils.Truncate(content, previewLen)
	}
	out := &MemoryGetOutput{
		ID:       r.ID,
		Label:    r.Label,
		Priority: string(r.Priority),
		Version:  r.Version,
		Tasks:    r.Tasks,
		Content:  content,
	}
	return toolResult(out), out, nil
}

func callerID(agent string) string {
	if agent == "" {
		return "mcp"
	}
	return agent
}
