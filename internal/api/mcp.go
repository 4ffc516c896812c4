package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/queue"
	"github.com/swipeapply/applyd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Queue    *queue.Queue
	Profile  *profile.Manager
	Attempts AttemptLister
}

// NewMCPServer creates an MCP server with all applyd tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"applyd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("applyd is a local job application queue: enqueue postings, track attempt outcomes, and manage the applicant profile."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("enqueue_application",
			mcp.WithDescription("Queue a job posting for automated application. Re-queuing an existing job_id replaces it."),
			mcp.WithString("job_id", mcp.Description("Stable identifier for the posting"), mcp.Required()),
			mcp.WithString("apply_url", mcp.Description("URL of the application form"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Job title")),
			mcp.WithString("company", mcp.Description("Company name")),
		),
		mcpEnqueueApplication(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("List every queued application with its current status."),
		),
		mcpQueueStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile_field",
			mcp.WithDescription("Update one applicant profile field."),
			mcp.WithString("key", mcp.Description("Profile field key (e.g. identity.email)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetProfileField(deps),
	)

	s.AddTool(
		mcp.NewTool("application_result",
			mcp.WithDescription("Return the record and attempt history for one application."),
			mcp.WithString("job_id", mcp.Description("Job identifier"), mcp.Required()),
		),
		mcpApplicationResult(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"applyd://profile",
			"Applicant Profile",
			mcp.WithResourceDescription("Current applicant profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"applyd://queue",
			"Application Queue",
			mcp.WithResourceDescription("All application records in queue order"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceQueue(deps),
	)

	return s
}

func mcpEnqueueApplication(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		applyURL, err := req.RequireString("apply_url")
		if err != nil {
			return mcpError("apply_url is required"), nil
		}

		applied, err := deps.Queue.HasApplied(jobID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to check applied list: %v", err)), nil
		}
		if applied {
			return mcpError(fmt.Sprintf("already applied to job %s", jobID)), nil
		}

		p, err := deps.Profile.Get()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}

		job := queue.Job{
			Title:    req.GetString("title", ""),
			Company:  req.GetString("company", ""),
			ApplyURL: applyURL,
		}
		if err := deps.Queue.Enqueue(jobID, job, &p); err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued application %s", jobID)), nil
	}
}

func mcpQueueStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := deps.Queue.List()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list queue: %v", err)), nil
		}

		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		type recordSummary struct {
			JobID   string `json:"job_id"`
			Title   string `json:"title,omitempty"`
			Company string `json:"company,omitempty"`
			Status  string `json:"status"`
			Error   string `json:"error,omitempty"`
		}

		summaries := make([]recordSummary, len(records))
		for i, rec := range records {
			summaries[i] = recordSummary{
				JobID:   rec.JobID,
				Title:   rec.Job.Title,
				Company: rec.Job.Company,
				Status:  rec.Status,
				Error:   rec.Error,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal queue: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpSetProfileField(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Profile.SetField(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set field: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpApplicationResult(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		rec, err := deps.Queue.Get(jobID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get record: %v", err)), nil
		}

		attempts, err := deps.Attempts.ListAttempts(100)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list attempts: %v", err)), nil
		}
		var jobAttempts []storage.Attempt
		for _, a := range attempts {
			if a.JobID == jobID {
				jobAttempts = append(jobAttempts, a)
			}
		}

		result := map[string]any{
			"record":   rec,
			"attempts": jobAttempts,
		}
		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceQueue(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Queue.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list queue: %w", err)
		}

		b, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
