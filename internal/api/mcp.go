package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/greenworks/execdash/internal/aggregate"
	"github.com/greenworks/execdash/internal/ingest"
	"github.com/greenworks/execdash/internal/storage"
)

// MCPStore is the ledger and queue surface the MCP tools need.
type MCPStore interface {
	ingest.JobStore
	ListRuns(ctx context.Context, f storage.RunFilter) ([]storage.EtlRun, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     MCPStore
	Sweeper   ingest.Sweeper
	Dashboard Dashboard // optional; without it get_dashboard_metrics errors
}

// NewMCPServer creates an MCP server with the ETL and dashboard tools
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"execdash",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("execdash: Greenworks executive dashboard. Run ETL sweeps, inspect the run ledger and read dashboard metrics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_sweep",
			mcp.WithDescription("Pull records from the upstream sources into the canonical store and record the run in the ETL ledger."),
			mcp.WithString("source", mcp.Description("calls, leads, inspections or all (default all)")),
			mcp.WithBoolean("async", mcp.Description("Queue the sweep for the background worker instead of waiting for it")),
		),
		mcpRunSweep(deps),
	)

	s.AddTool(
		mcp.NewTool("list_etl_runs",
			mcp.WithDescription("List ETL ledger rows, newest first."),
			mcp.WithString("source", mcp.Description("Filter by source (calls, leads, inspections, all)")),
			mcp.WithString("status", mcp.Description("Filter by status (running, success, failed)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 10)")),
		),
		mcpListRuns(deps),
	)

	s.AddTool(
		mcp.NewTool("get_dashboard_metrics",
			mcp.WithDescription("Read the cached dashboard metrics for one group or all of them."),
			mcp.WithString("group", mcp.Description("calls, botCalls, inspections or all (default all)")),
		),
		mcpDashboardMetrics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"etl://runs/recent",
			"Recent ETL Runs",
			mcp.WithResourceDescription("Last 10 ETL ledger rows as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpRunSweep(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scope, err := ingest.ParseScope(req.GetString("source", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if req.GetBool("async", false) {
			id, err := ingest.EnqueueSweep(ctx, deps.Store, scope, time.Time{})
			if err != nil {
				return mcpError(fmt.Sprintf("failed to queue sweep: %v", err)), nil
			}
			return mcpText(fmt.Sprintf("Queued %s sweep as job %s", scope, id)), nil
		}

		res, err := deps.Sweeper.Sweep(context.WithoutCancel(ctx), scope)
		if errors.Is(err, storage.ErrRunInProgress) {
			return mcpError(fmt.Sprintf("a %s sweep is already running", scope)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("sweep failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpListRuns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		filter := storage.RunFilter{Status: req.GetString("status", ""), Limit: limit}
		if s := req.GetString("source", ""); s != "" {
			scope, err := ingest.ParseScope(s)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			filter.Source = scope
		}

		runs, err := deps.Store.ListRuns(ctx, filter)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list runs: %v", err)), nil
		}
		if len(runs) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(runs)
	}
}

func mcpDashboardMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Dashboard == nil {
			return mcpError("dashboard metrics not available"), nil
		}
		key, err := aggregate.ParseKey(req.GetString("group", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		if key == aggregate.KeyAll {
			m, err := deps.Dashboard.All(ctx)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to load metrics: %v", err)), nil
			}
			return mcpJSON(m)
		}
		res, err := deps.Dashboard.Group(ctx, key)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load %s metrics: %v", key, err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.ListRuns(ctx, storage.RunFilter{Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if runs == nil {
			runs = []storage.EtlRun{}
		}

		b, err := json.Marshal(runs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
