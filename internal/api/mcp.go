package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/caplog/internal/export"
	"github.com/kalambet/caplog/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Exporter  *export.Exporter
	ExportDir string
}

// NewMCPServer creates an MCP server exposing recorded sessions.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"caplog",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("caplog: recorded caption and speech transcripts, searchable by session."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List recorded sessions, most recent first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 10)")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_transcript",
			mcp.WithDescription("Return the transcript of a session as plain text or JSON."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("format", mcp.Description("text (default) or json")),
			mcp.WithBoolean("timestamps", mcp.Description("Prefix lines with [HH:MM:SS] in text format")),
		),
		mcpGetTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("export_session",
			mcp.WithDescription("Write a session export file (txt, md, json, csv, srt, report or all) and return the paths."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithString("format", mcp.Description("Export format"), mcp.Required()),
		),
		mcpExportSession(deps),
	)

	s.AddTool(
		mcp.NewTool("session_report",
			mcp.WithDescription("Return the Markdown summary report of a session: statistics, top words and confidence distribution."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
		),
		mcpSessionReport(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sessions://recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Last 10 sessions with status and entry counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func notFoundOr(err error, action string) *mcp.CallToolResult {
	if errors.Is(err, storage.ErrNotFound) {
		return mcpError("session not found")
	}
	return mcpError(fmt.Sprintf("%s failed: %v", action, err))
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		sessions, err := deps.Store.ListSessions(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sessions failed: %v", err)), nil
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}

		b, err := json.Marshal(sessions)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		switch strings.ToLower(req.GetString("format", "text")) {
		case "json":
			entries, err := deps.Store.GetTranscript(id)
			if err != nil {
				return notFoundOr(err, "reading transcript"), nil
			}
			if entries == nil {
				entries = []storage.TranscriptEntry{}
			}
			b, err := json.Marshal(entries)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal transcript: %v", err)), nil
			}
			return mcpText(string(b)), nil
		case "text", "txt":
			out, err := deps.Exporter.Render(id, export.FormatText, export.Options{
				IncludeTimestamps: req.GetBool("timestamps", false),
			})
			if err != nil {
				return notFoundOr(err, "rendering transcript"), nil
			}
			return mcpText(string(out)), nil
		default:
			return mcpError("format must be text or json"), nil
		}
	}
}

func mcpExportSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		name, err := req.RequireString("format")
		if err != nil {
			return mcpError("format is required"), nil
		}

		var paths map[export.Format]string
		if strings.EqualFold(name, "all") {
			paths, err = deps.Exporter.ExportAll(ctx, id, deps.ExportDir)
			if err != nil {
				return notFoundOr(err, "export"), nil
			}
		} else {
			format, err := export.ParseFormat(name)
			if err != nil {
				return mcpError(err.Error()), nil
			}
			path, err := deps.Exporter.ExportInto(ctx, id, format, deps.ExportDir, export.Options{IncludeTimestamps: true})
			if err != nil {
				return notFoundOr(err, "export"), nil
			}
			paths = map[export.Format]string{format: path}
		}

		var b strings.Builder
		for _, f := range export.Formats {
			if p, ok := paths[f]; ok {
				fmt.Fprintf(&b, "%s: %s\n", f, p)
			}
		}
		return mcpText(strings.TrimRight(b.String(), "\n")), nil
	}
}

func mcpSessionReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		out, err := deps.Exporter.Render(id, export.FormatReport, export.Options{})
		if err != nil {
			return notFoundOr(err, "rendering report"), nil
		}
		return mcpText(string(out)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Store.ListSessions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		type sessionSummary struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			StartTime  string `json:"start_time"`
			Status     string `json:"status"`
			EntryCount int    `json:"entry_count"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, s := range sessions {
			n, err := deps.Store.CountEntries(s.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to count entries for %s: %w", s.ID, err)
			}
			title := s.Title
			if utf8.RuneCountInString(title) > 120 {
				title = string([]rune(title)[:120]) + "..."
			}
			summaries[i] = sessionSummary{
				ID:         s.ID,
				Title:      title,
				StartTime:  s.StartTime.Format(time.RFC3339),
				Status:     string(s.Status),
				EntryCount: n,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
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
