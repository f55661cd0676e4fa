package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/caplog/internal/export"
	"github.com/kalambet/caplog/internal/storage"
	"github.com/kalambet/caplog/internal/textproc"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:     store,
		Exporter:  export.NewExporter(store, export.WithLocation(time.UTC)),
		ExportDir: t.TempDir(),
	}, store
}

// seedSession stores a completed session with the given lines.
func seedSession(t *testing.T, store *storage.Store, title string, lines ...string) string {
	t.Helper()
	id, err := store.CreateSession(title, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	p := textproc.New()
	for _, line := range lines {
		e, ok := p.Accept(textproc.Result{Text: line, Confidence: 92})
		if !ok {
			t.Fatalf("line %q rejected", line)
		}
		if err := store.SaveEntry(id, e); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}
	if err := store.EndSession(id); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	return id
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

var mcpLines = []string{
	"Good morning everyone",
	"Today we discuss the budget",
	"Questions are welcome at the end",
}

// --- tests ---

func TestMCPTool_ListSessions(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedSession(t, store, "First", mcpLines[0])
	seedSession(t, store, "Second", mcpLines[1])

	result := callTool(t, mcpListSessions(deps), "list_sessions", map[string]interface{}{"limit": 1})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var sessions []storage.Session
	if err := json.Unmarshal([]byte(toolText(t, result)), &sessions); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "Second" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestMCPTool_ListSessions_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result := callTool(t, mcpListSessions(deps), "list_sessions", nil)
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_GetTranscript(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	id := seedSession(t, store, "Demo", mcpLines...)
	h := mcpGetTranscript(deps)

	result := callTool(t, h, "get_transcript", map[string]interface{}{"session_id": id})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if !strings.HasPrefix(text, "Transcript: Demo\n") {
		t.Errorf("text transcript:\n%s", text)
	}
	for _, line := range mcpLines {
		if !strings.Contains(text, line) {
			t.Errorf("transcript missing %q", line)
		}
	}

	result = callTool(t, h, "get_transcript", map[string]interface{}{"session_id": id, "format": "json"})
	var entries []storage.TranscriptEntry
	if err := json.Unmarshal([]byte(toolText(t, result)), &entries); err != nil {
		t.Fatalf("failed to parse json transcript: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestMCPTool_GetTranscript_Errors(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	id := seedSession(t, store, "Demo", mcpLines[0])
	h := mcpGetTranscript(deps)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing id", map[string]interface{}{}, "session_id is required"},
		{"unknown session", map[string]interface{}{"session_id": "nope"}, "session not found"},
		{"bad format", map[string]interface{}{"session_id": id, "format": "xml"}, "format must be text or json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, h, "get_transcript", tt.args)
			if !result.IsError {
				t.Fatal("expected IsError")
			}
			if got := toolText(t, result); got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMCPTool_ExportSession(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	id := seedSession(t, store, "Demo", mcpLines...)
	h := mcpExportSession(deps)

	result := callTool(t, h, "export_session", map[string]interface{}{"session_id": id, "format": "srt"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	path, ok := strings.CutPrefix(text, "srt: ")
	if !ok {
		t.Fatalf("unexpected response: %s", text)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if !strings.HasPrefix(string(data), "1\n") {
		t.Errorf("srt export:\n%s", data)
	}

	result = callTool(t, h, "export_session", map[string]interface{}{"session_id": id, "format": "all"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if lines := strings.Split(toolText(t, result), "\n"); len(lines) != len(export.Formats) {
		t.Errorf("export all listed %d paths, want %d", len(lines), len(export.Formats))
	}

	result = callTool(t, h, "export_session", map[string]interface{}{"session_id": id, "format": "docx"})
	if !result.IsError {
		t.Error("expected IsError for unknown format")
	}
	result = callTool(t, h, "export_session", map[string]interface{}{"session_id": "nope", "format": "txt"})
	if !result.IsError || toolText(t, result) != "session not found" {
		t.Errorf("unknown session result = %s", toolText(t, result))
	}
}

func TestMCPTool_ExportSessionUsesExporterClock(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	fixed := time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC)
	deps.Exporter = export.NewExporter(store,
		export.WithLocation(time.UTC),
		export.WithClock(func() time.Time { return fixed }))
	id := seedSession(t, store, "Demo", mcpLines...)

	result := callTool(t, mcpExportSession(deps), "export_session", map[string]interface{}{"session_id": id, "format": "txt"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	want := "txt: " + filepath.Join(deps.ExportDir, "Demo_20250301_123045.txt")
	if got := toolText(t, result); got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestMCPTool_SessionReport(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	id := seedSession(t, store, "Demo", mcpLines...)

	result := callTool(t, mcpSessionReport(deps), "session_report", map[string]interface{}{"session_id": id})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	for _, want := range []string{"# Session Summary Report", "- **Transcript lines:** 3", "## Top Words"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedSession(t, store, "Demo", mcpLines...)

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("sessions://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "sessions://recent" || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}

	var got []struct {
		Title      string `json:"title"`
		Status     string `json:"status"`
		EntryCount int    `json:"entry_count"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &got); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(got) != 1 || got[0].EntryCount != 3 || got[0].Status != "completed" {
		t.Errorf("recent = %+v", got)
	}
}
