package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/caplog/internal/export"
	"github.com/kalambet/caplog/internal/recorder"
	"github.com/kalambet/caplog/internal/storage"
	"github.com/kalambet/caplog/internal/textproc"
)

// maxResultsPerRequest bounds one batch submission.
const maxResultsPerRequest = 500

type AppDeps struct {
	Store             *storage.Store
	Recorder          *recorder.Manager
	Exporter          *export.Exporter
	ExportDir         string
	IncludeTimestamps bool
	Token             string // empty disables auth
}

type CreateSessionRequest struct {
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata"`
}

type SessionResponse struct {
	storage.Session
	EntryCount int  `json:"entry_count"`
	Recording  bool `json:"recording"`
}

type ExportRequest struct {
	Format            string `json:"format"`
	IncludeTimestamps *bool  `json:"include_timestamps"`
}

type LiveResponse struct {
	SessionID string            `json:"session_id"`
	Summary   textproc.Snapshot `json:"summary"`
	Last      *textproc.Entry   `json:"last,omitempty"`
}

// NewAppHandler serves health and metrics unauthenticated and everything
// under /sessions behind the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/", handleCreateSession(deps))
		r.Get("/", handleListSessions(deps))
		r.Get("/{id}", handleGetSession(deps))
		r.Get("/{id}/transcript", handleGetTranscript(deps))
		r.Post("/{id}/results", handleSubmitResults(deps))
		r.Get("/{id}/live", handleLive(deps))
		r.Post("/{id}/attach", handleAttach(deps))
		r.Post("/{id}/end", handleEndSession(deps))
		r.Post("/{id}/exports", handleCreateExport(deps))
		r.Get("/{id}/exports", handleListExports(deps))
	})

	return r
}

func (d AppDeps) recording(id string) bool {
	if d.Recorder == nil {
		return false
	}
	for _, a := range d.Recorder.Active() {
		if a == id {
			return true
		}
	}
	return false
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var (
			id  string
			err error
		)
		if deps.Recorder != nil {
			id, err = deps.Recorder.Start(req.Title, req.Metadata)
		} else {
			title := strings.TrimSpace(req.Title)
			if title == "" {
				title = recorder.DefaultTitle(time.Now())
			}
			id, err = deps.Store.CreateSession(title, req.Metadata)
		}
		if err != nil {
			domainError(w, err, "create session")
			return
		}

		sess, err := deps.Store.GetSession(id)
		if err != nil {
			domainError(w, err, "get session")
			return
		}
		writeJSON(w, http.StatusCreated, SessionResponse{Session: sess, Recording: deps.recording(id)})
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20, 100)

		sessions, err := deps.Store.ListSessions(limit)
		if err != nil {
			domainError(w, err, "list sessions")
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sess, err := deps.Store.GetSession(id)
		if err != nil {
			domainError(w, err, "get session")
			return
		}
		n, err := deps.Store.CountEntries(id)
		if err != nil {
			domainError(w, err, "count entries")
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{Session: sess, EntryCount: n, Recording: deps.recording(id)})
	}
}

func handleGetTranscript(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.GetTranscript(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err, "get transcript")
			return
		}
		if entries == nil {
			entries = []storage.TranscriptEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleSubmitResults accepts a single result object or an array of them.
func handleSubmitResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Recorder == nil {
			httpError(w, http.StatusConflict, "conflict_error", "recording is not enabled on this server")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		var results []textproc.Result
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &results); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid results array: %v", err)
				return
			}
		} else {
			var one textproc.Result
			if err := json.Unmarshal(raw, &one); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid result: %v", err)
				return
			}
			results = []textproc.Result{one}
		}
		if len(results) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one result is required")
			return
		}
		if len(results) > maxResultsPerRequest {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at most %d results per request", maxResultsPerRequest)
			return
		}
		for i, res := range results {
			if res.Confidence < 0 || res.Confidence > 100 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "result %d: confidence must be within 0-100", i)
				return
			}
		}

		// A batch is replayed input, so it waits for queue room rather than
		// evicting its own earlier results.
		id := chi.URLParam(r, "id")
		for _, res := range results {
			if err := deps.Recorder.SubmitWait(r.Context(), id, res); err != nil {
				domainError(w, err, "submit result")
				return
			}
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(results)})
	}
}

func handleLive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Recorder == nil {
			domainError(w, recorder.ErrNotRecording, "get live summary")
			return
		}
		id := chi.URLParam(r, "id")
		snap, err := deps.Recorder.Summary(id)
		if err != nil {
			domainError(w, err, "get live summary")
			return
		}
		resp := LiveResponse{SessionID: id, Summary: snap}
		if last, ok, err := deps.Recorder.Last(id); err == nil && ok {
			resp.Last = &last
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAttach(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Recorder == nil {
			httpError(w, http.StatusConflict, "conflict_error", "recording is not enabled on this server")
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Recorder.Attach(id); err != nil {
			domainError(w, err, "attach recording")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "recording"})
	}
}

// handleEndSession stops a running recording, which drains its queue and
// ends the session, or ends an idle active session directly.
func handleEndSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if deps.recording(id) {
			rep, err := deps.Recorder.Stop(id)
			if err != nil && !errors.Is(err, recorder.ErrNotRecording) {
				domainError(w, err, "stop recording")
				return
			}
			if err == nil {
				writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": storage.StatusCompleted, "report": rep})
				return
			}
		}

		if err := deps.Store.EndSession(id); err != nil {
			domainError(w, err, "end session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": storage.StatusCompleted})
	}
}

func handleCreateExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		id := chi.URLParam(r, "id")

		if strings.EqualFold(req.Format, "all") {
			paths, err := deps.Exporter.ExportAll(r.Context(), id, deps.ExportDir)
			if err != nil {
				domainError(w, err, "export session")
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"paths": paths})
			return
		}

		format, err := export.ParseFormat(req.Format)
		if err != nil {
			domainError(w, err, "export session")
			return
		}
		opts := export.Options{IncludeTimestamps: deps.IncludeTimestamps}
		if req.IncludeTimestamps != nil {
			opts.IncludeTimestamps = *req.IncludeTimestamps
		}
		path, err := deps.Exporter.ExportInto(r.Context(), id, format, deps.ExportDir, opts)
		if err != nil {
			domainError(w, err, "export session")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"paths": map[export.Format]string{format: path}})
	}
}

func handleListExports(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Store.ListExports(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err, "list exports")
			return
		}
		if recs == nil {
			recs = []storage.ExportRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}
