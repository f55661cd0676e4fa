package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kalambet/caplog/internal/export"
	"github.com/kalambet/caplog/internal/recorder"
	"github.com/kalambet/caplog/internal/storage"
)

const maxRequestBodySize = 1 << 20

// errorBody is the envelope of every non-2xx JSON reply.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var body errorBody
	body.Error.Type = errType
	body.Error.Message = fmt.Sprintf(format, args...)
	writeJSON(w, code, body)
}

// domainError maps store, recorder and export errors onto HTTP statuses.
func domainError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, storage.ErrSessionCompleted),
		errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, recorder.ErrAlreadyRecording):
		httpError(w, http.StatusConflict, "conflict_error", "%s: %v", action, err)
	case errors.Is(err, export.ErrUnknownFormat):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "failed to %s: %v", action, err)
	}
}

// queryInt reads a non-negative integer query parameter, clamped to max
// when max > 0. Missing or malformed values yield def.
func queryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	switch {
	case err != nil || v < 0:
		return def
	case max > 0:
		return min(v, max)
	}
	return v
}
