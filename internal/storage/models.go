package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionCompleted is returned when ending a session that already ended.
	ErrSessionCompleted = errors.New("session already completed")
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	StartTime time.Time         `json:"start_time"`
	EndTime   *time.Time        `json:"end_time"`
	Status    SessionStatus     `json:"status"`
	Metadata  map[string]string `json:"metadata"`
}

// Duration returns the session length, or false while the session is active.
func (s Session) Duration() (time.Duration, bool) {
	if s.EndTime == nil {
		return 0, false
	}
	return s.EndTime.Sub(s.StartTime), true
}

// TranscriptEntry is the persisted form of an accepted line.
// TextID is not unique; Seq is.
type TranscriptEntry struct {
	Seq           int64     `json:"seq"`
	SessionID     string    `json:"session_id"`
	TextID        string    `json:"text_id"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	Confidence    float64   `json:"confidence"`
	IsIncremental bool      `json:"is_incremental"`
}

type ExportRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	FilePath   string    `json:"file_path"`
	Format     string    `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
}
