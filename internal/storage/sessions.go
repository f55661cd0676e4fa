package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/caplog/internal/textproc"
)

// --- Sessions ---

// CreateSession inserts an active session starting now and returns its id.
func (s *Store) CreateSession(title string, metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshalling metadata: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, title, start_time, status, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		id, title, formatTime(time.Now()), StatusActive, string(meta),
	)
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// EndSession marks an active session completed and stamps its end time.
// It returns ErrSessionCompleted if the session already ended.
func (s *Store) EndSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning end transaction: %w", err)
	}
	defer tx.Rollback()

	var status SessionStatus
	err = tx.QueryRow(`SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading session status: %w", err)
	}
	if status == StatusCompleted {
		return ErrSessionCompleted
	}

	if _, err := tx.Exec(`UPDATE sessions SET end_time = ?, status = ? WHERE id = ?`,
		formatTime(time.Now()), StatusCompleted, id); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT id, title, start_time, end_time, status, metadata
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns up to limit sessions, most recently started first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, title, start_time, end_time, status, metadata
		FROM sessions ORDER BY start_time DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var sess Session
	var startTime, meta string
	var endTime sql.NullString
	if err := r.Scan(&sess.ID, &sess.Title, &startTime, &endTime, &sess.Status, &meta); err != nil {
		return Session{}, err
	}

	t, err := parseTime(startTime)
	if err != nil {
		return Session{}, fmt.Errorf("parsing start_time for session %s: %w", sess.ID, err)
	}
	sess.StartTime = t
	if endTime.Valid {
		et, err := parseTime(endTime.String)
		if err != nil {
			return Session{}, fmt.Errorf("parsing end_time for session %s: %w", sess.ID, err)
		}
		sess.EndTime = &et
	}

	sess.Metadata = map[string]string{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return Session{}, fmt.Errorf("parsing metadata for session %s: %w", sess.ID, err)
		}
	}
	return sess, nil
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func sessionExists(q queryRower, id string) error {
	var one int
	err := q.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking session %s: %w", id, err)
	}
	return nil
}

// --- Transcript ---

// SaveEntry persists one accepted entry for the session in a single commit.
func (s *Store) SaveEntry(sessionID string, e textproc.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(tx, sessionID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO transcripts (session_id, text_id, content, timestamp, confidence, is_incremental)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, e.ID, e.Text, formatTime(e.Timestamp), e.Confidence, e.IsIncremental,
	); err != nil {
		return fmt.Errorf("inserting transcript entry: %w", err)
	}
	return tx.Commit()
}

// GetTranscript returns the session's entries in ascending timestamp order.
func (s *Store) GetTranscript(sessionID string) ([]TranscriptEntry, error) {
	if err := sessionExists(s.db, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT seq, session_id, text_id, content, timestamp, confidence, is_incremental
		FROM transcripts WHERE session_id = ?
		ORDER BY timestamp ASC, seq ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		var ts string
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.TextID, &e.Content, &ts, &e.Confidence, &e.IsIncremental); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp for entry %d: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CountEntries(sessionID string) (int, error) {
	if err := sessionExists(s.db, sessionID); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transcripts WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// --- Exports ---

// RecordExport appends an audit record for a written export file.
func (s *Store) RecordExport(sessionID, filePath, format string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning export transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO exports (session_id, file_path, format, exported_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, filePath, format, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("inserting export record: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ListExports(sessionID string) ([]ExportRecord, error) {
	if err := sessionExists(s.db, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, file_path, format, exported_at
		FROM exports WHERE session_id = ?
		ORDER BY exported_at ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExportRecord
	for rows.Next() {
		var r ExportRecord
		var at string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.FilePath, &r.Format, &at); err != nil {
			return nil, err
		}
		if r.ExportedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing exported_at for export %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
