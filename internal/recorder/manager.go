package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/caplog/internal/storage"
	"github.com/kalambet/caplog/internal/textproc"
)

// SessionStore is the storage surface a Manager needs.
type SessionStore interface {
	EntryStore
	CreateSession(title string, metadata map[string]string) (string, error)
	GetSession(id string) (storage.Session, error)
}

// Manager runs any number of independent recordings, one per session.
type Manager struct {
	store     SessionStore
	procOpts  []textproc.Option
	queueSize int
	now       func() time.Time
	logger    *slog.Logger

	// ctx outlives the requests that start recordings.
	ctx context.Context

	mu        sync.Mutex
	recorders map[string]*Recorder
}

type ManagerOption func(*Manager)

// WithProcessorOptions configures the processor created for each recording.
func WithProcessorOptions(opts ...textproc.Option) ManagerOption {
	return func(m *Manager) { m.procOpts = append(m.procOpts, opts...) }
}

func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) { m.queueSize = n }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager. Recordings keep running until stopped
// individually, by StopAll, or until ctx is cancelled.
func NewManager(ctx context.Context, store SessionStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		queueSize: DefaultQueueSize,
		now:       time.Now,
		logger:    slog.Default(),
		ctx:       ctx,
		recorders: make(map[string]*Recorder),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// DefaultTitle names a session after its start time.
func DefaultTitle(t time.Time) string {
	return "Session " + t.Format("2006-01-02 15:04")
}

// Start creates a session and begins recording into it.
func (m *Manager) Start(title string, metadata map[string]string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(m.now())
	}
	id, err := m.store.CreateSession(title, metadata)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.launch(id)
	m.logger.Info("recording started", "session", id, "title", title)
	return id, nil
}

// Attach resumes recording into an existing active session.
func (m *Manager) Attach(sessionID string) error {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status == storage.StatusCompleted {
		return storage.ErrSessionCompleted
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recorders[sessionID]; ok {
		return ErrAlreadyRecording
	}
	m.launch(sessionID)
	m.logger.Info("recording attached", "session", sessionID)
	return nil
}

// launch must be called with m.mu held.
func (m *Manager) launch(id string) {
	rec := NewRecorder(id, textproc.New(m.procOpts...), m.store, m.queueSize)
	rec.logger = m.logger.With("session", id)
	m.recorders[id] = rec
	rec.Start(m.ctx)
}

func (m *Manager) get(sessionID string) (*Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recorders[sessionID]
	if !ok {
		return nil, ErrNotRecording
	}
	return rec, nil
}

// Submit hands a live result to the session's consumer, dropping the
// oldest queued result if the consumer is behind.
func (m *Manager) Submit(sessionID string, res textproc.Result) error {
	rec, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return notRecording(rec.Submit(res))
}

// SubmitWait hands a replayed or batched result to the session's consumer,
// blocking while its queue is full.
func (m *Manager) SubmitWait(ctx context.Context, sessionID string, res textproc.Result) error {
	rec, err := m.get(sessionID)
	if err != nil {
		return err
	}
	return notRecording(rec.SubmitWait(ctx, res))
}

func notRecording(err error) error {
	if errors.Is(err, ErrStopped) {
		return ErrNotRecording
	}
	return err
}

// Summary returns the live accumulated state of a recording.
func (m *Manager) Summary(sessionID string) (textproc.Snapshot, error) {
	rec, err := m.get(sessionID)
	if err != nil {
		return textproc.Snapshot{}, err
	}
	return rec.Summary(), nil
}

// Last returns the most recently accepted entry of a recording.
func (m *Manager) Last(sessionID string) (textproc.Entry, bool, error) {
	rec, err := m.get(sessionID)
	if err != nil {
		return textproc.Entry{}, false, err
	}
	e, ok := rec.Last()
	return e, ok, nil
}

// Stop drains and ends one recording. The recorder stays registered until
// the session is ended, so a concurrent Attach cannot start a second
// consumer for it.
func (m *Manager) Stop(sessionID string) (Report, error) {
	rec, err := m.get(sessionID)
	if err != nil {
		return Report{}, err
	}
	defer m.forget(rec)
	return rec.Stop()
}

// forget unregisters rec unless it was already replaced.
func (m *Manager) forget(rec *Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorders[rec.sessionID] == rec {
		delete(m.recorders, rec.sessionID)
	}
}

// Active lists the ids of sessions currently recording, sorted. Recordings
// that are draining are left out.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.recorders))
	for id, rec := range m.recorders {
		if !rec.Stopping() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every recording concurrently, as on server shutdown.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	recs := make([]*Recorder, 0, len(m.recorders))
	for _, rec := range m.recorders {
		recs = append(recs, rec)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, rec := range recs {
		wg.Go(func() {
			defer m.forget(rec)
			if _, err := rec.Stop(); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", rec.sessionID, err))
				emu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}
