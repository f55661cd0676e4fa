// Package recorder runs the capture side of a session: producers push
// recognition results into a small drop-oldest queue and a single consumer
// per session filters them through a textproc.Processor and persists the
// accepted entries in arrival order.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kalambet/caplog/internal/metrics"
	"github.com/kalambet/caplog/internal/textproc"
)

var (
	ErrNotRecording     = errors.New("session is not recording")
	ErrStopped          = errors.New("recording stopped")
	ErrAlreadyRecording = errors.New("session is already recording")
)

// EntryStore persists accepted entries and closes the session.
type EntryStore interface {
	SaveEntry(sessionID string, e textproc.Entry) error
	EndSession(id string) error
}

// Report summarises a finished recording.
type Report struct {
	SessionID string                   `json:"session_id"`
	Received  int                      `json:"received"`
	Accepted  int                      `json:"accepted"`
	Rejected  int                      `json:"rejected"`
	Evicted   int                      `json:"evicted"`
	Summary   *textproc.SessionSummary `json:"summary,omitempty"`
}

// Recorder owns one session's queue, processor and consumer goroutine.
type Recorder struct {
	sessionID string
	proc      *textproc.Processor
	store     EntryStore
	queue     *Queue
	logger    *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopping  atomic.Bool
	done      chan struct{}
	final     Report
	stopErr   error

	mu        sync.Mutex
	report    Report
	saveErrs  []error
	lastEntry *textproc.Entry
}

// NewRecorder creates a Recorder for an existing active session. If
// queueSize is <= 0 it defaults to DefaultQueueSize.
func NewRecorder(sessionID string, proc *textproc.Processor, store EntryStore, queueSize int) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		proc:      proc,
		store:     store,
		queue:     NewQueue(queueSize),
		logger:    slog.Default().With("session", sessionID),
		done:      make(chan struct{}),
		report:    Report{SessionID: sessionID},
	}
}

func (r *Recorder) SessionID() string { return r.sessionID }

// Stopping reports whether Stop has been called.
func (r *Recorder) Stopping() bool { return r.stopping.Load() }

// Start resets the processor and launches the consumer. Cancelling ctx has
// the same effect as Stop on the consumer: queued results are still drained.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.proc.Reset()
		metrics.RecordingsActive.Inc()
		go func() {
			defer close(r.done)
			defer metrics.RecordingsActive.Dec()
			r.Run(ctx)
		}()
	})
}

// Run consumes results until the queue is closed and drained, or ctx is
// cancelled, in which case the queue is closed and the remainder drained.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.queue.Close()
			for r.RunOnce() {
			}
			return
		case res, ok := <-r.queue.C():
			if !ok {
				return
			}
			r.process(res)
		}
	}
}

// RunOnce processes a single queued result. It returns false once the queue
// is closed and empty.
func (r *Recorder) RunOnce() bool {
	res, ok := r.queue.Pop()
	if !ok {
		return false
	}
	r.process(res)
	return true
}

func (r *Recorder) process(res textproc.Result) {
	entry, ok := r.proc.Accept(res)
	if !ok {
		metrics.ResultsRejected.Inc()
		r.mu.Lock()
		r.report.Rejected++
		r.mu.Unlock()
		return
	}

	kind := "new"
	if entry.IsIncremental {
		kind = "incremental"
	}
	metrics.EntriesAccepted.WithLabelValues(kind).Inc()

	err := r.store.SaveEntry(r.sessionID, entry)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Accepted++
	r.lastEntry = &entry
	if err != nil {
		metrics.StoreErrors.WithLabelValues("save_entry").Inc()
		r.logger.Error("saving entry failed", "text_id", entry.ID, "error", err)
		r.saveErrs = append(r.saveErrs, fmt.Errorf("saving entry %s: %w", entry.ID, err))
	}
}

// Submit enqueues a result for the consumer, evicting the oldest queued
// result when the queue is full. Use it for live capture.
func (r *Recorder) Submit(res textproc.Result) error {
	evicted, err := r.queue.Push(res)
	if err != nil {
		return err
	}
	r.received(evicted)
	return nil
}

// SubmitWait enqueues a result, waiting for the consumer to make room. Use
// it for replayed or batched input where every sample must be considered.
func (r *Recorder) SubmitWait(ctx context.Context, res textproc.Result) error {
	if err := r.queue.PushWait(ctx, res); err != nil {
		return err
	}
	r.received(false)
	return nil
}

func (r *Recorder) received(evicted bool) {
	metrics.ResultsReceived.Inc()

	r.mu.Lock()
	r.report.Received++
	if evicted {
		r.report.Evicted++
	}
	r.mu.Unlock()

	if evicted {
		metrics.ResultsEvicted.Inc()
		r.logger.Debug("queue full, dropped oldest result")
	}
}

// Last returns the most recently accepted entry, if any.
func (r *Recorder) Last() (textproc.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastEntry == nil {
		return textproc.Entry{}, false
	}
	return *r.lastEntry, true
}

func (r *Recorder) Summary() textproc.Snapshot {
	return r.proc.Summary()
}

// Stop closes the queue, waits for the consumer to drain it, then ends the
// session and finalizes the processor. Storage failures seen while draining
// are joined into the returned error. Later calls return the same result.
func (r *Recorder) Stop() (Report, error) {
	r.stopping.Store(true)
	r.stopOnce.Do(func() {
		r.queue.Close()
		// A recorder that was never started still owns its queued results.
		r.startOnce.Do(func() {
			for r.RunOnce() {
			}
			close(r.done)
		})
		<-r.done

		var errs []error
		r.mu.Lock()
		errs = append(errs, r.saveErrs...)
		r.mu.Unlock()

		if err := r.store.EndSession(r.sessionID); err != nil {
			metrics.StoreErrors.WithLabelValues("end_session").Inc()
			errs = append(errs, fmt.Errorf("ending session: %w", err))
		}

		r.mu.Lock()
		rep := r.report
		r.mu.Unlock()
		if s, ok := r.proc.FinalizeSession(); ok {
			rep.Summary = &s
		}

		r.final = rep
		r.stopErr = errors.Join(errs...)
		r.logger.Info("recording stopped",
			"received", rep.Received, "accepted", rep.Accepted,
			"rejected", rep.Rejected, "evicted", rep.Evicted)
	})
	return r.final, r.stopErr
}
