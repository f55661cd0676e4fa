// Package textproc turns noisy recognition samples into accepted transcript
// entries. A Processor filters low-confidence and malformed text, suppresses
// near-duplicates of recent lines, and classifies each accepted line as either
// a new line or an incremental revision of the line being displayed.
package textproc

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultDuplicateThreshold = 0.8
	DefaultMinConfidence      = 30.0

	minTextLength        = 3
	minValidWordRatio    = 0.5
	duplicateWindow      = 10
	historyLimit         = 100
	historyKeep          = 50
	minIncrementalGrowth = 3
)

// Result is one recognition sample delivered by an OCR or ASR engine.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"word_count"`
}

// Entry is an accepted, cleaned line.
type Entry struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	Confidence    float64   `json:"confidence"`
	IsIncremental bool      `json:"is_incremental"`
	SessionText   string    `json:"session_text"`
}

// SessionSummary is produced by FinalizeSession.
type SessionSummary struct {
	Text      string    `json:"text"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	WordCount int       `json:"word_count"`
	CharCount int       `json:"char_count"`
}

// Snapshot is a read-only view of the accumulated state.
type Snapshot struct {
	CurrentText    string    `json:"current_text"`
	StartTime      time.Time `json:"start_time,omitzero"`
	WordCount      int       `json:"word_count"`
	CharCount      int       `json:"char_count"`
	TotalProcessed int       `json:"total_processed"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithDuplicateThreshold sets the similarity at or above which a line is
// suppressed as a duplicate. Default: 0.8.
func WithDuplicateThreshold(threshold float64) Option {
	return func(p *Processor) { p.duplicateThreshold = threshold }
}

// WithMinConfidence sets the minimum recognition confidence (0-100). Default: 30.
func WithMinConfidence(confidence float64) Option {
	return func(p *Processor) { p.minConfidence = confidence }
}

// WithSimilarity replaces the duplicate scoring function. Default: Ratio.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(p *Processor) {
		if fn != nil {
			p.similarity = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger used for debug output on rejected samples.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor holds the per-recording state: recent accepted lines, the
// accumulated session text and the session start time. Each recording owns
// its own Processor; methods are safe for concurrent use, but entries are
// only ordered when Accept is called from a single goroutine.
type Processor struct {
	duplicateThreshold float64
	minConfidence      float64
	similarity         SimilarityFunc
	now                func() time.Time
	logger             *slog.Logger

	mu           sync.Mutex
	history      []string
	sessionText  string
	sessionStart time.Time
	lastStamp    time.Time
}

// New creates a Processor with the default thresholds, modified by opts.
func New(opts ...Option) *Processor {
	p := &Processor{
		duplicateThreshold: DefaultDuplicateThreshold,
		minConfidence:      DefaultMinConfidence,
		similarity:         Ratio,
		now:                time.Now,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accept filters one recognition sample. It returns the accepted entry and
// true, or a zero Entry and false when the sample was rejected for any reason.
// Rejections are not errors.
func (p *Processor) Accept(res Result) (Entry, bool) {
	cleaned, ok := p.meaningful(res)
	if !ok {
		return Entry{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isDuplicate(cleaned) {
		p.logger.Debug("duplicate suppressed", "text", cleaned)
		return Entry{}, false
	}

	incremental := false
	if n := len(p.history); n > 0 {
		incremental = isIncremental(cleaned, p.history[n-1])
	}

	now := p.now()
	if now.Before(p.lastStamp) {
		now = p.lastStamp
	}
	p.lastStamp = now

	p.history = append(p.history, cleaned)
	if len(p.history) > historyLimit {
		p.history = append([]string(nil), p.history[len(p.history)-historyKeep:]...)
	}

	switch {
	case incremental:
		p.sessionText = cleaned
	case p.sessionText != "":
		p.sessionText += " " + cleaned
	default:
		p.sessionText = cleaned
		p.sessionStart = now
	}

	return Entry{
		ID:            EntryID(cleaned, now),
		Text:          cleaned,
		Timestamp:     now,
		Confidence:    res.Confidence,
		IsIncremental: incremental,
		SessionText:   p.sessionText,
	}, true
}

func (p *Processor) meaningful(res Result) (string, bool) {
	if res.Confidence < p.minConfidence {
		p.logger.Debug("low confidence", "confidence", res.Confidence)
		return "", false
	}

	cleaned := Clean(res.Text)
	if utf8.RuneCountInString(cleaned) < minTextLength {
		return "", false
	}

	words := strings.Fields(cleaned)
	valid := 0
	for _, w := range words {
		if utf8.RuneCountInString(w) > 1 && isAlnumWord(w) {
			valid++
		}
	}
	if float64(valid)/float64(len(words)) < minValidWordRatio {
		p.logger.Debug("too few valid words", "text", cleaned)
		return "", false
	}
	return cleaned, true
}

func (p *Processor) isDuplicate(text string) bool {
	recent := p.history
	if len(recent) > duplicateWindow {
		recent = recent[len(recent)-duplicateWindow:]
	}
	for _, prev := range recent {
		if p.similarity(text, prev) >= p.duplicateThreshold {
			return true
		}
	}
	return false
}

// isIncremental reports whether next extends prev: prev must occur in next
// (case-insensitively) and removing it must leave more than three runes.
func isIncremental(next, prev string) bool {
	if next == "" || prev == "" {
		return false
	}
	n, pv := strings.ToLower(next), strings.ToLower(prev)
	if !strings.Contains(n, pv) {
		return false
	}
	extra := strings.TrimSpace(strings.ReplaceAll(n, pv, ""))
	return utf8.RuneCountInString(extra) > minIncrementalGrowth
}

// EntryID derives the short identifier of an entry from its text and time.
// Identifiers are eight hex digits and may collide.
func EntryID(text string, ts time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%s", text, ts.Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])[:8]
}

// FinalizeSession returns the accumulated text and clears it together with
// the start time. It returns false when nothing was accumulated.
func (p *Processor) FinalizeSession() (SessionSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionText == "" || p.sessionStart.IsZero() {
		return SessionSummary{}, false
	}
	s := SessionSummary{
		Text:      p.sessionText,
		StartTime: p.sessionStart,
		EndTime:   p.now(),
		WordCount: len(strings.Fields(p.sessionText)),
		CharCount: utf8.RuneCountInString(p.sessionText),
	}
	p.sessionText = ""
	p.sessionStart = time.Time{}
	return s, true
}

// Summary returns the current accumulated state without modifying it.
func (p *Processor) Summary() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		CurrentText:    p.sessionText,
		StartTime:      p.sessionStart,
		WordCount:      len(strings.Fields(p.sessionText)),
		CharCount:      utf8.RuneCountInString(p.sessionText),
		TotalProcessed: len(p.history),
	}
}

// Reset clears history, accumulated text and start time so that nothing
// leaks into the next recording.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history = nil
	p.sessionText = ""
	p.sessionStart = time.Time{}
	p.lastStamp = time.Time{}
}

