// Package export renders stored session transcripts into files.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/caplog/internal/metrics"
	"github.com/kalambet/caplog/internal/storage"
)

// ErrUnknownFormat is returned when a format name is not recognised.
var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatSRT      Format = "srt"
	FormatReport   Format = "report"
)

// Formats lists every supported format in ExportAll order.
var Formats = []Format{FormatText, FormatMarkdown, FormatJSON, FormatCSV, FormatSRT, FormatReport}

// ParseFormat accepts a format name case-insensitively. "text", "markdown"
// and "summary" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "srt":
		return FormatSRT, nil
	case "report", "summary":
		return FormatReport, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Suffix is appended to a base name to form the output file name.
func (f Format) Suffix() string {
	if f == FormatReport {
		return "_report.md"
	}
	return "." + string(f)
}

// SessionReader is the subset of the store the exporter needs.
type SessionReader interface {
	GetSession(id string) (storage.Session, error)
	GetTranscript(sessionID string) ([]storage.TranscriptEntry, error)
	RecordExport(sessionID, filePath, format string) error
}

// Options tunes a single export.
type Options struct {
	IncludeTimestamps bool
}

// Exporter reads sessions through a SessionReader and writes rendered files.
// Files are rendered in memory and moved into place with a rename, so a
// failed export never leaves a partial destination file.
type Exporter struct {
	store  SessionReader
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

type ExporterOption func(*Exporter)

// WithLocation sets the zone used for human-readable timestamps.
func WithLocation(loc *time.Location) ExporterOption {
	return func(e *Exporter) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ExporterOption {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExporter(store SessionReader, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		store:  store,
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Exporter) ToText(ctx context.Context, sessionID, path string, includeTimestamps bool) error {
	return e.Export(ctx, sessionID, FormatText, path, Options{IncludeTimestamps: includeTimestamps})
}

func (e *Exporter) ToMarkdown(ctx context.Context, sessionID, path string) error {
	return e.Export(ctx, sessionID, FormatMarkdown, path, Options{})
}

func (e *Exporter) ToJSON(ctx context.Context, sessionID, path string) error {
	return e.Export(ctx, sessionID, FormatJSON, path, Options{})
}

func (e *Exporter) ToCSV(ctx context.Context, sessionID, path string) error {
	return e.Export(ctx, sessionID, FormatCSV, path, Options{})
}

func (e *Exporter) ToSRT(ctx context.Context, sessionID, path string) error {
	return e.Export(ctx, sessionID, FormatSRT, path, Options{})
}

func (e *Exporter) SummaryReport(ctx context.Context, sessionID, path string) error {
	return e.Export(ctx, sessionID, FormatReport, path, Options{})
}

// Export renders one session in the given format, writes it to path and
// appends an audit record.
func (e *Exporter) Export(ctx context.Context, sessionID string, format Format, path string, opts Options) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := e.load(sessionID)
	if err != nil {
		return err
	}
	data, err := e.render(doc, format, opts)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	if err := e.store.RecordExport(sessionID, path, string(format)); err != nil {
		metrics.StoreErrors.WithLabelValues("record_export").Inc()
		return fmt.Errorf("recording export: %w", err)
	}

	metrics.Exports.WithLabelValues(string(format)).Inc()
	metrics.ExportDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug("exported session", "session", sessionID, "format", format, "path", path, "bytes", len(data))
	return nil
}

// Render returns the formatted session without touching the file system.
func (e *Exporter) Render(sessionID string, format Format, opts Options) ([]byte, error) {
	doc, err := e.load(sessionID)
	if err != nil {
		return nil, err
	}
	return e.render(doc, format, opts)
}

// ExportAll writes every format into dir under a shared base name and
// returns the written paths keyed by format.
func (e *Exporter) ExportAll(ctx context.Context, sessionID, dir string) (map[Format]string, error) {
	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	base := BaseName(sess.Title, e.now().In(e.loc))

	var mu sync.Mutex
	paths := make(map[Format]string, len(Formats))

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range Formats {
		path := filepath.Join(dir, base+f.Suffix())
		g.Go(func() error {
			if err := e.Export(gctx, sessionID, f, path, Options{IncludeTimestamps: true}); err != nil {
				return fmt.Errorf("%s export: %w", f, err)
			}
			mu.Lock()
			paths[f] = path
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return paths, err
	}
	return paths, nil
}

// ExportInto writes one format into dir under the session's base name and
// returns the path written.
func (e *Exporter) ExportInto(ctx context.Context, sessionID string, format Format, dir string, opts Options) (string, error) {
	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		return "", fmt.Errorf("getting session: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, BaseName(sess.Title, e.now().In(e.loc))+format.Suffix())
	if err := e.Export(ctx, sessionID, format, path, opts); err != nil {
		return "", err
	}
	return path, nil
}

// BaseName builds "<safe_title>_<YYYYMMDD_HHMMSS>". The title keeps letters,
// digits, spaces, '-' and '_'; spaces become underscores.
func BaseName(title string, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r == '-' || r == '_':
			return r
		case r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			return r
		}
		return -1
	}, strings.TrimSpace(title))
	if safe == "" {
		safe = "session"
	}
	return safe + "_" + at.Format("20060102_150405")
}

func (e *Exporter) load(sessionID string) (document, error) {
	sess, err := e.store.GetSession(sessionID)
	if err != nil {
		return document{}, fmt.Errorf("getting session: %w", err)
	}
	entries, err := e.store.GetTranscript(sessionID)
	if err != nil {
		return document{}, fmt.Errorf("getting transcript: %w", err)
	}
	return document{
		Session:     sess,
		Entries:     entries,
		Location:    e.loc,
		GeneratedAt: e.now(),
	}, nil
}

func (e *Exporter) render(doc document, format Format, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatText:
		renderText(&buf, doc, opts.IncludeTimestamps)
	case FormatMarkdown:
		renderMarkdown(&buf, doc)
	case FormatJSON:
		if err := renderJSON(&buf, doc); err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
	case FormatCSV:
		if err := renderCSV(&buf, doc); err != nil {
			return nil, fmt.Errorf("encoding csv: %w", err)
		}
	case FormatSRT:
		renderSRT(&buf, doc)
	case FormatReport:
		renderReport(&buf, doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".caplog-export-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("moving export into %s: %w", path, err)
	}
	return nil
}
