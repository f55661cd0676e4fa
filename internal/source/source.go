// Package source replays recorded recognition output as a stream of
// textproc.Result samples, standing in for a live capture loop.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/caplog/internal/textproc"
)

// DefaultConfidence is used for lines that carry no confidence column.
const DefaultConfidence = 90.0

// EmitFunc receives each sample. Returning an error stops the source.
type EmitFunc func(textproc.Result) error

// Source produces samples until exhausted or ctx is cancelled.
type Source interface {
	Run(ctx context.Context, emit EmitFunc) error
}

// Paced is implemented by sources that can space their samples like a live
// capture timer.
type Paced interface {
	Paced() bool
}

// IsPaced reports whether src emits at a bounded rate. Only such a source
// should feed a drop-oldest queue; anything else needs backpressure.
func IsPaced(src Source) bool {
	p, ok := src.(Paced)
	return ok && p.Paced()
}

// ParseLine turns "<confidence>\t<text>" or plain "<text>" into a Result.
// Blank lines and lines starting with '#' are skipped.
func ParseLine(line string, defaultConfidence float64) (textproc.Result, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
		return textproc.Result{}, false
	}

	conf := defaultConfidence
	text := line
	if head, rest, ok := strings.Cut(line, "\t"); ok {
		if c, err := strconv.ParseFloat(strings.TrimSpace(head), 64); err == nil {
			conf = max(0, min(100, c))
			text = rest
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return textproc.Result{}, false
	}
	return textproc.Result{
		Text:       text,
		Confidence: conf,
		WordCount:  len(strings.Fields(text)),
	}, true
}

// Lines reads one sample per line from r.
type Lines struct {
	r          io.Reader
	interval   time.Duration
	confidence float64
}

// NewLines creates a line source. Samples are spaced by interval; zero
// emits back to back, so the caller must apply backpressure.
func NewLines(r io.Reader, interval time.Duration, defaultConfidence float64) *Lines {
	if defaultConfidence <= 0 {
		defaultConfidence = DefaultConfidence
	}
	return &Lines{r: r, interval: interval, confidence: defaultConfidence}
}

func (l *Lines) Paced() bool { return l.interval > 0 }

func (l *Lines) Run(ctx context.Context, emit EmitFunc) error {
	p := newPacer(l.interval)
	defer p.stop()

	sc := bufio.NewScanner(l.r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		res, ok := ParseLine(sc.Text(), l.confidence)
		if !ok {
			continue
		}
		if err := p.wait(ctx); err != nil {
			return err
		}
		if err := emit(res); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading lines: %w", err)
	}
	return nil
}

// pacer spaces samples like a capture timer would.
type pacer struct {
	ticker *time.Ticker
	first  bool
}

func newPacer(interval time.Duration) *pacer {
	p := &pacer{first: true}
	if interval > 0 {
		p.ticker = time.NewTicker(interval)
	}
	return p
}

func (p *pacer) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ticker == nil || p.first {
		p.first = false
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
