package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/caplog/internal/textproc"
)

// PDF replays the text layer of a document, one sample per non-blank line,
// page by page.
type PDF struct {
	path       string
	interval   time.Duration
	confidence float64
}

func NewPDF(path string, interval time.Duration, confidence float64) *PDF {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &PDF{path: path, interval: interval, confidence: confidence}
}

func (s *PDF) Paced() bool { return s.interval > 0 }

func (s *PDF) Run(ctx context.Context, emit EmitFunc) error {
	pages, err := ReadPDFPages(s.path)
	if err != nil {
		return err
	}

	p := newPacer(s.interval)
	defer p.stop()
	for _, page := range pages {
		for _, line := range splitPageText(page) {
			if err := p.wait(ctx); err != nil {
				return err
			}
			res := textproc.Result{
				Text:       line,
				Confidence: s.confidence,
				WordCount:  len(strings.Fields(line)),
			}
			if err := emit(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadPDFPages returns the plain text of each page. Pages without content
// are returned as empty strings to keep page numbering stable.
func ReadPDFPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting text from page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func splitPageText(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
