package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kalambet/caplog/internal/storage"
)

const (
	schemaVersion   = "1.0"
	srtCueLength    = 3 * time.Second
	headerTimestamp = "2006-01-02 15:04:05"
	clockTimestamp  = "15:04:05"
	topWordsLimit   = 10
	minKeywordRunes = 4
)

// document is everything a renderer needs for one session.
type document struct {
	Session     storage.Session
	Entries     []storage.TranscriptEntry
	Location    *time.Location
	GeneratedAt time.Time
}

func (d document) stamp(t time.Time, layout string) string {
	return t.In(d.Location).Format(layout)
}

func renderText(buf *bytes.Buffer, d document, includeTimestamps bool) {
	fmt.Fprintf(buf, "Transcript: %s\n", d.Session.Title)
	fmt.Fprintf(buf, "Started: %s\n", d.stamp(d.Session.StartTime, headerTimestamp))
	if d.Session.EndTime != nil {
		fmt.Fprintf(buf, "Ended: %s\n", d.stamp(*d.Session.EndTime, headerTimestamp))
	}
	buf.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, e := range d.Entries {
		if includeTimestamps {
			fmt.Fprintf(buf, "[%s] ", d.stamp(e.Timestamp, clockTimestamp))
		}
		buf.WriteString(e.Content + "\n")
		// Incremental entries revise the line still forming, so they stay
		// in the same paragraph.
		if !e.IsIncremental {
			buf.WriteString("\n")
		}
	}
}

func renderMarkdown(buf *bytes.Buffer, d document) {
	fmt.Fprintf(buf, "# %s\n\n", d.Session.Title)
	fmt.Fprintf(buf, "**Started:** %s\n\n", d.stamp(d.Session.StartTime, headerTimestamp))
	if d.Session.EndTime != nil {
		fmt.Fprintf(buf, "**Ended:** %s\n\n", d.stamp(*d.Session.EndTime, headerTimestamp))
	}
	buf.WriteString("## Content\n\n")

	for _, p := range paragraphs(d.Entries) {
		buf.WriteString(p + "\n\n")
	}
}

// paragraphs groups entries with a line buffer: an incremental entry replaces
// the buffer, any other entry is appended and the buffer is flushed once it
// holds more than one line. Whatever remains at the end is flushed too.
// A lone line followed by an incremental entry is therefore dropped.
func paragraphs(entries []storage.TranscriptEntry) []string {
	var out, current []string
	for _, e := range entries {
		if e.IsIncremental {
			current = []string{e.Content}
			continue
		}
		current = append(current, e.Content)
		if len(current) > 1 {
			out = append(out, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, " "))
	}
	return out
}

type jsonDocument struct {
	Session    jsonSession    `json:"session"`
	Transcript []jsonEntry    `json:"transcript"`
	Statistics jsonStatistics `json:"statistics"`
	ExportInfo jsonExportInfo `json:"export_info"`
}

type jsonSession struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	StartTime string            `json:"start_time"`
	EndTime   *string           `json:"end_time"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
}

type jsonEntry struct {
	TextID        string  `json:"text_id"`
	Content       string  `json:"content"`
	Timestamp     string  `json:"timestamp"`
	Confidence    float64 `json:"confidence"`
	IsIncremental bool    `json:"is_incremental"`
}

type jsonStatistics struct {
	TotalEntries      int      `json:"total_entries"`
	TotalWords        int      `json:"total_words"`
	TotalCharacters   int      `json:"total_characters"`
	AverageConfidence float64  `json:"average_confidence"`
	DurationSeconds   *float64 `json:"duration_seconds"`
}

type jsonExportInfo struct {
	ExportedAt string `json:"exported_at"`
	Format     string `json:"format"`
	Version    string `json:"version"`
}

func renderJSON(buf *bytes.Buffer, d document) error {
	iso := func(t time.Time) string { return d.stamp(t, time.RFC3339Nano) }

	sess := jsonSession{
		ID:        d.Session.ID,
		Title:     d.Session.Title,
		StartTime: iso(d.Session.StartTime),
		Status:    string(d.Session.Status),
		Metadata:  d.Session.Metadata,
	}
	if d.Session.EndTime != nil {
		end := iso(*d.Session.EndTime)
		sess.EndTime = &end
	}

	entries := make([]jsonEntry, len(d.Entries))
	for i, e := range d.Entries {
		entries[i] = jsonEntry{
			TextID:        e.TextID,
			Content:       e.Content,
			Timestamp:     iso(e.Timestamp),
			Confidence:    e.Confidence,
			IsIncremental: e.IsIncremental,
		}
	}

	st := computeStats(d)
	stats := jsonStatistics{
		TotalEntries:      st.entries,
		TotalWords:        st.words,
		TotalCharacters:   st.chars,
		AverageConfidence: st.avgConfidence,
	}
	if dur, ok := d.Session.Duration(); ok {
		secs := dur.Seconds()
		stats.DurationSeconds = &secs
	}

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonDocument{
		Session:    sess,
		Transcript: entries,
		Statistics: stats,
		ExportInfo: jsonExportInfo{
			ExportedAt: iso(d.GeneratedAt),
			Format:     string(FormatJSON),
			Version:    schemaVersion,
		},
	})
}

var csvHeader = []string{"Text ID", "Timestamp", "Content", "Confidence", "Is Incremental", "Word Count"}

func renderCSV(buf *bytes.Buffer, d document) error {
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range d.Entries {
		row := []string{
			e.TextID,
			d.stamp(e.Timestamp, time.RFC3339Nano),
			e.Content,
			strconv.FormatFloat(e.Confidence, 'f', -1, 64),
			strconv.FormatBool(e.IsIncremental),
			strconv.Itoa(len(strings.Fields(e.Content))),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func renderSRT(buf *bytes.Buffer, d document) {
	for i, e := range d.Entries {
		start := e.Timestamp.Sub(d.Session.StartTime)
		fmt.Fprintf(buf, "%d\n%s --> %s\n%s\n\n", i+1, srtTime(start), srtTime(start+srtCueLength), e.Content)
	}
}

// srtTime formats an offset as HH:MM:SS,mmm, truncating below a millisecond.
// Negative offsets clamp to zero.
func srtTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	ms := (d % time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

type stats struct {
	entries       int
	words         int
	chars         int
	avgConfidence float64
}

func computeStats(d document) stats {
	st := stats{entries: len(d.Entries)}
	var conf float64
	for _, e := range d.Entries {
		st.words += len(strings.Fields(e.Content))
		st.chars += utf8.RuneCountInString(e.Content)
		conf += e.Confidence
	}
	if st.entries > 0 {
		st.avgConfidence = conf / float64(st.entries)
	}
	return st
}

type wordCount struct {
	Word  string
	Count int
}

// topWords counts case-folded words longer than three runes after stripping
// non-alphanumerics. Ties keep first-seen order.
func topWords(entries []storage.TranscriptEntry, limit int) []wordCount {
	fold := cases.Fold()
	counts := map[string]int{}
	var order []string
	for _, e := range entries {
		for _, raw := range strings.Fields(fold.String(e.Content)) {
			w := strings.Map(func(r rune) rune {
				if unicode.IsLetter(r) || unicode.IsNumber(r) {
					return r
				}
				return -1
			}, raw)
			if utf8.RuneCountInString(w) < minKeywordRunes {
				continue
			}
			if _, seen := counts[w]; !seen {
				order = append(order, w)
			}
			counts[w]++
		}
	}

	out := make([]wordCount, len(order))
	for i, w := range order {
		out[i] = wordCount{Word: w, Count: counts[w]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type confidenceBucket struct {
	Label string
	Min   float64
	Count int
}

func confidenceHistogram(entries []storage.TranscriptEntry) []confidenceBucket {
	buckets := []confidenceBucket{
		{Label: "Very high (90-100%)", Min: 90},
		{Label: "High (80-89%)", Min: 80},
		{Label: "Medium (70-79%)", Min: 70},
		{Label: "Low (<70%)"},
	}
	for _, e := range entries {
		for i := range buckets {
			if e.Confidence >= buckets[i].Min || i == len(buckets)-1 {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

func renderReport(buf *bytes.Buffer, d document) {
	p := message.NewPrinter(language.English)
	st := computeStats(d)
	sess := d.Session

	buf.WriteString("# Session Summary Report\n\n")
	buf.WriteString("## Session\n\n")
	fmt.Fprintf(buf, "- **Title:** %s\n", sess.Title)
	fmt.Fprintf(buf, "- **Session ID:** %s\n", sess.ID)
	fmt.Fprintf(buf, "- **Started:** %s\n", d.stamp(sess.StartTime, headerTimestamp))
	dur, ended := sess.Duration()
	if ended {
		fmt.Fprintf(buf, "- **Ended:** %s\n", d.stamp(*sess.EndTime, headerTimestamp))
		fmt.Fprintf(buf, "- **Duration:** %s\n", dur.Round(time.Second))
	}
	fmt.Fprintf(buf, "- **Status:** %s\n\n", sess.Status)

	buf.WriteString("## Statistics\n\n")
	fmt.Fprintf(buf, "- **Transcript lines:** %d\n", st.entries)
	buf.WriteString(p.Sprintf("- **Words:** %d\n", st.words))
	buf.WriteString(p.Sprintf("- **Characters:** %d\n", st.chars))
	fmt.Fprintf(buf, "- **Average confidence:** %.1f%%\n", st.avgConfidence)
	if ended && dur > 0 {
		fmt.Fprintf(buf, "- **Speaking rate:** %.1f words/minute\n", float64(st.words)/dur.Seconds()*60)
	}

	buf.WriteString("\n## Top Words\n\n")
	for i, wc := range topWords(d.Entries, topWordsLimit) {
		fmt.Fprintf(buf, "%d. **%s** - %d times\n", i+1, wc.Word, wc.Count)
	}

	buf.WriteString("\n## Confidence Distribution\n\n")
	for _, b := range confidenceHistogram(d.Entries) {
		pct := 0.0
		if st.entries > 0 {
			pct = float64(b.Count) / float64(st.entries) * 100
		}
		fmt.Fprintf(buf, "- **%s:** %d lines (%.1f%%)\n", b.Label, b.Count, pct)
	}

	buf.WriteString("\n## Full Transcript\n\n")
	for _, e := range d.Entries {
		fmt.Fprintf(buf, "**[%s]** %s\n\n", d.stamp(e.Timestamp, clockTimestamp), e.Content)
	}

	buf.WriteString("\n---\n")
	fmt.Fprintf(buf, "*Report generated by caplog at %s*\n", d.stamp(d.GeneratedAt, headerTimestamp))
}
