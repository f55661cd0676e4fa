package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/kalambet/caplog/internal/textproc"
)

var entryBase = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testEntry(id, text string, offset time.Duration, incremental bool) textproc.Entry {
	return textproc.Entry{
		ID:            id,
		Text:          text,
		Timestamp:     entryBase.Add(offset),
		Confidence:    90,
		IsIncremental: incremental,
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)

	before := time.Now().Add(-time.Second)
	id, err := s.CreateSession("Demo", map[string]string{"language": "vie"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	got, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "Demo" {
		t.Errorf("Title = %q, want %q", got.Title, "Demo")
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, StatusActive)
	}
	if got.EndTime != nil {
		t.Errorf("EndTime = %v, want nil", got.EndTime)
	}
	if got.StartTime.Before(before) {
		t.Errorf("StartTime = %v, want after %v", got.StartTime, before)
	}
	if got.Metadata["language"] != "vie" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if _, ok := got.Duration(); ok {
		t.Error("active session reported a duration")
	}
}

func TestCreateSession_NilMetadata(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateSession("No metadata", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Metadata == nil || len(got.Metadata) != 0 {
		t.Errorf("Metadata = %v, want empty map", got.Metadata)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession("does-not-exist"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEndSession(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateSession("Ending", nil)

	if err := s.EndSession(id); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.EndTime == nil {
		t.Fatal("EndTime not set")
	}
	if d, ok := got.Duration(); !ok || d < 0 {
		t.Errorf("Duration = %v, %v", d, ok)
	}

	firstEnd := *got.EndTime
	if err := s.EndSession(id); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("second EndSession error = %v, want ErrSessionCompleted", err)
	}
	again, _ := s.GetSession(id)
	if !again.EndTime.Equal(firstEnd) {
		t.Errorf("EndTime changed on repeat end: %v -> %v", firstEnd, again.EndTime)
	}
}

func TestEndSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.EndSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)
	var ids []string
	for _, title := range []string{"first", "second", "third"} {
		id, err := s.CreateSession(title, nil)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, id)
	}

	all, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sessions, want 3", len(all))
	}
	if all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Errorf("sessions not most-recent first: %s, %s, %s", all[0].Title, all[1].Title, all[2].Title)
	}

	limited, err := s.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d sessions with limit 2", len(limited))
	}
}

func TestSaveEntryAndGetTranscript(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateSession("Transcript", nil)

	// Saved out of order; read back sorted by timestamp.
	saves := []textproc.Entry{
		testEntry("bbbb0002", "Today we discuss the budget", 2*time.Second, false),
		testEntry("aaaa0001", "Good morning everyone", time.Second, false),
		testEntry("cccc0003", "Today we discuss the budget first", 3*time.Second, true),
	}
	for _, e := range saves {
		if err := s.SaveEntry(id, e); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}

	got, err := s.GetTranscript(id)
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	wantIDs := []string{"aaaa0001", "bbbb0002", "cccc0003"}
	for i, e := range got {
		if e.TextID != wantIDs[i] {
			t.Errorf("entry %d TextID = %q, want %q", i, e.TextID, wantIDs[i])
		}
		if e.SessionID != id {
			t.Errorf("entry %d SessionID = %q", i, e.SessionID)
		}
	}
	if !got[2].IsIncremental || got[0].IsIncremental {
		t.Error("IsIncremental not round-tripped")
	}
	if !got[0].Timestamp.Equal(entryBase.Add(time.Second)) {
		t.Errorf("Timestamp = %v", got[0].Timestamp)
	}
	if got[0].Confidence != 90 {
		t.Errorf("Confidence = %v", got[0].Confidence)
	}

	n, err := s.CountEntries(id)
	if err != nil || n != 3 {
		t.Errorf("CountEntries = %d, %v; want 3", n, err)
	}
}

func TestSaveEntry_DuplicateTextIDAllowed(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateSession("Collisions", nil)
	for i := 0; i < 2; i++ {
		if err := s.SaveEntry(id, testEntry("deadbeef", "same id", time.Duration(i)*time.Second, false)); err != nil {
			t.Fatalf("SaveEntry %d: %v", i, err)
		}
	}
	got, _ := s.GetTranscript(id)
	if len(got) != 2 || got[0].Seq == got[1].Seq {
		t.Errorf("entries = %+v", got)
	}
}

func TestSaveEntry_UnknownSession(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveEntry("missing", testEntry("a", "orphan line", 0, false))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetTranscript_UnknownSession(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetTranscript("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetTranscript_Isolated(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.CreateSession("A", nil)
	b, _ := s.CreateSession("B", nil)
	s.SaveEntry(a, testEntry("1", "line for a", 0, false))
	s.SaveEntry(b, testEntry("2", "line for b", 0, false))

	got, err := s.GetTranscript(a)
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(got) != 1 || got[0].Content != "line for a" {
		t.Errorf("transcript A = %+v", got)
	}
}

func TestRecordAndListExports(t *testing.T) {
	s := openTestStore(t)
	id, _ := s.CreateSession("Exports", nil)

	if err := s.RecordExport(id, "/tmp/a.txt", "txt"); err != nil {
		t.Fatalf("RecordExport: %v", err)
	}
	if err := s.RecordExport(id, "/tmp/a.md", "md"); err != nil {
		t.Fatalf("RecordExport: %v", err)
	}

	records, err := s.ListExports(id)
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Format != "txt" || records[1].Format != "md" {
		t.Errorf("formats = %q, %q", records[0].Format, records[1].Format)
	}
	if records[0].ExportedAt.IsZero() {
		t.Error("ExportedAt not set")
	}
}

func TestRecordExport_UnknownSession(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordExport("missing", "/tmp/x", "txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
