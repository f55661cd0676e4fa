package recorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/caplog/internal/textproc"
)

var demoLines = []string{
	"Good morning everyone",
	"Today we discuss the budget",
	"Questions are welcome at the end",
}

// distinctLine returns three hex words derived from i. For i below 100 no
// line is within the duplicate threshold of its ten predecessors, nor
// contains the previous one.
func distinctLine(i int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(i)))
	h := hex.EncodeToString(sum[:])
	return h[0:8] + " " + h[8:16] + " " + h[16:24]
}

type fakeStore struct {
	mu      sync.Mutex
	calls   []string
	entries []textproc.Entry
	saveErr error
	endErr  error
	gate    chan struct{}
}

func (f *fakeStore) SaveEntry(sessionID string, e textproc.Entry) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "save")
	if f.saveErr != nil {
		return f.saveErr
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) EndSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "end")
	return f.endErr
}

func (f *fakeStore) snapshot() ([]string, []textproc.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]textproc.Entry(nil), f.entries...)
}

func TestRecorder_PersistsInArrivalOrder(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder("s1", textproc.New(), store, 0)
	rec.Start(context.Background())

	for _, line := range demoLines {
		if err := rec.Submit(res(line)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	rep, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls, entries := store.snapshot()
	if len(entries) != len(demoLines) {
		t.Fatalf("saved %d entries, want %d", len(entries), len(demoLines))
	}
	for i, e := range entries {
		if e.Text != demoLines[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Text, demoLines[i])
		}
		if i > 0 && e.Timestamp.Before(entries[i-1].Timestamp) {
			t.Errorf("entry %d timestamp went backwards", i)
		}
	}
	if calls[len(calls)-1] != "end" {
		t.Errorf("EndSession was not the last call: %v", calls)
	}

	if rep.Received != 3 || rep.Accepted != 3 || rep.Rejected != 0 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Summary == nil {
		t.Fatal("expected a session summary")
	}
	want := "Good morning everyone Today we discuss the budget Questions are welcome at the end"
	if rep.Summary.Text != want {
		t.Errorf("summary text = %q, want %q", rep.Summary.Text, want)
	}
}

func TestRecorder_StopDrainsBeforeEnding(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	rec := NewRecorder("s1", textproc.New(), store, 0)
	rec.Start(context.Background())

	for _, line := range demoLines {
		if err := rec.Submit(res(line)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if _, err := rec.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the consumer was blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.gate)
	<-stopped

	calls, entries := store.snapshot()
	if len(entries) != 3 {
		t.Fatalf("saved %d entries, want 3", len(entries))
	}
	want := []string{"save", "save", "save", "end"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls = %v, want %v", calls, want)
			break
		}
	}
}

func TestRecorder_StopWithoutStartDrains(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder("s1", textproc.New(), store, 0)
	for _, line := range demoLines {
		if err := rec.Submit(res(line)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, entries := store.snapshot(); len(entries) != 3 {
		t.Errorf("saved %d entries, want 3", len(entries))
	}
}

func TestRecorder_SubmitAfterStop(t *testing.T) {
	rec := NewRecorder("s1", textproc.New(), &fakeStore{}, 0)
	rec.Start(context.Background())
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := rec.Submit(res("too late for this")); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestRecorder_StopIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	rec := NewRecorder("s1", textproc.New(), store, 0)
	rec.Start(context.Background())
	rec.Submit(res(demoLines[0]))

	first, err1 := rec.Stop()
	second, err2 := rec.Stop()
	if err1 != nil || err2 != nil {
		t.Fatalf("Stop errors: %v, %v", err1, err2)
	}
	if first.Accepted != second.Accepted {
		t.Errorf("reports differ: %+v vs %+v", first, second)
	}
	calls, _ := store.snapshot()
	ends := 0
	for _, c := range calls {
		if c == "end" {
			ends++
		}
	}
	if ends != 1 {
		t.Errorf("EndSession called %d times, want 1", ends)
	}
}

func TestRecorder_StorageErrorsSurfaceOnStop(t *testing.T) {
	saveErr := errors.New("disk full")
	store := &fakeStore{saveErr: saveErr}
	rec := NewRecorder("s1", textproc.New(), store, 0)
	rec.Start(context.Background())
	rec.Submit(res(demoLines[0]))

	_, err := rec.Stop()
	if !errors.Is(err, saveErr) {
		t.Fatalf("Stop error = %v, want wrapped %v", err, saveErr)
	}
	calls, _ := store.snapshot()
	if calls[len(calls)-1] != "end" {
		t.Error("session should still be ended after a save failure")
	}
}

func TestRecorder_EndErrorSurfaces(t *testing.T) {
	endErr := errors.New("locked")
	rec := NewRecorder("s1", textproc.New(), &fakeStore{endErr: endErr}, 0)
	rec.Start(context.Background())
	if _, err := rec.Stop(); !errors.Is(err, endErr) {
		t.Errorf("Stop error = %v, want wrapped %v", err, endErr)
	}
}

func TestRecorder_CountsRejections(t *testing.T) {
	rec := NewRecorder("s1", textproc.New(), &fakeStore{}, 0)
	rec.Start(context.Background())
	rec.Submit(textproc.Result{Text: "Good morning everyone", Confidence: 5})
	rec.Submit(res("Good morning everyone"))
	rec.Submit(res("Good morning everyone"))

	rep, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rep.Received != 3 || rep.Accepted != 1 || rep.Rejected != 2 {
		t.Errorf("report = %+v, want 3 received, 1 accepted, 2 rejected", rep)
	}
}

func TestRecorder_ContextCancelDrains(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	rec := NewRecorder("s1", textproc.New(), store, 0)
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	for _, line := range demoLines {
		rec.Submit(res(line))
	}
	cancel()
	close(store.gate)

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, entries := store.snapshot(); len(entries) != 3 {
		t.Errorf("saved %d entries, want 3", len(entries))
	}
}

func TestRecorder_StartResetsProcessor(t *testing.T) {
	proc := textproc.New()
	if _, ok := proc.Accept(res(demoLines[0])); !ok {
		t.Fatal("priming line rejected")
	}

	store := &fakeStore{}
	rec := NewRecorder("s2", proc, store, 0)
	rec.Start(context.Background())
	rec.Submit(res(demoLines[0]))
	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, entries := store.snapshot(); len(entries) != 1 {
		t.Errorf("line from a previous recording suppressed a new one")
	}
}
