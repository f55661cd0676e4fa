package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/caplog/internal/textproc"
)

func res(text string) textproc.Result {
	return textproc.Result{Text: text, Confidence: 90}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(3)
	var evictions []bool
	for i := 1; i <= 5; i++ {
		evicted, err := q.Push(res(fmt.Sprint(i)))
		if err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		evictions = append(evictions, evicted)
	}

	wantEvicted := []bool{false, false, false, true, true}
	for i := range wantEvicted {
		if evictions[i] != wantEvicted[i] {
			t.Errorf("push %d evicted = %v, want %v", i+1, evictions[i], wantEvicted[i])
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	q.Close()
	var got []string
	for {
		r, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, r.Text)
	}
	if fmt.Sprint(got) != "[3 4 5]" {
		t.Errorf("drained %v, want [3 4 5]", got)
	}
}

func TestQueue_DefaultSize(t *testing.T) {
	q := NewQueue(0)
	if cap(q.items) != DefaultQueueSize {
		t.Errorf("capacity = %d, want %d", cap(q.items), DefaultQueueSize)
	}
}

func TestQueue_PushAfterClose(t *testing.T) {
	q := NewQueue(2)
	if _, err := q.Push(res("kept")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	q.Close()
	q.Close()

	if _, err := q.Push(res("late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Push after Close error = %v, want ErrStopped", err)
	}
	if r, ok := q.Pop(); !ok || r.Text != "kept" {
		t.Errorf("Pop = %q, %v; want queued result", r.Text, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on closed empty queue returned a result")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const producers, perProducer, size = 8, 50, 10
	q := NewQueue(size)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		evicted int
	)
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				ev, err := q.Push(res(fmt.Sprintf("%d-%d", p, i)))
				if err != nil {
					t.Errorf("Push: %v", err)
					return
				}
				if ev {
					mu.Lock()
					evicted++
					mu.Unlock()
				}
			}
		})
	}
	wg.Wait()

	if q.Len() != size {
		t.Errorf("Len = %d, want %d", q.Len(), size)
	}
	if want := producers*perProducer - size; evicted != want {
		t.Errorf("evicted = %d, want %d", evicted, want)
	}
}

func TestQueue_PushWaitKeepsEverything(t *testing.T) {
	q := NewQueue(2)
	const n = 50

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			r, ok := q.Pop()
			if !ok {
				return
			}
			got = append(got, r.Text)
		}
	}()

	for i := range n {
		if err := q.PushWait(context.Background(), res(fmt.Sprint(i))); err != nil {
			t.Fatalf("PushWait %d: %v", i, err)
		}
	}
	q.Close()
	<-done

	if len(got) != n {
		t.Fatalf("consumer saw %d results, want %d", len(got), n)
	}
	for i, text := range got {
		if text != fmt.Sprint(i) {
			t.Fatalf("got[%d] = %q, want %d", i, text, i)
		}
	}
}

func TestQueue_PushWaitUnblocks(t *testing.T) {
	t.Run("context", func(t *testing.T) {
		q := NewQueue(1)
		q.Push(res("fill"))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := q.PushWait(ctx, res("late")); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("PushWait = %v, want deadline exceeded", err)
		}
	})

	t.Run("close", func(t *testing.T) {
		q := NewQueue(1)
		q.Push(res("fill"))
		errc := make(chan error, 1)
		go func() { errc <- q.PushWait(context.Background(), res("late")) }()

		time.Sleep(10 * time.Millisecond)
		q.Close()
		select {
		case err := <-errc:
			if !errors.Is(err, ErrStopped) {
				t.Errorf("PushWait = %v, want ErrStopped", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("PushWait still blocked after Close")
		}
		if r, ok := q.Pop(); !ok || r.Text != "fill" {
			t.Errorf("queued result lost: %+v, %v", r, ok)
		}
	})
}
