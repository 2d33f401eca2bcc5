package window

import (
	"fmt"
	"sync"
	"testing"
)

func TestWindow_EvictsFIFO(t *testing.T) {
	w := New(3)
	for i := 0; i < 5; i++ {
		w.Push(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	got := w.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(got))
	}
	for i, p := range got {
		want := Pair{User: fmt.Sprintf("q%d", i+2), Assistant: fmt.Sprintf("a%d", i+2)}
		if p != want {
			t.Errorf("pair %d = %+v, want %+v", i, p, want)
		}
	}
}

func TestWindow_SnapshotIsCopy(t *testing.T) {
	w := New(2)
	w.Push("hello", "hi")
	snap := w.Snapshot()
	snap[0].User = "changed"
	if w.Snapshot()[0].User != "hello" {
		t.Error("snapshot mutation leaked into window")
	}
}

func TestWindow_Reset(t *testing.T) {
	w := New(0)
	if w.K() != DefaultK {
		t.Errorf("expected default k %d, got %d", DefaultK, w.K())
	}
	w.Push("a", "b")
	w.Reset()
	if w.Len() != 0 || len(w.Snapshot()) != 0 {
		t.Error("expected empty window after reset")
	}
}

func TestWindow_ConcurrentPush(t *testing.T) {
	w := New(5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Push("u", "a")
			_ = w.Snapshot()
		}()
	}
	wg.Wait()
	if w.Len() != 5 {
		t.Errorf("expected 5 pairs, got %d", w.Len())
	}
}
