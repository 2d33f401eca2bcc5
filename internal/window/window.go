// Package window holds the bounded recent-turn memory of one conversation.
package window

import "sync"

// DefaultK is the number of pairs kept when none is configured.
const DefaultK = 5

// Pair is one exchange: what the user said and what the assistant answered.
type Pair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Window keeps the last K pairs with FIFO eviction. It is safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	k     int
	pairs []Pair
}

// New creates a window holding at most k pairs.
func New(k int) *Window {
	if k <= 0 {
		k = DefaultK
	}
	return &Window{k: k}
}

// Push appends a pair and evicts the oldest once more than K are held.
func (w *Window) Push(user, assistant string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pairs = append(w.pairs, Pair{User: user, Assistant: assistant})
	if len(w.pairs) > w.k {
		w.pairs = append([]Pair(nil), w.pairs[len(w.pairs)-w.k:]...)
	}
}

// Snapshot returns a copy of the held pairs, oldest first.
func (w *Window) Snapshot() []Pair {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Pair, len(w.pairs))
	copy(out, w.pairs)
	return out
}

// Len returns the number of held pairs.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pairs)
}

// K returns the window capacity.
func (w *Window) K() int { return w.k }

// Reset drops every pair.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pairs = nil
}
