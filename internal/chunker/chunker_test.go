package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rcliao/chat-memory/internal/model"
)

func newTestChunker(t *testing.T, opts Options) *Chunker {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}
	return c
}

func TestChunk_EmptyInput(t *testing.T) {
	c := newTestChunker(t, DefaultOptions())
	result := c.Split("", model.RoleUser)
	if result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	c := newTestChunker(t, DefaultOptions())
	for _, text := range []string{
		"This is a short message.",
		"  leading and trailing space kept  ",
		strings.Repeat("x", DefaultSize),
	} {
		result := c.Split(text, model.RoleAssistant)
		if len(result) != 1 {
			t.Fatalf("expected 1 chunk, got %d", len(result))
		}
		if result[0].Text != text {
			t.Errorf("expected %q, got %q", text, result[0].Text)
		}
		if result[0].SourceRole != model.RoleAssistant {
			t.Errorf("expected assistant role, got %q", result[0].SourceRole)
		}
	}
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	opts := Options{Size: 50, Overlap: 5}
	c := newTestChunker(t, opts)
	text := strings.Repeat("This is a line of text about fifty characters. ", 20)
	result := c.Split(text, model.RoleUser)
	if len(result) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result))
	}
	for i, ch := range result {
		if n := utf8.RuneCountInString(ch.Text); n > opts.Size {
			t.Errorf("chunk %d has %d runes, max %d", i, n, opts.Size)
		}
		if ch.Seq != i {
			t.Errorf("chunk %d has seq %d", i, ch.Seq)
		}
	}
}

func TestChunk_Reconstructs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		text string
	}{
		{"words", DefaultOptions(), strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)},
		{"no spaces", Options{Size: 40, Overlap: 7}, strings.Repeat("abcdefghij", 37)},
		{"multibyte", Options{Size: 30, Overlap: 4}, strings.Repeat("héllo wörld ünïcode ", 25)},
		{"zero overlap", Options{Size: 16, Overlap: 0}, strings.Repeat("one two three ", 20)},
		{"trailing tail", Options{Size: 10, Overlap: 3}, "aaaaaaaaaaaaaaaaaaaaaaaaa b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChunker(t, tt.opts)
			chunks := c.Split(tt.text, model.RoleUser)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			if got := Reassemble(chunks, tt.opts.Overlap); got != tt.text {
				t.Errorf("reassembled text differs\n got %q\nwant %q", got, tt.text)
			}
			for i := 1; i < len(chunks); i++ {
				prev := []rune(chunks[i-1].Text)
				cur := []rune(chunks[i].Text)
				if string(prev[len(prev)-tt.opts.Overlap:]) != string(cur[:tt.opts.Overlap]) {
					t.Errorf("chunk %d does not overlap its predecessor", i)
				}
			}
		})
	}
}

func TestChunk_PrefersWordBoundaries(t *testing.T) {
	c := newTestChunker(t, Options{Size: 20, Overlap: 2})
	chunks := c.Split("alpha beta gamma delta epsilon zeta eta theta", model.RoleUser)
	if !strings.HasSuffix(chunks[0].Text, " ") {
		t.Errorf("expected first chunk to end at a word boundary, got %q", chunks[0].Text)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := newTestChunker(t, Options{Size: 25, Overlap: 5})
	text := strings.Repeat("determinism matters here ", 12)
	seq := c.Chunks(text, model.RoleUser)

	var first, second []string
	for ch := range seq {
		first = append(first, ch.Text)
	}
	for ch := range seq {
		second = append(second, ch.Text)
	}
	if strings.Join(first, "|") != strings.Join(second, "|") {
		t.Error("expected restartable sequence to yield identical chunks")
	}
}

func TestChunk_EarlyStop(t *testing.T) {
	c := newTestChunker(t, Options{Size: 10, Overlap: 2})
	count := 0
	for range c.Chunks(strings.Repeat("abc ", 50), model.RoleUser) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("expected to stop after 2 chunks, got %d", count)
	}
}

func TestForMessage_TagsChunks(t *testing.T) {
	c := newTestChunker(t, Options{Size: 10, Overlap: 2})
	msg := model.Message{ID: "01MSG", UserID: "alice", Role: model.RoleUser, Text: "hello there general kenobi"}
	chunks := c.ForMessage(msg)
	for i, ch := range chunks {
		if ch.ID != model.ChunkID("01MSG", i) {
			t.Errorf("chunk %d id = %q", i, ch.ID)
		}
		if ch.UserID != "alice" || ch.MessageID != "01MSG" {
			t.Errorf("chunk %d not tagged: %+v", i, ch)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	bad := []Options{
		{Size: -1, Overlap: 0},
		{Size: 10, Overlap: 10},
		{Size: 10, Overlap: -1},
	}
	for _, o := range bad {
		if _, err := New(o); err == nil {
			t.Errorf("expected error for %+v", o)
		}
	}
}
