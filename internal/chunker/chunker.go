// Package chunker splits message text into overlapping chunks for vector indexing.
package chunker

import (
	"fmt"
	"iter"
	"unicode"

	"github.com/rcliao/chat-memory/internal/model"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 20
)

// Options configures chunking behavior. Sizes count runes, not bytes.
type Options struct {
	Size    int
	Overlap int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		Size:    DefaultSize,
		Overlap: DefaultOverlap,
	}
}

// Validate checks that the options can make progress.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", o.Size, o.Overlap)
	}
	return nil
}

// Chunker produces deterministic, overlapping chunks.
type Chunker struct {
	opts Options
}

// New returns a Chunker. Zero options fall back to the defaults.
func New(opts Options) (*Chunker, error) {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

// Options returns the options in effect.
func (c *Chunker) Options() Options { return c.opts }

// Chunks returns a lazy sequence of chunks of text. The sequence can be
// ranged over any number of times and always yields the same chunks.
//
// Every chunk after the first begins with the last Overlap runes of the
// chunk before it, so dropping that prefix and concatenating rebuilds text.
func (c *Chunker) Chunks(text string, role model.Role) iter.Seq[model.Chunk] {
	return func(yield func(model.Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}
		if n <= c.opts.Size {
			yield(model.Chunk{Seq: 0, Text: text, SourceRole: role})
			return
		}

		start, seq := 0, 0
		for {
			end := start + c.opts.Size
			if end >= n {
				yield(model.Chunk{Seq: seq, Text: string(runes[start:]), SourceRole: role})
				return
			}
			end = c.boundary(runes, start, end)
			if !yield(model.Chunk{Seq: seq, Text: string(runes[start:end]), SourceRole: role}) {
				return
			}
			start = end - c.opts.Overlap
			seq++
		}
	}
}

// boundary picks the cut point for a window that would end at limit. It
// prefers the position just after the last whitespace rune in the back half
// of the window, and falls back to a hard cut at limit.
func (c *Chunker) boundary(runes []rune, start, limit int) int {
	floor := start + c.opts.Size/2
	if lo := start + c.opts.Overlap + 1; floor < lo {
		floor = lo
	}
	for j := limit; j > floor; j-- {
		if unicode.IsSpace(runes[j-1]) {
			return j
		}
	}
	return limit
}

// Split collects Chunks into a slice.
func (c *Chunker) Split(text string, role model.Role) []model.Chunk {
	var out []model.Chunk
	for ch := range c.Chunks(text, role) {
		out = append(out, ch)
	}
	return out
}

// ForMessage chunks a stored message and tags every chunk with the
// message's user and a deterministic ID derived from the message ID.
func (c *Chunker) ForMessage(msg model.Message) []model.Chunk {
	chunks := c.Split(msg.Text, msg.Role)
	for i := range chunks {
		chunks[i].ID = model.ChunkID(msg.ID, chunks[i].Seq)
		chunks[i].UserID = msg.UserID
		chunks[i].MessageID = msg.ID
	}
	return chunks
}

// Reassemble rebuilds the source text from chunks produced with the given overlap.
func Reassemble(chunks []model.Chunk, overlap int) string {
	var out []rune
	for i, ch := range chunks {
		r := []rune(ch.Text)
		if i > 0 {
			r = r[overlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}
