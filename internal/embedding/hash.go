package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashDims is the vector width of HashEmbedder when none is given.
const DefaultHashDims = 256

// HashEmbedder maps text to a bag-of-words vector with the hashing trick.
// It needs no network and gives lexical, not semantic, similarity.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a feature-hashing embedder.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, e.dims)
	for _, tok := range tokenize(text) {
		h := xxhash.Sum64String(tok)
		idx := int(h % uint64(e.dims))
		if h&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	normalize(v)
	return v, nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

// tokenize splits text into lower-cased words. Text without letters or
// digits ("???", emoji) falls back to its individual symbols so that any
// non-blank text gets a non-zero vector.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) > 0 {
		return words
	}
	var symbols []string
	for _, r := range lower {
		if !unicode.IsSpace(r) {
			symbols = append(symbols, string(r))
		}
	}
	return symbols
}

func normalize(v Vector) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
