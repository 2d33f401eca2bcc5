package llm

import (
	"context"
	"strings"
)

// FallbackText replaces a reply whose stream failed.
const FallbackText = "Sorry, something went wrong. Please try again."

// Accumulation is the final reply assembled from a stream.
type Accumulation struct {
	Text      string
	Fallback  bool
	Cause     error
	Fragments int
}

// Fallback builds the substitute reply for a failed backend call.
func Fallback(cause error) Accumulation {
	return Accumulation{Text: FallbackText, Fallback: true, Cause: cause}
}

// Accumulate drains s and concatenates its fragments in arrival order.
//
// A stream that fails part way yields FallbackText and the partial text is
// dropped. If ctx itself is done the caller has gone away: the context
// error is returned and the turn must not be recorded. Backend deadlines
// belong on the context passed to Backend.Stream, not on ctx.
func Accumulate(ctx context.Context, s Stream) (Accumulation, error) {
	defer s.Close()

	var b strings.Builder
	n := 0
	for s.Next() {
		b.WriteString(s.Fragment())
		n++
	}

	if err := ctx.Err(); err != nil {
		return Accumulation{}, err
	}
	if err := s.Err(); err != nil {
		return Fallback(err), nil
	}
	return Accumulation{Text: b.String(), Fragments: n}, nil
}
