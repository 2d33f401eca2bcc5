package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/chat-memory/internal/model"
)

// MockResponse scripts one streamed reply.
type MockResponse struct {
	Fragments []string
	// FailAfter, when >= 0 together with Err, makes the stream fail after
	// that many fragments have been delivered.
	FailAfter int
	Err       error
	// OpenErr fails the request before any stream exists.
	OpenErr error
	// Delay is waited before each fragment.
	Delay time.Duration
}

// Reply scripts a successful stream of fragments.
func Reply(fragments ...string) MockResponse {
	return MockResponse{Fragments: fragments, FailAfter: -1}
}

// MockBackend replays scripted responses in order; once exhausted, the last
// one repeats. With no responses it echoes the last user message.
type MockBackend struct {
	mu        sync.Mutex
	responses []MockResponse
	callIndex int
	calls     []Request
}

// NewMockBackend creates a mock backend with a sequence of responses.
func NewMockBackend(responses ...MockResponse) *MockBackend {
	return &MockBackend{responses: responses}
}

// NewEchoBackend returns a backend that answers with the user's own words.
// It lets the service run without any model credentials.
func NewEchoBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if len(m.responses) == 0 {
		return &mockStream{ctx: ctx, resp: Reply(echo(req)...), pos: -1}, nil
	}

	idx := m.callIndex
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	} else {
		m.callIndex++
	}

	resp := m.responses[idx]
	if resp.OpenErr != nil {
		return nil, fmt.Errorf("%w: mock: %w", model.ErrBackendStream, resp.OpenErr)
	}
	return &mockStream{ctx: ctx, resp: resp, pos: -1}, nil
}

// Calls returns the requests received so far.
func (m *MockBackend) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func echo(req Request) []string {
	var last string
	for _, msg := range req.Messages {
		if msg.Role == model.RoleUser {
			last = msg.Content
		}
	}
	words := strings.SplitAfter("You said: "+last, " ")
	return words
}

type mockStream struct {
	ctx    context.Context
	resp   MockResponse
	pos    int
	err    error
	closed bool
}

func (s *mockStream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	next := s.pos + 1
	if s.resp.Err != nil && s.resp.FailAfter >= 0 && next >= s.resp.FailAfter {
		s.err = fmt.Errorf("%w: mock: %w", model.ErrBackendStream, s.resp.Err)
		return false
	}
	if next >= len(s.resp.Fragments) {
		return false
	}
	if s.resp.Delay > 0 {
		t := time.NewTimer(s.resp.Delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			s.err = fmt.Errorf("%w: mock: %w", model.ErrBackendStream, s.ctx.Err())
			return false
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		s.err = fmt.Errorf("%w: mock: %w", model.ErrBackendStream, err)
		return false
	}
	s.pos = next
	return true
}

func (s *mockStream) Fragment() string {
	if s.pos < 0 || s.pos >= len(s.resp.Fragments) {
		return ""
	}
	return s.resp.Fragments[s.pos]
}

func (s *mockStream) Err() error { return s.err }

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}
