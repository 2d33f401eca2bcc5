package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rcliao/chat-memory/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m1, err := s.Append(ctx, model.Message{UserID: "alice", Role: model.RoleUser, Text: "What is the capital of France?"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if m1.ID == "" {
		t.Error("expected non-empty ID")
	}
	if m1.CreatedAt.IsZero() {
		t.Error("expected created_at to be assigned")
	}
	m2, err := s.Append(ctx, model.Message{ID: "preset-id", UserID: "alice", Role: model.RoleAssistant, Text: "Paris is the capital."})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if m2.ID != "preset-id" {
		t.Errorf("expected preset id to be kept, got %q", m2.ID)
	}

	got, err := s.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Role != model.RoleUser || got[1].Role != model.RoleAssistant {
		t.Errorf("unexpected role order: %s, %s", got[0].Role, got[1].Role)
	}
	if got[1].Text != "Paris is the capital." {
		t.Errorf("unexpected text %q", got[1].Text)
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Errorf("expected strictly increasing created_at, got %v then %v", got[0].CreatedAt, got[1].CreatedAt)
	}
}

func TestLoad_UnknownUser(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestAppend_RejectsInvalidRole(t *testing.T) {
	s := newTestStore(t)
	for _, role := range []model.Role{"", model.RoleSystem, "bot"} {
		if _, err := s.Append(context.Background(), model.Message{UserID: "u", Role: role, Text: "x"}); err == nil {
			t.Errorf("expected error for role %q", role)
		}
	}
}

func TestAppend_DuplicateIDIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	msg := model.Message{ID: "dup", UserID: "u", Role: model.RoleUser, Text: "x"}
	if _, err := s.Append(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err := s.Append(ctx, msg)
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestConcurrentAppendsStayOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	users := []string{"alice", "bob", "carol"}
	var wg sync.WaitGroup
	for _, u := range users {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Append(ctx, model.Message{UserID: u, Role: model.RoleUser, Text: fmt.Sprintf("%s %d", u, i)}); err != nil {
					t.Errorf("append: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	for _, u := range users {
		got, err := s.Load(ctx, u)
		if err != nil {
			t.Fatalf("load %s: %v", u, err)
		}
		if len(got) != 20 {
			t.Errorf("%s: expected 20 messages, got %d", u, len(got))
		}
		ordered := sort.SliceIsSorted(got, func(i, j int) bool {
			return got[i].CreatedAt.Before(got[j].CreatedAt)
		})
		if !ordered {
			t.Errorf("%s: messages not ordered by created_at", u)
		}
		for _, m := range got {
			if m.UserID != u {
				t.Errorf("%s: leaked message from %s", u, m.UserID)
			}
		}
	}
}

func TestReopenKeepsHistoryAndClock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, _ := s.Append(ctx, model.Message{UserID: "alice", Role: model.RoleUser, Text: "before restart"})
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	second, _ := s.Append(ctx, model.Message{UserID: "alice", Role: model.RoleAssistant, Text: "after restart"})
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Errorf("expected clock to resume after %v, got %v", first.CreatedAt, second.CreatedAt)
	}

	got, _ := s.Load(ctx, "alice")
	if len(got) != 2 || got[0].Text != "before restart" {
		t.Errorf("unexpected history %+v", got)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Append(ctx, model.Message{UserID: "alice", Role: model.RoleUser, Text: "a"})
	s.Append(ctx, model.Message{UserID: "alice", Role: model.RoleAssistant, Text: "b"})
	s.Append(ctx, model.Message{UserID: "bob", Role: model.RoleUser, Text: "c"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalMessages != 3 || st.TotalUsers != 2 {
		t.Errorf("unexpected totals: %+v", st)
	}
	if len(st.Users) != 2 || st.Users[0].UserID != "alice" || st.Users[0].Assistant != 1 {
		t.Errorf("unexpected per-user stats: %+v", st.Users)
	}
	if st.Backend != "sqlite" || st.DBPath == "" {
		t.Errorf("unexpected backend info: %+v", st)
	}
}

func TestOpen_DefaultsToSQLite(t *testing.T) {
	h, err := Open(context.Background(), "  ", filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	if _, ok := h.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", h)
	}
}

func TestStats_ReportsQueryErrors(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	if _, err := s.Stats(context.Background()); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
