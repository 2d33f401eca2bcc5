package assembler

import (
	"strings"
	"testing"

	"github.com/rcliao/chat-memory/internal/model"
	"github.com/rcliao/chat-memory/internal/window"
)

func TestPromptContext_Messages(t *testing.T) {
	pc := PromptContext{
		System:    "sys",
		Retrieved: []string{"first chunk", "second chunk"},
		Window: []window.Pair{
			{User: "q1", Assistant: "a1"},
			{User: "q2", Assistant: "a2"},
		},
		Incoming: "q3",
	}
	msgs := pc.Messages()
	want := []struct {
		role    model.Role
		content string
	}{
		{model.RoleSystem, "sys"},
		{model.RoleSystem, "Context: first chunk\n\nsecond chunk"},
		{model.RoleUser, "q1"},
		{model.RoleAssistant, "a1"},
		{model.RoleUser, "q2"},
		{model.RoleAssistant, "a2"},
		{model.RoleUser, "q3"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Errorf("message %d = %+v, want %s %q", i, msgs[i], w.role, w.content)
		}
	}
}

func TestPromptContext_NoContextBlockWhenEmpty(t *testing.T) {
	msgs := PromptContext{System: "sys", Incoming: "hi"}.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected system and user only, got %+v", msgs)
	}
}

func TestExtractionMessages(t *testing.T) {
	msgs := ExtractionMessages("héllo wörld", 5)
	if len(msgs) != 2 || msgs[0].Role != model.RoleSystem || msgs[1].Role != model.RoleUser {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !strings.HasSuffix(msgs[1].Content, "\n\nhéllo") {
		t.Errorf("expected content truncated to 5 runes, got %q", msgs[1].Content)
	}
	if full := ExtractionMessages("short", 0); !strings.HasSuffix(full[1].Content, "short") {
		t.Errorf("zero limit should keep content, got %q", full[1].Content)
	}
}
