package domain

import (
	"strings"
	"testing"
)

func TestModeValid(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModeVault, true},
		{ModeProject, true},
		{Mode("admin"), false},
		{Mode(""), false},
	}
	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.want {
			t.Errorf("Mode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{
			name:     "no messages",
			messages: nil,
			want:     "Untitled chat",
		},
		{
			name: "first user message",
			messages: []Message{
				{Role: RoleUser, Content: "summarize my meeting notes"},
				{Role: RoleAssistant, Content: "Sure."},
			},
			want: "summarize my meeting notes",
		},
		{
			name: "skips assistant messages",
			messages: []Message{
				{Role: RoleAssistant, Content: "Hello!"},
				{Role: RoleUser, Content: "hi"},
			},
			want: "hi",
		},
		{
			name: "newlines flattened",
			messages: []Message{
				{Role: RoleUser, Content: "line one\nline two"},
			},
			want: "line one line two",
		},
		{
			name: "long message truncated",
			messages: []Message{
				{Role: RoleUser, Content: strings.Repeat("a", 100)},
			},
			want: strings.Repeat("a", 60),
		},
		{
			name: "truncation keeps multi-byte characters intact",
			messages: []Message{
				{Role: RoleUser, Content: strings.Repeat("ü", 100)},
			},
			want: strings.Repeat("ü", 60),
		},
		{
			name: "whitespace only falls through",
			messages: []Message{
				{Role: RoleUser, Content: "   \n  "},
				{Role: RoleUser, Content: "real question"},
			},
			want: "real question",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &ConversationSession{Messages: tt.messages}
			if got := s.Title(); got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResetBackend(t *testing.T) {
	s := NewConversationSession("id", ModeProject, "m")
	s.BackendSessionID = "backend-1"
	s.ApproveTool("Bash")

	s.ResetBackend()

	if s.BackendSessionID != "" {
		t.Errorf("backend session id = %q, want empty", s.BackendSessionID)
	}
	if s.IsApproved("Bash") {
		t.Error("allow-list survived backend reset")
	}
}

func TestLastUserMessage(t *testing.T) {
	s := NewConversationSession("id", ModeVault, "m")
	if got := s.LastUserMessage(); got != "" {
		t.Errorf("LastUserMessage() = %q on empty log", got)
	}
	s.Append(RoleUser, "first")
	s.Append(RoleAssistant, "reply")
	s.Append(RoleUser, "second")
	s.Append(RoleAssistant, "another reply")
	if got := s.LastUserMessage(); got != "second" {
		t.Errorf("LastUserMessage() = %q, want second", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := NewConversationSession("id", ModeProject, "m")
	s.BackendSessionID = "backend-1"
	s.Append(RoleUser, "question")
	s.Append(RoleAssistant, "answer")
	s.ApproveTool("Bash")
	s.RetryCount = 2

	restored := s.Snapshot().Restore()

	if restored.LocalID != "id" || restored.BackendSessionID != "backend-1" {
		t.Errorf("restored ids (%q, %q)", restored.LocalID, restored.BackendSessionID)
	}
	if len(restored.Messages) != 2 {
		t.Errorf("restored %d messages, want 2", len(restored.Messages))
	}
	// Approvals and retry state never round-trip through the store.
	if restored.IsApproved("Bash") {
		t.Error("approval survived snapshot/restore")
	}
	if restored.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", restored.RetryCount)
	}

	// The snapshot owns its own message slice.
	snap := s.Snapshot()
	s.Append(RoleUser, "later")
	if len(snap.Messages) != 2 {
		t.Errorf("snapshot grew with the live session: %d messages", len(snap.Messages))
	}
}

func TestClone(t *testing.T) {
	s := NewConversationSession("local-1", ModeProject, "default")
	s.Append(RoleUser, "hello")
	s.ApproveTool("Bash")

	c := s.Clone()
	c.Append(RoleAssistant, "scratch")
	c.ApproveTool("Write")

	if len(s.Messages) != 1 {
		t.Errorf("clone append leaked: %d messages", len(s.Messages))
	}
	if s.IsApproved("Write") {
		t.Error("clone approval leaked into the original")
	}
	if !c.IsApproved("Bash") {
		t.Error("clone lost an existing approval")
	}
}
