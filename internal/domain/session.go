// Package domain defines the core types for the agent orchestration engine.
package domain

import (
	"strings"
	"time"
)

// Mode selects the capability profile for a conversation.
type Mode string

const (
	// ModeVault restricts the agent to read/search tools inside the note vault.
	ModeVault Mode = "vault"
	// ModeProject gives the agent broader access to a project directory.
	ModeProject Mode = "project"
)

// Valid reports whether m is a known capability mode.
func (m Mode) Valid() bool {
	return m == ModeVault || m == ModeProject
}

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the agent.
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation log. Messages are append-only:
// once recorded they are never edited in place.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationSession holds the state of one chat session. It is owned by the
// turn controller; nothing else mutates it directly.
type ConversationSession struct {
	// LocalID is generated once per new chat and is stable for persistence.
	LocalID string
	// BackendSessionID is assigned by the agent backend on the first turn and
	// may be cleared to force a fresh backend session.
	BackendSessionID string
	Mode             Mode
	Model            string
	Messages         []Message
	// ApprovedTools are tools the user approved for the remainder of this
	// session. Never shared across LocalIDs.
	ApprovedTools map[string]struct{}
	// RetryCount counts auto-reject resubmissions within the current turn.
	RetryCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewConversationSession creates an empty session for the given mode and model.
func NewConversationSession(localID string, mode Mode, model string) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		LocalID:       localID,
		Mode:          mode,
		Model:         model,
		ApprovedTools: make(map[string]struct{}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Append records a message at the end of the log.
func (s *ConversationSession) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.UpdatedAt = time.Now()
}

// LastUserMessage returns the most recent user-authored message, or "" if the
// log has none.
func (s *ConversationSession) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Clone returns an independent copy of the session. Readers outside the
// controller get clones so the live session is only ever touched under the
// controller's lock.
func (s *ConversationSession) Clone() *ConversationSession {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.ApprovedTools = make(map[string]struct{}, len(s.ApprovedTools))
	for name := range s.ApprovedTools {
		c.ApprovedTools[name] = struct{}{}
	}
	return &c
}

// ApproveTool adds a tool to the session allow-list.
func (s *ConversationSession) ApproveTool(name string) {
	s.ApprovedTools[name] = struct{}{}
}

// IsApproved reports whether the user approved the tool earlier this session.
func (s *ConversationSession) IsApproved(name string) bool {
	_, ok := s.ApprovedTools[name]
	return ok
}

// ResetBackend clears the backend session id and the session allow-list,
// forcing the next request to start a fresh backend session.
func (s *ConversationSession) ResetBackend() {
	s.BackendSessionID = ""
	s.ApprovedTools = make(map[string]struct{})
}

// maxTitleLen bounds history titles, matching the history list rendering.
const maxTitleLen = 60

// Title derives a history title from the first user message.
func (s *ConversationSession) Title() string {
	for _, m := range s.Messages {
		if m.Role != RoleUser {
			continue
		}
		t := strings.TrimSpace(strings.ReplaceAll(m.Content, "\n", " "))
		if r := []rune(t); len(r) > maxTitleLen {
			t = strings.TrimSpace(string(r[:maxTitleLen]))
		}
		if t != "" {
			return t
		}
	}
	return "Untitled chat"
}
