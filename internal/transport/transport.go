// Package transport carries turn requests to the external agent process and
// yields its ordered event stream back to the engine.
package transport

import (
	"context"
	"iter"

	"github.com/pmarquez/vaultmind/internal/domain"
)

// Request is one outbound message to the agent backend.
type Request struct {
	// Message is the full text to send, context prefix included.
	Message string
	// BackendSessionID resumes an existing backend session when non-empty.
	BackendSessionID string
	Model            string
	WorkingDir       string
	AllowedTools     []string
	// SystemPrompt is appended to the agent's system instructions; empty for
	// project mode.
	SystemPrompt string
	// ConnectorConfigPath points at the connector (MCP) server configuration
	// file, or "" when connectors are disabled.
	ConnectorConfigPath string
}

// Event is one element of the ordered per-turn stream. Exactly one of the
// payload fields is meaningful per event; Done terminates the stream.
type Event struct {
	// SessionID announces or confirms the backend session id.
	SessionID string `json:"session_id,omitempty"`
	// Content is an assistant text delta.
	Content string `json:"content,omitempty"`
	// Tool reports tool activity.
	Tool *domain.ToolEvent `json:"tool,omitempty"`
	// Done marks the normal end of the turn.
	Done bool `json:"done,omitempty"`
}

// Transport delivers one turn's event stream. Send must yield events strictly
// in the order the backend produced them and stop when ctx is cancelled.
type Transport interface {
	Send(ctx context.Context, req Request) iter.Seq2[*Event, error]
}
