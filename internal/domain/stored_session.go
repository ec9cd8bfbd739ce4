package domain

import "time"

// StoredSession is the serialized form of a session at the persistence
// boundary. The session allow-list and retry count are deliberately absent:
// neither survives a save/load cycle.
type StoredSession struct {
	LocalID          string    `json:"local_id"`
	BackendSessionID string    `json:"backend_session_id,omitempty"`
	Title            string    `json:"title"`
	Model            string    `json:"model"`
	Mode             Mode      `json:"mode"`
	Messages         []Message `json:"messages"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Snapshot converts a live session to its persisted form.
func (s *ConversationSession) Snapshot() *StoredSession {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return &StoredSession{
		LocalID:          s.LocalID,
		BackendSessionID: s.BackendSessionID,
		Title:            s.Title(),
		Model:            s.Model,
		Mode:             s.Mode,
		Messages:         msgs,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// Restore rebuilds a live session from its persisted form. The allow-list
// starts empty: loading a past session never carries approvals forward.
func (st *StoredSession) Restore() *ConversationSession {
	msgs := make([]Message, len(st.Messages))
	copy(msgs, st.Messages)
	return &ConversationSession{
		LocalID:          st.LocalID,
		BackendSessionID: st.BackendSessionID,
		Mode:             st.Mode,
		Model:            st.Model,
		Messages:         msgs,
		ApprovedTools:    make(map[string]struct{}),
		CreatedAt:        st.CreatedAt,
		UpdatedAt:        st.UpdatedAt,
	}
}
