package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pmarquez/vaultmind/internal/domain"
	"github.com/pmarquez/vaultmind/internal/engine"
)

type newChatRequest struct {
	Mode  domain.Mode `json:"mode"`
	Model string      `json:"model,omitempty"`
}

type postMessageRequest struct {
	Message string `json:"message"`
}

// sessionView is the wire shape of the active session.
type sessionView struct {
	LocalID  string           `json:"local_id"`
	Mode     domain.Mode      `json:"mode"`
	Model    string           `json:"model"`
	Title    string           `json:"title"`
	Messages []domain.Message `json:"messages"`
}

type chatStateView struct {
	Session *sessionView       `json:"session,omitempty"`
	State   string             `json:"state"`
	Pending *domain.ToolEvent  `json:"pending_approval,omitempty"`
	Agents  []domain.AgentNode `json:"agents,omitempty"`
}

func viewSession(s *domain.ConversationSession) *sessionView {
	if s == nil {
		return nil
	}
	return &sessionView{
		LocalID:  s.LocalID,
		Mode:     s.Mode,
		Model:    s.Model,
		Title:    s.Title(),
		Messages: s.Messages,
	}
}

// NewChat starts a fresh conversation, saving the previous one to history.
func (h *Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	var req newChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeVault
	}

	if _, err := h.eng.NewChat(r.Context(), req.Mode, req.Model); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusCreated, viewSession(h.eng.Session()))
}

// GetChat returns the active session and turn state.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	view := chatStateView{
		Session: viewSession(h.eng.Session()),
		State:   h.eng.State().String(),
		Agents:  h.eng.AgentNodes(),
	}
	if p := h.eng.Pending(); p != nil {
		ev := p.Event
		view.Pending = &ev
	}
	JSON(w, http.StatusOK, view)
}

// PostMessage starts a turn from a user message.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.eng.StartTurn(req.Message)
	switch {
	case err == nil:
		JSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, engine.ErrTurnInFlight), errors.Is(err, engine.ErrApprovalPending):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNoSession):
		Error(w, http.StatusConflict, "no active session, create a chat first")
	default:
		Error(w, http.StatusBadRequest, err.Error())
	}
}

// Approve resolves the pending tool approval in the tool's favor.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Approve(); err != nil {
		Error(w, http.StatusConflict, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// Deny resolves the pending tool approval against the tool.
func (h *Handler) Deny(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.Deny(); err != nil {
		Error(w, http.StatusConflict, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

// Cancel stops the turn in flight, if any.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.eng.Cancel()
	JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
