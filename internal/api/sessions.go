package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmarquez/vaultmind/internal/domain"
)

// sessionSummary is one history list entry; message bodies are omitted.
type sessionSummary struct {
	LocalID   string      `json:"local_id"`
	Title     string      `json:"title"`
	Mode      domain.Mode `json:"mode"`
	Model     string      `json:"model"`
	Messages  int         `json:"messages"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ListSessions returns the stored history, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.eng.Sessions(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			LocalID:   s.LocalID,
			Title:     s.Title,
			Mode:      s.Mode,
			Model:     s.Model,
			Messages:  len(s.Messages),
			UpdatedAt: s.UpdatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// LoadSession makes a stored session the active one.
func (h *Handler) LoadSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.eng.LoadSession(r.Context(), id); err != nil {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	JSON(w, http.StatusOK, viewSession(h.eng.Session()))
}

// DeleteSession removes a session from history.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.eng.DeleteSession(r.Context(), id); err != nil {
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
