// Package api provides HTTP handlers for the orchestration engine.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pmarquez/vaultmind/internal/connector"
	"github.com/pmarquez/vaultmind/internal/engine"
	"github.com/pmarquez/vaultmind/internal/store"
)

// Handler provides common handler utilities and routes.
type Handler struct {
	eng                 *engine.Engine
	repo                store.Repository
	registry            *connector.Registry
	hub                 *EventHub
	frontendRedirectURL string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(eng *engine.Engine, repo store.Repository, registry *connector.Registry, hub *EventHub, frontendURL string) *Handler {
	return &Handler{
		eng:                 eng,
		repo:                repo,
		registry:            registry,
		hub:                 hub,
		frontendRedirectURL: frontendURL,
	}
}

// Routes registers all API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Get("/", h.GetChat)
			r.Post("/", h.PostMessage)
			r.Post("/new", h.NewChat)
			r.Post("/approve", h.Approve)
			r.Post("/deny", h.Deny)
			r.Post("/cancel", h.Cancel)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/{id}/load", h.LoadSession)
			r.Delete("/{id}", h.DeleteSession)
		})
		r.Get("/connectors", h.ListConnectors)
	})

	r.Get("/ws/events", h.StreamEvents)
}

// Health reports service and database liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListConnectors returns the discovered connector tools.
func (h *Handler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	tools := []connector.Tool{}
	if h.registry != nil {
		tools = h.registry.Tools()
	}
	JSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// isDevelopment returns true if running in development mode.
func (h *Handler) isDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return h.frontendRedirectURL == "" ||
		strings.Contains(h.frontendRedirectURL, "localhost") ||
		strings.Contains(h.frontendRedirectURL, "127.0.0.1")
}
