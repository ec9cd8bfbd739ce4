package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/pmarquez/vaultmind/internal/engine"
)

// EventHub fans the engine's note stream out to connected clients. Slow
// subscribers lose notes rather than stall the engine.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan engine.Note]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan engine.Note]struct{})}
}

// Run consumes notes until ctx is cancelled or the channel closes.
func (h *EventHub) Run(ctx context.Context, notes <-chan engine.Note) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			h.broadcast(n)
		}
	}
}

func (h *EventHub) broadcast(n engine.Note) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- n:
		default:
			slog.Debug("dropping note for slow subscriber", "kind", n.Kind)
		}
	}
}

// Subscribe registers a new subscriber channel. The returned cancel func
// unregisters and closes it.
func (h *EventHub) Subscribe() (<-chan engine.Note, func()) {
	ch := make(chan engine.Note, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// StreamEvents upgrades to a WebSocket and forwards engine notes as JSON
// messages until the client disconnects.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notes, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	slog.Info("Event stream connected", "ip", r.RemoteAddr)

	// Read loop: the client only sends pings and close frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("WebSocket closed by client")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, n); err != nil {
				slog.Debug("WebSocket write error", "error", err)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.frontendRedirectURL == "" {
		return true
	}
	if origin == h.frontendRedirectURL {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.frontendRedirectURL)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
