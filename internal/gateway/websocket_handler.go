package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/follower"
)

// WebSocketHandler upgrades viewer connections and binds them to a followed
// match.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          *Registry
	clock             clockwork.Clock
}

// NewWebSocketHandler creates a WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, registry *Registry, clock clockwork.Clock) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
		clock:             clock,
	}
}

// HandleMatchConnection handles GET /ws/matches?key=K: it acquires the key's
// follower (starting one for the first viewer), upgrades the connection, and
// immediately sends the current snapshot so the viewer renders without
// waiting for the next change.
func (h *WebSocketHandler) HandleMatchConnection(w http.ResponseWriter, r *http.Request) {
	rawKey := r.URL.Query().Get("key")
	if rawKey == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	fw, key, err := h.registry.Acquire(r.Context(), rawKey)
	if err != nil {
		status, msg := viewerError(err)
		http.Error(w, msg, status)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, key)
	if err != nil {
		log.Error().Err(err).Str("match_key", key).Msg("failed to upgrade viewer connection")
		h.registry.Release(context.WithoutCancel(r.Context()), key)
		return
	}

	if snap, ok := fw.Snapshot(); ok {
		h.connectionManager.SendFrame(conn, &Frame{
			Type:     FrameSnapshot,
			MatchKey: key,
			Snapshot: NewSnapshotPayload(snap, h.registry.Stale(key)),
			SentAt:   h.clock.Now(),
		})
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// viewerError maps resolution errors to HTTP status plus the user-actionable
// guidance the UI shows: a bad or unknown key asks the viewer to check it, a
// transport failure asks them to try again.
func viewerError(err error) (int, string) {
	switch {
	case errors.Is(err, follower.ErrInvalidKey):
		return http.StatusBadRequest, "invalid match key"
	case errors.Is(err, follower.ErrMatchNotFound):
		return http.StatusNotFound, "match not found, please check your match key"
	case follower.IsTransient(err):
		return http.StatusServiceUnavailable, "temporarily unable to load match data, please try again"
	default:
		return http.StatusInternalServerError, "unexpected error"
	}
}
