package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/follower"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// StateHandler serves the HTTP read side of the presenter boundary: current
// snapshot, timeline, and the shareable follow link.
type StateHandler struct {
	registry *Registry
	resolver *follower.KeyResolver
	clock    clockwork.Clock
}

// NewStateHandler creates a state handler. The resolver serves one-shot reads
// for keys nobody is actively following.
func NewStateHandler(registry *Registry, resolver *follower.KeyResolver, clock clockwork.Clock) *StateHandler {
	return &StateHandler{
		registry: registry,
		resolver: resolver,
		clock:    clock,
	}
}

// HandleGetMatch handles GET /api/matches/{key}: the current snapshot. An
// active follower answers from its materialized state; otherwise the key is
// resolved one-shot through the same path a follow would take.
func (h *StateHandler) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if fw, ok := h.registry.Peek(key); ok {
		if snap, seeded := fw.Snapshot(); seeded {
			writeJSON(w, http.StatusOK, NewSnapshotPayload(snap, h.registry.Stale(key)))
			return
		}
	}

	snap, err := h.resolver.Resolve(r.Context(), key)
	if err != nil {
		status, msg := viewerError(err)
		log.Debug().Err(err).Str("match_key", key).Msg("match state request failed")
		http.Error(w, msg, status)
		return
	}
	writeJSON(w, http.StatusOK, NewSnapshotPayload(snap, false))
}

// HandleGetTimeline handles GET /api/matches/{key}/timeline: the deduplicated
// event timeline, newest first. Keys without an active follower answer from a
// one-shot resolve, which carries only whatever events the row itself holds.
func (h *StateHandler) HandleGetTimeline(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if fw, ok := h.registry.Peek(key); ok {
		writeJSON(w, http.StatusOK, timelineResponse{Events: fw.Timeline()})
		return
	}

	snap, err := h.resolver.Resolve(r.Context(), key)
	if err != nil {
		status, msg := viewerError(err)
		http.Error(w, msg, status)
		return
	}

	store := follower.NewSnapshotStore()
	store.Seed(snap)
	writeJSON(w, http.StatusOK, timelineResponse{Events: store.Timeline()})
}

// HandleShareLink handles GET /live-match?key=K, the shareable form of a
// followed match. Requests with a non-canonical key redirect to the
// normalized one so bookmarks and shared links converge; the response carries
// the endpoints a client needs to re-resolve and follow.
func (h *StateHandler) HandleShareLink(w http.ResponseWriter, r *http.Request) {
	rawKey := r.URL.Query().Get("key")
	key := models.NormalizeMatchKey(rawKey)
	if !models.ValidMatchKey(key) {
		http.Error(w, "invalid match key", http.StatusBadRequest)
		return
	}

	if rawKey != key {
		http.Redirect(w, r, "/live-match?key="+key, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, shareLinkResponse{
		MatchKey:  key,
		StateURL:  "/api/matches/" + key,
		FollowURL: "/ws/matches?key=" + key,
	})
}

type timelineResponse struct {
	Events []models.TimelineEvent `json:"events"`
}

type shareLinkResponse struct {
	MatchKey  string `json:"match_key"`
	StateURL  string `json:"state_url"`
	FollowURL string `json:"follow_url"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
