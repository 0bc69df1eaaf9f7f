package gateway

import (
	"time"

	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// FrameType classifies a message pushed to viewers.
type FrameType string

const (
	FrameSnapshot  FrameType = "snapshot"
	FrameNewEvent  FrameType = "new_event"
	FrameFeedError FrameType = "feed_error"
)

// Frame is the wire message sent over a viewer WebSocket.
type Frame struct {
	Type     FrameType        `json:"type"`
	MatchKey string           `json:"match_key"`
	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
	Event    *EventPayload    `json:"event,omitempty"`
	Error    string           `json:"error,omitempty"`
	SentAt   time.Time        `json:"sent_at"`
}

// SnapshotPayload is the presenter view of a match snapshot.
type SnapshotPayload struct {
	models.MatchSnapshot
	MatchTimeDisplay string `json:"match_time_display"`

	// Stale marks a snapshot whose feed is currently disconnected: the viewer
	// keeps seeing the last known state rather than a blank screen.
	Stale bool `json:"stale,omitempty"`
}

// EventPayload is a new-event alert for toast-style display.
type EventPayload struct {
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewSnapshotPayload builds the presenter view of a snapshot.
func NewSnapshotPayload(snap models.MatchSnapshot, stale bool) *SnapshotPayload {
	return &SnapshotPayload{
		MatchSnapshot:    snap,
		MatchTimeDisplay: snap.MatchTimeDisplay(),
		Stale:            stale,
	}
}
