package models

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// EventRecord is a discrete match event as carried in structured payloads.
// Older payloads may omit the id; TimelineID derives a stable fallback so
// redelivered records still deduplicate.
type EventRecord struct {
	ID          string          `json:"id,omitempty"`
	Action      string          `json:"action,omitempty"`
	Description string          `json:"description"`
	MatchTime   int             `json:"match_time"`
	Quarter     int             `json:"quarter"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// TimelineID returns the event's identity for timeline deduplication. Records
// without an id hash to a deterministic synthetic id.
func (e EventRecord) TimelineID() string {
	if e.ID != "" {
		return e.ID
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%s", e.Quarter, e.MatchTime, e.Description)
	return fmt.Sprintf("evt-%016x", h.Sum64())
}

// TimelineEvent is a normalized, deduplicated entry in the match timeline.
type TimelineEvent struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	MatchTime   int       `json:"match_time"`
	Quarter     int       `json:"quarter"`
	OccurredAt  time.Time `json:"occurred_at"`
}
