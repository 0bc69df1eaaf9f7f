package follower

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/metrics"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// SnapshotStore holds the single materialized snapshot of the followed match
// and its deduplicated event timeline. Updates are merged atomically under the
// revision check; readers never observe a half-applied merge.
type SnapshotStore struct {
	mu       sync.RWMutex
	snap     models.MatchSnapshot
	seeded   bool
	timeline map[string]models.TimelineEvent
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		timeline: make(map[string]models.TimelineEvent),
	}
}

// Seed unconditionally replaces the current snapshot and resets the timeline.
// Used only when switching to a newly resolved match.
func (s *SnapshotStore) Seed(snap models.MatchSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = snap
	s.seeded = true
	s.timeline = make(map[string]models.TimelineEvent)
	s.ingestEventsLocked(snap.Events)
}

// Reset empties the store, used on unfollow.
func (s *SnapshotStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = models.MatchSnapshot{}
	s.seeded = false
	s.timeline = make(map[string]models.TimelineEvent)
}

// Current returns the materialized snapshot, or false when nothing is seeded.
func (s *SnapshotStore) Current() (models.MatchSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.seeded
}

// Apply merges a partial update into the snapshot. Fields present in the
// update replace the current values, absent fields are preserved. The update
// is applied only when its revision is not older than the snapshot's; stale
// updates are rejected silently, which makes the effective state independent
// of delivery order. Returns whether the update was applied.
func (s *SnapshotStore) Apply(u models.MatchUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		return false
	}
	if u.Revision.Before(s.snap.Revision) {
		metrics.StaleUpdatesDiscarded.Inc()
		log.Debug().
			Str("match_key", s.snap.MatchKey).
			Time("update_revision", u.Revision).
			Time("current_revision", s.snap.Revision).
			Msg("discarding stale update")
		return false
	}

	// Merge into a copy and swap, so concurrent readers holding the old value
	// never see an intermediate state.
	next := s.snap
	if u.HomeTeam != nil {
		next.HomeTeam = *u.HomeTeam
	}
	if u.AwayTeam != nil {
		next.AwayTeam = *u.AwayTeam
	}
	if u.HomeScore != nil {
		next.HomeScore = *u.HomeScore
	}
	if u.AwayScore != nil {
		next.AwayScore = *u.AwayScore
	}
	if u.CurrentQuarter != nil {
		next.CurrentQuarter = *u.CurrentQuarter
	}
	if u.MatchTime != nil {
		next.MatchTime = *u.MatchTime
	}
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.LastEvent != nil {
		next.LastEvent = *u.LastEvent
	}
	if u.LastEventTime != nil {
		next.LastEventTime = u.LastEventTime
	}
	if u.Events != nil {
		next.Events = u.Events
	}
	next.Revision = u.Revision

	s.snap = next
	s.ingestEventsLocked(u.Events)
	metrics.UpdatesApplied.Inc()
	return true
}

// Timeline returns the deduplicated events ordered by OccurredAt descending.
func (s *SnapshotStore) Timeline() []models.TimelineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TimelineEvent, 0, len(s.timeline))
	for _, e := range s.timeline {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ingestEventsLocked folds structured event records into the timeline set.
// The set is keyed by event id, so redelivered records collapse regardless of
// arrival order.
func (s *SnapshotStore) ingestEventsLocked(events []models.EventRecord) {
	for _, rec := range events {
		id := rec.TimelineID()
		if _, seen := s.timeline[id]; seen {
			metrics.DuplicateTimelineEvents.Inc()
			continue
		}
		s.timeline[id] = models.TimelineEvent{
			ID:          id,
			Description: rec.Description,
			MatchTime:   rec.MatchTime,
			Quarter:     rec.Quarter,
			OccurredAt:  rec.Timestamp,
		}
	}
}
