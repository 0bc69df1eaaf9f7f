package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchStatus represents the lifecycle status of a live match
type MatchStatus string

const (
	MatchStatusNotStarted MatchStatus = "not_started"
	MatchStatusLive       MatchStatus = "live"
	MatchStatusPaused     MatchStatus = "paused"
	MatchStatusFinished   MatchStatus = "finished"
)

// Valid reports whether the status is one of the known values. Statuses coming
// off the wire are preserved as-is even when unknown; Valid guards only values
// constructed locally.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusNotStarted, MatchStatusLive, MatchStatusPaused, MatchStatusFinished:
		return true
	}
	return false
}

// MatchSnapshot is the single current, consistent view of one live match as
// materialized from the matches_live row.
type MatchSnapshot struct {
	ID             uuid.UUID     `json:"id"`
	MatchID        *uuid.UUID    `json:"match_id,omitempty"`
	MatchKey       string        `json:"match_key"`
	HomeTeam       string        `json:"home_team"`
	AwayTeam       string        `json:"away_team"`
	HomeScore      int           `json:"home_score"`
	AwayScore      int           `json:"away_score"`
	CurrentQuarter int           `json:"current_quarter"`
	MatchTime      int           `json:"match_time"`
	Status         MatchStatus   `json:"status"`
	LastEvent      string        `json:"last_event,omitempty"`
	LastEventTime  *time.Time    `json:"last_event_time,omitempty"`
	Events         []EventRecord `json:"events,omitempty"`

	// Revision is the row's updated_at timestamp, used to discard stale pushes.
	Revision time.Time `json:"updated_at"`
}

// MatchTimeDisplay formats the elapsed match time as m:ss.
func (s MatchSnapshot) MatchTimeDisplay() string {
	return fmt.Sprintf("%d:%02d", s.MatchTime/60, s.MatchTime%60)
}

// MatchUpdate is a partial update to a match snapshot as delivered by the
// change feed. Identity fields are always present on a row payload; everything
// else is a pointer so an absent JSON key survives decoding as nil and the
// merge preserves the current value.
type MatchUpdate struct {
	ID       uuid.UUID `json:"id"`
	MatchKey string    `json:"match_key"`

	HomeTeam       *string       `json:"home_team"`
	AwayTeam       *string       `json:"away_team"`
	HomeScore      *int          `json:"home_score"`
	AwayScore      *int          `json:"away_score"`
	CurrentQuarter *int          `json:"current_quarter"`
	MatchTime      *int          `json:"match_time"`
	Status         *MatchStatus  `json:"status"`
	LastEvent      *string       `json:"last_event"`
	LastEventTime  *time.Time    `json:"last_event_time"`
	Events         []EventRecord `json:"events"`

	Revision time.Time `json:"updated_at"`
}

// UpdateFromSnapshot converts a freshly fetched snapshot into a full-field
// update so it can be applied through the normal revision-checked merge path
// (used for explicit re-fetches after a feed reconnect).
func UpdateFromSnapshot(s MatchSnapshot) MatchUpdate {
	status := s.Status
	return MatchUpdate{
		ID:             s.ID,
		MatchKey:       s.MatchKey,
		HomeTeam:       &s.HomeTeam,
		AwayTeam:       &s.AwayTeam,
		HomeScore:      &s.HomeScore,
		AwayScore:      &s.AwayScore,
		CurrentQuarter: &s.CurrentQuarter,
		MatchTime:      &s.MatchTime,
		Status:         &status,
		LastEvent:      &s.LastEvent,
		LastEventTime:  s.LastEventTime,
		Events:         s.Events,
		Revision:       s.Revision,
	}
}
