// Package matches provides read access to the external matches_live store.
// The store is owned by the admin/scorer side; this service only ever fetches
// and observes rows, it never creates them.
package matches

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// ErrNotFound is returned when a lookup succeeds but no row matches the key.
// Distinct from transport errors so callers can give different guidance.
var ErrNotFound = errors.New("live match not found")

const getByKeyQuery = `
SELECT id, match_id, match_key, home_team, away_team,
       home_score, away_score, current_quarter, match_time,
       status, last_event, last_event_time, updated_at
FROM matches_live
WHERE match_key = $1`

// Repository implements match lookups against Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a matches repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByKey fetches the live match row for a normalized key. At most one row
// exists per key.
func (r *Repository) GetByKey(ctx context.Context, key string) (models.MatchSnapshot, error) {
	var (
		snap      models.MatchSnapshot
		lastEvent *string
		status    string
	)

	row := r.pool.QueryRow(ctx, getByKeyQuery, key)
	err := row.Scan(
		&snap.ID,
		&snap.MatchID,
		&snap.MatchKey,
		&snap.HomeTeam,
		&snap.AwayTeam,
		&snap.HomeScore,
		&snap.AwayScore,
		&snap.CurrentQuarter,
		&snap.MatchTime,
		&status,
		&lastEvent,
		&snap.LastEventTime,
		&snap.Revision,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MatchSnapshot{}, ErrNotFound
	}
	if err != nil {
		return models.MatchSnapshot{}, fmt.Errorf("failed to get live match by key: %w", err)
	}

	snap.Status = models.MatchStatus(status)
	if lastEvent != nil {
		snap.LastEvent = *lastEvent
	}
	return snap, nil
}
