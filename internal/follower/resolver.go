package follower

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/matches"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// Lookup defines what the resolver needs from the matches store.
type Lookup interface {
	GetByKey(ctx context.Context, key string) (models.MatchSnapshot, error)
}

// KeyResolver validates and normalizes a user-supplied match key and performs
// the point lookup for the initial snapshot. It holds no long-lived resources
// and never mutates the store; the caller seeds from the returned snapshot.
type KeyResolver struct {
	lookup Lookup
}

// NewKeyResolver creates a key resolver over the given lookup.
func NewKeyResolver(lookup Lookup) *KeyResolver {
	return &KeyResolver{lookup: lookup}
}

// Resolve normalizes rawKey and fetches the matching snapshot. Malformed keys
// fail with ErrInvalidKey before any I/O; a clean lookup with no row fails
// with ErrMatchNotFound; transport failures are wrapped as TransientError.
// Safe to call repeatedly.
func (r *KeyResolver) Resolve(ctx context.Context, rawKey string) (models.MatchSnapshot, error) {
	key := models.NormalizeMatchKey(rawKey)
	if key == "" {
		return models.MatchSnapshot{}, ErrInvalidKey
	}
	if !models.ValidMatchKey(key) {
		return models.MatchSnapshot{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	snap, err := r.lookup.GetByKey(ctx, key)
	if errors.Is(err, matches.ErrNotFound) {
		return models.MatchSnapshot{}, fmt.Errorf("%w: %s", ErrMatchNotFound, key)
	}
	if err != nil {
		return models.MatchSnapshot{}, &TransientError{Op: "match lookup", Err: err}
	}

	log.Debug().
		Str("match_key", key).
		Str("match_id", snap.ID.String()).
		Msg("resolved match key")
	return snap, nil
}
