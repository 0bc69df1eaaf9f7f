package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/follower"
	"github.com/markmastop/waedo-dohockey-live/internal/metrics"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// Registry owns one follower per distinct followed match key. The first
// viewer of a key creates and starts the follower; the last viewer leaving
// unfollows and removes it. Follower callbacks are wired to broadcast frames
// to the key's connection pool.
type Registry struct {
	lookup          follower.Lookup
	feed            feed.Feed
	cm              *ConnectionManager
	clock           clockwork.Clock
	resubscribeWait time.Duration

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// registryEntry tracks one followed key. ready closes once the first viewer's
// follow attempt has settled; until then follower is nil and later viewers of
// the same key wait on it. The registry lock is held only for map
// bookkeeping, so a slow lookup on one key never blocks the others.
type registryEntry struct {
	follower *follower.Follower
	refs     int
	ready    chan struct{}
	initErr  error

	mu    sync.Mutex
	stale bool
}

func (e *registryEntry) setStale(v bool) {
	e.mu.Lock()
	e.stale = v
	e.mu.Unlock()
}

func (e *registryEntry) isStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stale
}

// NewRegistry creates a follower registry. resubscribeWait is the backoff its
// followers use between feed resubscription attempts.
func NewRegistry(lookup follower.Lookup, f feed.Feed, cm *ConnectionManager, clock clockwork.Clock, resubscribeWait time.Duration) *Registry {
	return &Registry{
		lookup:          lookup,
		feed:            f,
		cm:              cm,
		clock:           clock,
		resubscribeWait: resubscribeWait,
		entries:         make(map[string]*registryEntry),
	}
}

// Acquire returns the follower for rawKey, creating and starting it for the
// first viewer. The returned key is the normalized form. Resolution errors
// (invalid key, not found, transient lookup failure) leave no entry behind; a
// transient feed subscribe failure keeps the entry alive with its seeded
// snapshot and is reported through the key's error frames.
func (r *Registry) Acquire(ctx context.Context, rawKey string) (*follower.Follower, string, error) {
	key := models.NormalizeMatchKey(rawKey)

	r.mu.Lock()
	if entry, ok := r.entries[key]; ok {
		entry.refs++
		r.mu.Unlock()
		<-entry.ready
		if entry.initErr != nil {
			// The first viewer's follow failed terminally and removed the
			// entry; this viewer gets the same answer.
			return nil, key, entry.initErr
		}
		return entry.follower, key, nil
	}

	entry := &registryEntry{refs: 1, ready: make(chan struct{})}
	r.entries[key] = entry
	r.mu.Unlock()

	fw := follower.New(r.lookup, r.feed,
		follower.WithClock(r.clock),
		follower.WithResubscribeWait(r.resubscribeWait))
	fw.OnSnapshot(func(snap models.MatchSnapshot) {
		entry.setStale(false)
		r.cm.BroadcastToMatch(key, &Frame{
			Type:     FrameSnapshot,
			MatchKey: key,
			Snapshot: NewSnapshotPayload(snap, false),
			SentAt:   r.clock.Now(),
		})
	})
	fw.OnNewEvent(func(desc string, at time.Time) {
		r.cm.BroadcastToMatch(key, &Frame{
			Type:     FrameNewEvent,
			MatchKey: key,
			Event:    &EventPayload{Description: desc, OccurredAt: at},
			SentAt:   r.clock.Now(),
		})
	})
	fw.OnError(func(err error) {
		entry.setStale(true)
		r.cm.BroadcastToMatch(key, &Frame{
			Type:     FrameFeedError,
			MatchKey: key,
			Error:    err.Error(),
			SentAt:   r.clock.Now(),
		})
	})

	if _, err := fw.Follow(ctx, rawKey); err != nil {
		if _, seeded := fw.Snapshot(); !seeded {
			entry.initErr = err
			r.mu.Lock()
			delete(r.entries, key)
			r.mu.Unlock()
			close(entry.ready)
			return nil, key, err
		}
		// Feed subscribe failed but the snapshot is seeded: keep the entry so
		// viewers see the last known state, marked stale.
		entry.setStale(true)
		log.Warn().Err(err).Str("match_key", key).Msg("follower started without a live feed")
	}

	r.mu.Lock()
	entry.follower = fw
	r.mu.Unlock()
	close(entry.ready)
	metrics.ActiveFollowers.Inc()
	return fw, key, nil
}

// Release drops one reference to a key's follower, unfollowing and removing
// it when the last viewer is gone.
func (r *Registry) Release(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}

	delete(r.entries, key)
	metrics.ActiveFollowers.Dec()
	entry.follower.Unfollow(ctx)
}

// Peek returns the follower for a normalized key without taking a reference.
// Keys still initializing report as absent.
func (r *Registry) Peek(key string) (*follower.Follower, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[models.NormalizeMatchKey(key)]
	if !ok || entry.follower == nil {
		return nil, false
	}
	return entry.follower, true
}

// Stale reports whether a followed key's feed is currently disconnected.
func (r *Registry) Stale(key string) bool {
	r.mu.Lock()
	entry, ok := r.entries[models.NormalizeMatchKey(key)]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return entry.isStale()
}

// Size returns the number of followed keys.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
