// Package follower implements the live state synchronization engine: it
// resolves a match key to an initial snapshot, maintains the materialized
// view of match state, applies change feed updates safely under duplicate and
// out-of-order delivery, and exposes a monotonic, deduplicated event timeline
// to the display layer.
package follower

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

const defaultResubscribeWait = 2 * time.Second

// Follower follows one live match at a time. Follow resolves a key, seeds the
// snapshot store, and opens a scoped feed subscription; Unfollow tears
// everything down. A generation counter tags every async result so anything
// issued before the latest follow or unfollow is discarded.
type Follower struct {
	resolver *KeyResolver
	store    *SnapshotStore
	subs     *SubscriptionManager
	clock    clockwork.Clock

	generation atomic.Uint64

	mu    sync.Mutex
	key   string
	recon *UpdateReconciler

	onNewEvent func(desc string, at time.Time)
	onSnapshot func(models.MatchSnapshot)
	onError    func(error)
}

// Option configures a Follower.
type Option func(*options)

type options struct {
	clock           clockwork.Clock
	resubscribeWait time.Duration
}

// WithClock overrides the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithResubscribeWait overrides the backoff between feed resubscriptions.
func WithResubscribeWait(d time.Duration) Option {
	return func(o *options) { o.resubscribeWait = d }
}

// New creates a Follower over a lookup and a change feed.
func New(lookup Lookup, f feed.Feed, opts ...Option) *Follower {
	o := options{
		clock:           clockwork.NewRealClock(),
		resubscribeWait: defaultResubscribeWait,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Follower{
		resolver: NewKeyResolver(lookup),
		store:    NewSnapshotStore(),
		subs:     NewSubscriptionManager(f, o.clock, o.resubscribeWait),
		clock:    o.clock,
	}
}

// OnNewEvent registers the new-event alert callback. Set before Follow.
func (f *Follower) OnNewEvent(fn func(desc string, at time.Time)) { f.onNewEvent = fn }

// OnSnapshot registers a callback fired after every applied update. Set
// before Follow.
func (f *Follower) OnSnapshot(fn func(models.MatchSnapshot)) { f.onSnapshot = fn }

// OnError registers the callback surfacing feed transport failures. Set
// before Follow.
func (f *Follower) OnError(fn func(error)) { f.onError = fn }

// Follow resolves rawKey and starts following the matching match, replacing
// any previously followed one. The prior subscription is released before the
// new one goes live.
//
// On a feed subscribe failure the snapshot remains seeded: the viewer keeps
// the last known state while the returned TransientError carries the retry
// guidance.
func (f *Follower) Follow(ctx context.Context, rawKey string) (models.MatchSnapshot, error) {
	gen := f.generation.Add(1)

	// The lookup is the suspension point: it runs outside the lock so a
	// concurrent follow/unfollow can supersede it.
	snap, err := f.resolver.Resolve(ctx, rawKey)
	if err != nil {
		return models.MatchSnapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.generation.Load() != gen {
		log.Debug().Str("match_key", snap.MatchKey).Msg("discarding superseded key resolution")
		return models.MatchSnapshot{}, ErrSuperseded
	}

	f.store.Seed(snap)
	f.key = snap.MatchKey
	f.recon = NewUpdateReconciler(f.store, snap.ID, f.clock, f.fireNewEvent, f.fireSnapshot)

	recon := f.recon
	err = f.subs.Subscribe(ctx,
		feed.Filter{MatchID: snap.ID, MatchKey: snap.MatchKey},
		recon.OnChange,
		f.fireError,
		func() { f.refreshAfterResubscribe(snap.MatchKey) },
	)
	if err != nil {
		// Seeded state stays visible; only the live feed is missing.
		log.Error().Err(err).Str("match_key", snap.MatchKey).Msg("failed to open feed subscription")
		return snap, err
	}

	log.Info().
		Str("match_key", snap.MatchKey).
		Str("match_id", snap.ID.String()).
		Msg("following match")
	return snap, nil
}

// Unfollow stops following the current match and resets the store.
func (f *Follower) Unfollow(ctx context.Context) {
	f.generation.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.subs.Unsubscribe(ctx)
	f.store.Reset()
	if f.key != "" {
		log.Info().Str("match_key", f.key).Msg("unfollowed match")
	}
	f.key = ""
	f.recon = nil
}

// Refresh re-fetches the followed match and applies the result through the
// revision-checked merge path. Intended for explicit gap-filling after a feed
// reconnect; the subscription itself never re-seeds.
//
// Like Follow, the re-fetch is tagged with the generation it was issued
// under: a follow or unfollow racing the lookup supersedes the result, so a
// refresh for a previously followed match can never merge into the snapshot
// of its successor.
func (f *Follower) Refresh(ctx context.Context) error {
	gen := f.generation.Load()

	f.mu.Lock()
	key := f.key
	f.mu.Unlock()
	if key == "" {
		return nil
	}

	snap, err := f.resolver.Resolve(ctx, key)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if f.generation.Load() != gen || f.key != key {
		f.mu.Unlock()
		log.Debug().Str("match_key", key).Msg("discarding superseded refresh")
		return ErrSuperseded
	}
	recon := f.recon
	applied := f.store.Apply(models.UpdateFromSnapshot(snap))
	var current models.MatchSnapshot
	if applied {
		current, _ = f.store.Current()
	}
	f.mu.Unlock()

	if applied {
		if recon != nil {
			recon.noteSnapshot(current)
		}
		f.fireSnapshot(current)
	}
	return nil
}

// Snapshot returns the current materialized snapshot, if any.
func (f *Follower) Snapshot() (models.MatchSnapshot, bool) {
	return f.store.Current()
}

// Timeline returns the deduplicated event timeline, newest first.
func (f *Follower) Timeline() []models.TimelineEvent {
	return f.store.Timeline()
}

// Key returns the currently followed normalized key, empty when idle.
func (f *Follower) Key() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key
}

// SubscriptionState exposes the feed subscription lifecycle state.
func (f *Follower) SubscriptionState() SubscriptionState {
	return f.subs.State()
}

func (f *Follower) refreshAfterResubscribe(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.Refresh(ctx); err != nil {
		if errors.Is(err, ErrSuperseded) {
			return
		}
		log.Warn().Err(err).Str("match_key", key).Msg("gap-fill refresh after resubscribe failed")
		f.fireError(err)
	}
}

func (f *Follower) fireNewEvent(desc string, at time.Time) {
	if f.onNewEvent != nil {
		f.onNewEvent(desc, at)
	}
}

func (f *Follower) fireSnapshot(snap models.MatchSnapshot) {
	if f.onSnapshot != nil {
		f.onSnapshot(snap)
	}
}

func (f *Follower) fireError(err error) {
	if f.onError != nil {
		f.onError(err)
	}
}
