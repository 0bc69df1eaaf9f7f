package follower

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/metrics"
)

// SubscriptionState is the lifecycle state of the managed feed subscription.
type SubscriptionState int32

const (
	StateIdle SubscriptionState = iota
	StateSubscribing
	StateActive
)

func (s SubscriptionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// SubscriptionManager owns the lifecycle of one active feed subscription per
// followed match. It establishes, tears down, and re-establishes the
// subscription when the followed key changes, and resubscribes after a
// transport disconnect. The subscription handle is exclusively owned here; at
// most one subscription is ever live.
type SubscriptionManager struct {
	feed            feed.Feed
	clock           clockwork.Clock
	resubscribeWait time.Duration

	mu     sync.Mutex
	state  SubscriptionState
	sub    feed.Subscription
	cancel context.CancelFunc
	gen    uint64
}

// NewSubscriptionManager creates a manager over the given feed. The wait is
// the backoff between resubscription attempts after a disconnect.
func NewSubscriptionManager(f feed.Feed, clock clockwork.Clock, resubscribeWait time.Duration) *SubscriptionManager {
	return &SubscriptionManager{
		feed:            f,
		clock:           clock,
		resubscribeWait: resubscribeWait,
	}
}

// State returns the current lifecycle state.
func (m *SubscriptionManager) State() SubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe releases any prior subscription and opens a new one scoped to
// filter. handle receives each notification; onError receives transport
// failures; onResubscribed fires after a successful resubscribe following a
// disconnect, so the caller can run an explicit re-fetch to fill the gap;
// the manager itself never re-seeds state.
func (m *SubscriptionManager) Subscribe(
	ctx context.Context,
	filter feed.Filter,
	handle func(feed.Notification),
	onError func(error),
	onResubscribed func(),
) error {
	m.mu.Lock()
	m.teardownLocked(ctx)
	m.gen++
	gen := m.gen
	m.state = StateSubscribing
	m.mu.Unlock()

	sub, err := m.feed.Subscribe(ctx, filter)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.state = StateIdle
		}
		m.mu.Unlock()
		return &TransientError{Op: "feed subscribe", Err: err}
	}

	pumpCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.gen != gen {
		// A newer subscribe or unsubscribe raced the handshake; this result
		// is stale and its subscription must not stay live.
		m.mu.Unlock()
		cancel()
		if uerr := sub.Unsubscribe(ctx); uerr != nil {
			log.Error().Err(uerr).Msg("failed to release superseded subscription")
		}
		return ErrSuperseded
	}
	m.sub = sub
	m.cancel = cancel
	m.state = StateActive
	m.mu.Unlock()

	go m.pump(pumpCtx, gen, sub, filter, handle, onError, onResubscribed)
	return nil
}

// Unsubscribe releases the active subscription, returning the manager to
// idle. Safe to call when already idle.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.teardownLocked(ctx)
}

// teardownLocked releases the current subscription. Caller holds m.mu.
func (m *SubscriptionManager) teardownLocked(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.sub != nil {
		if err := m.sub.Unsubscribe(ctx); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe from feed")
		}
		m.sub = nil
	}
	m.state = StateIdle
}

// pump forwards notifications until the subscription is torn down. On a
// transport disconnect it reports the failure and keeps trying to
// resubscribe; the already materialized snapshot is left untouched.
func (m *SubscriptionManager) pump(
	ctx context.Context,
	gen uint64,
	sub feed.Subscription,
	filter feed.Filter,
	handle func(feed.Notification),
	onError func(error),
	onResubscribed func(),
) {
	for {
		select {
		case <-ctx.Done():
			return

		case n := <-sub.Events():
			if !m.currentGen(gen) {
				return
			}
			handle(n)

		case <-sub.Done():
			err := sub.Err()
			if err == nil {
				// Clean unsubscribe.
				return
			}
			metrics.FeedDisconnects.Inc()
			log.Warn().
				Err(err).
				Str("match_key", filter.MatchKey).
				Msg("feed subscription lost, will resubscribe")
			if onError != nil {
				onError(&TransientError{Op: "feed connection", Err: err})
			}

			next, ok := m.resubscribe(ctx, gen, filter, onError)
			if !ok {
				return
			}
			sub = next
			if onResubscribed != nil {
				onResubscribed()
			}
		}
	}
}

// resubscribe retries the handshake with a fixed backoff until it succeeds or
// the subscription has been superseded.
func (m *SubscriptionManager) resubscribe(
	ctx context.Context,
	gen uint64,
	filter feed.Filter,
	onError func(error),
) (feed.Subscription, bool) {
	m.mu.Lock()
	if m.gen == gen {
		m.state = StateSubscribing
	}
	m.mu.Unlock()

	for {
		timer := m.clock.NewTimer(m.resubscribeWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.Chan():
		}
		if !m.currentGen(gen) {
			return nil, false
		}

		sub, err := m.feed.Subscribe(ctx, filter)
		if err != nil {
			log.Warn().Err(err).Str("match_key", filter.MatchKey).Msg("feed resubscribe failed")
			if onError != nil {
				onError(&TransientError{Op: "feed resubscribe", Err: err})
			}
			continue
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			if uerr := sub.Unsubscribe(context.Background()); uerr != nil {
				log.Error().Err(uerr).Msg("failed to release superseded subscription")
			}
			return nil, false
		}
		m.sub = sub
		m.state = StateActive
		m.mu.Unlock()

		metrics.FeedResubscribes.Inc()
		log.Info().Str("match_key", filter.MatchKey).Msg("feed subscription re-established")
		return sub, true
	}
}

func (m *SubscriptionManager) currentGen(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}
