package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PostgresConfig holds settings for the LISTEN/NOTIFY feed driver.
type PostgresConfig struct {
	DSN          string        // Postgres DSN for the listener connection
	Channel      string        // NOTIFY channel carrying matches_live changes
	MinReconnect time.Duration // pq.Listener reconnect backoff floor
	MaxReconnect time.Duration // pq.Listener reconnect backoff ceiling
	PingInterval time.Duration
	BufferSize   int // per-subscription notification buffer
}

// DefaultPostgresConfig returns defaults for the Postgres feed driver.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Channel:      "matches_live_changes",
		MinReconnect: 10 * time.Second,
		MaxReconnect: time.Minute,
		PingInterval: 90 * time.Second,
		BufferSize:   64,
	}
}

// PostgresFeed delivers matches_live changes over Postgres LISTEN/NOTIFY.
// The notify trigger (see migrations) publishes the change envelope with the
// full row, so no follow-up query is needed per notification.
//
// NOTIFY cannot filter server-side, so the driver applies the subscription's
// filter before delivery. A lost connection is surfaced as subscription
// termination rather than silently resumed: notifications sent during the
// outage are gone, and the subscriber owns the resubscribe/re-fetch decision.
type PostgresFeed struct {
	cfg PostgresConfig
}

// NewPostgresFeed creates a Postgres-backed change feed.
func NewPostgresFeed(cfg PostgresConfig) *PostgresFeed {
	return &PostgresFeed{cfg: cfg}
}

// Subscribe opens a listener scoped to the filtered match.
func (f *PostgresFeed) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	listener := pq.NewListener(
		f.cfg.DSN,
		f.cfg.MinReconnect,
		f.cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("postgres listener event")
			}
		},
	)
	if err := listener.Listen(f.cfg.Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on channel %s: %w", f.cfg.Channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &pgSubscription{
		listener: listener,
		events:   make(chan Notification, f.cfg.BufferSize),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	log.Info().
		Str("channel", f.cfg.Channel).
		Str("match_key", filter.MatchKey).
		Msg("postgres feed subscription established")

	go sub.pump(subCtx, filter, f.cfg.PingInterval)
	return sub, nil
}

type pgSubscription struct {
	listener *pq.Listener
	events   chan Notification
	done     chan struct{}
	cancel   context.CancelFunc

	mu       sync.Mutex
	err      error
	finished bool
}

func (s *pgSubscription) Events() <-chan Notification { return s.events }
func (s *pgSubscription) Done() <-chan struct{}       { return s.done }

func (s *pgSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pgSubscription) Unsubscribe(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pgSubscription) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()

	s.listener.Close()
	// events stays open; receivers observe termination through done.
	close(s.done)
}

func (s *pgSubscription) pump(ctx context.Context, filter Filter, pingInterval time.Duration) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(nil)
			return

		case note := <-s.listener.Notify:
			if note == nil {
				// The underlying connection was lost. pq would reconnect on
				// its own, but notifications from the outage are gone, so the
				// subscription terminates and the subscriber decides whether
				// to resubscribe and re-fetch.
				s.finish(fmt.Errorf("postgres listener connection lost"))
				return
			}

			n, err := DecodeChange([]byte(note.Extra))
			if err != nil {
				log.Error().Err(err).Msg("malformed change notification, skipping")
				continue
			}
			if !filter.Matches(n) {
				continue
			}

			select {
			case s.events <- n:
			case <-ctx.Done():
				s.finish(nil)
				return
			}

		case <-pingTicker.C:
			if err := s.listener.Ping(); err != nil {
				s.finish(fmt.Errorf("postgres listener ping: %w", err))
				return
			}
		}
	}
}
