package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/follower"
	"github.com/markmastop/waedo-dohockey-live/internal/gateway"
	"github.com/markmastop/waedo-dohockey-live/internal/matches"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

type stubLookup struct {
	mu    sync.Mutex
	rows  map[string]models.MatchSnapshot
	calls int

	// When gateKey is set, lookups for that key signal enter and block until
	// release is closed.
	gateKey string
	enter   chan struct{}
	release chan struct{}
}

func (s *stubLookup) GetByKey(ctx context.Context, key string) (models.MatchSnapshot, error) {
	s.mu.Lock()
	s.calls++
	gated := s.gateKey != "" && key == s.gateKey
	enter, release := s.enter, s.release
	s.mu.Unlock()

	if gated {
		enter <- struct{}{}
		<-release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.rows[key]
	if !ok {
		return models.MatchSnapshot{}, matches.ErrNotFound
	}
	return snap, nil
}

func (s *stubLookup) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSubscription struct {
	events chan feed.Notification
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *stubSubscription) Events() <-chan feed.Notification { return s.events }
func (s *stubSubscription) Done() <-chan struct{}            { return s.done }

func (s *stubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubSubscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *stubSubscription) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

type stubFeed struct {
	mu   sync.Mutex
	subs []*stubSubscription
}

func (f *stubFeed) Subscribe(ctx context.Context, filter feed.Filter) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &stubSubscription{
		events: make(chan feed.Notification, 16),
		done:   make(chan struct{}),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *stubFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *stubFeed) subscription(i int) *stubSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil
	}
	return f.subs[i]
}

func awaitCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	row := models.MatchSnapshot{
		ID:       uuid.New(),
		MatchKey: "ABC123",
		HomeTeam: "Ducks",
		AwayTeam: "Herons",
		Revision: time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC),
	}

	Convey("Given a registry over a known match", t, func() {
		lookup := &stubLookup{rows: map[string]models.MatchSnapshot{"ABC123": row}}
		f := &stubFeed{}
		cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
		registry := gateway.NewRegistry(lookup, f, cm, clockwork.NewFakeClock(), 2*time.Second)

		Convey("When the first viewer acquires a key", func() {
			fw, key, err := registry.Acquire(ctx, "  abc123 ")

			Convey("Then a follower is started for the normalized key", func() {
				So(err, ShouldBeNil)
				So(key, ShouldEqual, "ABC123")
				So(fw.Key(), ShouldEqual, "ABC123")
				So(registry.Size(), ShouldEqual, 1)
				So(f.subscribeCount(), ShouldEqual, 1)
			})

			Convey("When a second viewer acquires the same key", func() {
				fw2, key2, err := registry.Acquire(ctx, "ABC123")

				Convey("Then the follower is shared, not duplicated", func() {
					So(err, ShouldBeNil)
					So(key2, ShouldEqual, key)
					So(fw2, ShouldEqual, fw)
					So(registry.Size(), ShouldEqual, 1)
					So(f.subscribeCount(), ShouldEqual, 1)
					So(lookup.lookupCount(), ShouldEqual, 1)
				})

				Convey("When one viewer leaves", func() {
					registry.Release(ctx, key)

					Convey("Then the follower stays for the remaining viewer", func() {
						So(registry.Size(), ShouldEqual, 1)
						_, ok := registry.Peek(key)
						So(ok, ShouldBeTrue)
						So(fw.Key(), ShouldEqual, "ABC123")
					})
				})

				Convey("When the last viewer leaves", func() {
					registry.Release(ctx, key)
					registry.Release(ctx, key)

					Convey("Then the follower is unfollowed and removed", func() {
						So(registry.Size(), ShouldEqual, 0)
						_, ok := registry.Peek(key)
						So(ok, ShouldBeFalse)
						So(fw.Key(), ShouldEqual, "")
						So(fw.SubscriptionState(), ShouldEqual, follower.StateIdle)
					})
				})
			})

			Convey("When releasing an unknown key", func() {
				registry.Release(ctx, "NOPE42")

				Convey("Then nothing changes", func() {
					So(registry.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When acquiring an unknown key", func() {
			_, _, err := registry.Acquire(ctx, "ZZZ999")

			Convey("Then no entry is left behind", func() {
				So(errors.Is(err, follower.ErrMatchNotFound), ShouldBeTrue)
				So(registry.Size(), ShouldEqual, 0)
			})
		})

		Convey("When acquiring an invalid key", func() {
			_, _, err := registry.Acquire(ctx, "not a key!")

			Convey("Then it fails without a lookup", func() {
				So(errors.Is(err, follower.ErrInvalidKey), ShouldBeTrue)
				So(lookup.lookupCount(), ShouldEqual, 0)
				So(registry.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestRegistryAcquireDoesNotBlockOtherKeys(t *testing.T) {
	ctx := context.Background()
	rev := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	slow := models.MatchSnapshot{ID: uuid.New(), MatchKey: "SLOW01", HomeTeam: "Ducks", AwayTeam: "Herons", Revision: rev}
	fast := models.MatchSnapshot{ID: uuid.New(), MatchKey: "FAST01", HomeTeam: "Owls", AwayTeam: "Foxes", Revision: rev}

	Convey("Given one key whose lookup is stalled", t, func() {
		lookup := &stubLookup{
			rows:    map[string]models.MatchSnapshot{"SLOW01": slow, "FAST01": fast},
			gateKey: "SLOW01",
			enter:   make(chan struct{}),
			release: make(chan struct{}),
		}
		f := &stubFeed{}
		cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
		registry := gateway.NewRegistry(lookup, f, cm, clockwork.NewFakeClock(), 2*time.Second)

		slowDone := make(chan error, 1)
		go func() {
			_, _, err := registry.Acquire(ctx, "SLOW01")
			slowDone <- err
		}()
		<-lookup.enter

		Convey("When another key is acquired meanwhile", func() {
			fw, key, err := registry.Acquire(ctx, "FAST01")

			Convey("Then it completes without waiting for the stalled one", func() {
				So(err, ShouldBeNil)
				So(key, ShouldEqual, "FAST01")
				So(fw.Key(), ShouldEqual, "FAST01")

				close(lookup.release)
				So(<-slowDone, ShouldBeNil)
				So(registry.Size(), ShouldEqual, 2)
			})
		})
	})
}

func TestServiceResubscribeWait(t *testing.T) {
	ctx := context.Background()
	row := models.MatchSnapshot{
		ID:       uuid.New(),
		MatchKey: "ABC123",
		HomeTeam: "Ducks",
		AwayTeam: "Herons",
		Revision: time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC),
	}

	Convey("Given a service configured with a custom resubscribe wait", t, func() {
		lookup := &stubLookup{rows: map[string]models.MatchSnapshot{"ABC123": row}}
		f := &stubFeed{}
		clock := clockwork.NewFakeClock()

		cfg := gateway.DefaultConfig()
		cfg.ResubscribeWait = 80 * time.Millisecond
		svc := gateway.NewService(cfg, lookup, f, clock)

		fw, key, err := svc.Registry().Acquire(ctx, "ABC123")
		So(err, ShouldBeNil)
		So(f.subscribeCount(), ShouldEqual, 1)

		Convey("When the feed subscription drops", func() {
			f.subscription(0).fail(errors.New("connection reset"))
			awaitCondition(t, func() bool {
				return fw.SubscriptionState() == follower.StateSubscribing
			})

			Convey("Then the configured wait drives the resubscribe", func() {
				clock.BlockUntil(1)
				clock.Advance(80 * time.Millisecond)

				awaitCondition(t, func() bool { return f.subscribeCount() == 2 })
				awaitCondition(t, func() bool {
					return fw.SubscriptionState() == follower.StateActive
				})
				// The gap-fill refresh after the resubscribe clears the
				// stale marker again.
				awaitCondition(t, func() bool { return !svc.Registry().Stale(key) })
			})
		})
	})
}
