package follower_test

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
)

// fakeSubscription is a controllable feed subscription for tests.
type fakeSubscription struct {
	events chan feed.Notification

	mu     sync.Mutex
	done   chan struct{}
	err    error
	closed bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		events: make(chan feed.Notification, 16),
		done:   make(chan struct{}),
	}
}

func (s *fakeSubscription) Events() <-chan feed.Notification { return s.events }
func (s *fakeSubscription) Done() <-chan struct{}            { return s.done }

func (s *fakeSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSubscription) Unsubscribe(ctx context.Context) error {
	s.finish(nil)
	return nil
}

func (s *fakeSubscription) fail(err error) { s.finish(err) }

func (s *fakeSubscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

func (s *fakeSubscription) deliver(n feed.Notification) { s.events <- n }

// fakeFeed hands out fakeSubscriptions and records every subscribe call.
type fakeFeed struct {
	mu      sync.Mutex
	subs    []*fakeSubscription
	filters []feed.Filter
	failErr error
}

func (f *fakeFeed) Subscribe(ctx context.Context, filter feed.Filter) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	sub := newFakeSubscription()
	f.subs = append(f.subs, sub)
	f.filters = append(f.filters, filter)
	return sub, nil
}

func (f *fakeFeed) failSubscribes(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeFeed) subscription(i int) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.subs) {
		return nil
	}
	return f.subs[i]
}

func (f *fakeFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func waitFor(t *testing.T, cond func() bool) {
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

func updateNotification(id uuid.UUID, key string) feed.Notification {
	return feed.Notification{
		Kind:     feed.KindUpdate,
		MatchID:  id,
		MatchKey: key,
		Record:   []byte(`{}`),
	}
}

func TestSubscriptionManager(t *testing.T) {
	ctx := context.Background()
	matchID := uuid.New()
	filter := feed.Filter{MatchID: matchID, MatchKey: "ABC123"}

	Convey("Given a subscription manager over a fake feed", t, func() {
		f := &fakeFeed{}
		clock := clockwork.NewFakeClock()
		m := follower.NewSubscriptionManager(f, clock, 50*time.Millisecond)

		Convey("Then it starts idle", func() {
			So(m.State(), ShouldEqual, follower.StateIdle)
		})

		Convey("When subscribing", func() {
			received := make(chan feed.Notification, 16)
			err := m.Subscribe(ctx, filter,
				func(n feed.Notification) { received <- n },
				nil, nil)

			So(err, ShouldBeNil)
			So(m.State(), ShouldEqual, follower.StateActive)
			So(f.subscribeCount(), ShouldEqual, 1)

			Convey("Then notifications are forwarded to the handler", func() {
				f.subscription(0).deliver(updateNotification(matchID, "ABC123"))

				select {
				case n := <-received:
					So(n.MatchID, ShouldEqual, matchID)
				case <-time.After(2 * time.Second):
					So("notification delivered", ShouldBeEmpty)
				}
			})

			Convey("When subscribing again for another match", func() {
				other := feed.Filter{MatchID: uuid.New(), MatchKey: "XYZ789"}
				err := m.Subscribe(ctx, other, func(feed.Notification) {}, nil, nil)

				Convey("Then the prior subscription is released first", func() {
					So(err, ShouldBeNil)
					So(f.subscribeCount(), ShouldEqual, 2)
					select {
					case <-f.subscription(0).Done():
					default:
						So("first subscription released", ShouldBeEmpty)
					}
					So(f.subscription(0).Err(), ShouldBeNil)
				})
			})

			Convey("When unsubscribing", func() {
				m.Unsubscribe(ctx)

				Convey("Then the manager returns to idle cleanly", func() {
					So(m.State(), ShouldEqual, follower.StateIdle)
					So(f.subscription(0).Err(), ShouldBeNil)
				})
			})

			Convey("When the transport drops the subscription", func() {
				errCh := make(chan error, 16)
				// Re-subscribe with an error sink so the drop is observable.
				err := m.Subscribe(ctx, filter,
					func(n feed.Notification) { received <- n },
					func(err error) { errCh <- err },
					nil)
				So(err, ShouldBeNil)

				f.subscription(1).fail(errors.New("connection reset"))

				Convey("Then the failure is surfaced as transient", func() {
					select {
					case err := <-errCh:
						So(follower.IsTransient(err), ShouldBeTrue)
					case <-time.After(2 * time.Second):
						So("error surfaced", ShouldBeEmpty)
					}
				})

				Convey("Then it resubscribes after the backoff", func() {
					waitFor(t, func() bool {
						return m.State() == follower.StateSubscribing
					})
					clock.BlockUntil(1)
					clock.Advance(50 * time.Millisecond)

					waitFor(t, func() bool { return f.subscribeCount() == 3 })
					waitFor(t, func() bool {
						return m.State() == follower.StateActive
					})

					Convey("And the new subscription keeps forwarding", func() {
						f.subscription(2).deliver(updateNotification(matchID, "ABC123"))
						select {
						case <-received:
						case <-time.After(2 * time.Second):
							So("notification delivered after resubscribe", ShouldBeEmpty)
						}
					})
				})
			})
		})

		Convey("When the initial subscribe fails", func() {
			f.failSubscribes(errors.New("dial failed"))
			err := m.Subscribe(ctx, filter, func(feed.Notification) {}, nil, nil)

			Convey("Then the error is transient and the manager stays idle", func() {
				So(follower.IsTransient(err), ShouldBeTrue)
				So(m.State(), ShouldEqual, follower.StateIdle)
			})
		})
	})
}
