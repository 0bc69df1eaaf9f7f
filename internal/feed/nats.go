package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NatsConfig holds settings for the JetStream feed driver.
type NatsConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // subjects are <prefix>.<MATCH_KEY>
	AckWait       time.Duration
	MaxAckPending int
}

// DefaultNatsConfig returns defaults for the JetStream feed driver.
func DefaultNatsConfig() NatsConfig {
	return NatsConfig{
		URL:           nats.DefaultURL,
		StreamName:    "MATCH_CHANGES",
		SubjectPrefix: "matches.live",
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
	}
}

// NatsFeed delivers matches_live changes over NATS JetStream. The admin side
// publishes the same change envelope as the Postgres trigger, one subject per
// match key, so the subject filter scopes the subscription server-side.
type NatsFeed struct {
	cfg NatsConfig
}

// NewNatsFeed creates a JetStream-backed change feed.
func NewNatsFeed(cfg NatsConfig) *NatsFeed {
	return &NatsFeed{cfg: cfg}
}

// Subscribe opens an ephemeral consumer filtered to the match's subject.
func (f *NatsFeed) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	sub := &natsSubscription{
		events: make(chan Notification, 64),
		done:   make(chan struct{}),
	}

	opts := []nats.Option{
		// Reconnection is the subscription manager's job: a lost connection
		// terminates the subscription so the owner can resubscribe and decide
		// about gap-filling.
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			sub.finish(fmt.Errorf("nats disconnected: %w", err))
		}),
	}

	nc, err := nats.Connect(f.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	sub.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, f.cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get stream %s: %w", f.cfg.StreamName, err)
	}

	subject := f.cfg.SubjectPrefix + "." + strings.ToUpper(filter.MatchKey)
	consumer, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		Description:   "live match follower",
		FilterSubject: subject,
		// The initial snapshot comes from the key lookup; only changes after
		// the subscription matter here.
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       f.cfg.AckWait,
		MaxAckPending: f.cfg.MaxAckPending,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		n, err := DecodeChange(msg.Data())
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("malformed change message, skipping")
			_ = msg.Ack()
			return
		}
		if !filter.Matches(n) {
			_ = msg.Ack()
			return
		}
		if sub.deliver(n) {
			_ = msg.Ack()
		} else {
			_ = msg.Nak()
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("start consumer: %w", err)
	}
	sub.consume = consumeCtx

	log.Info().
		Str("stream", f.cfg.StreamName).
		Str("subject", subject).
		Msg("jetstream feed subscription established")

	return sub, nil
}

type natsSubscription struct {
	nc      *nats.Conn
	consume jetstream.ConsumeContext
	events  chan Notification
	done    chan struct{}

	mu       sync.Mutex
	err      error
	finished bool
}

func (s *natsSubscription) Events() <-chan Notification { return s.events }
func (s *natsSubscription) Done() <-chan struct{}       { return s.done }

func (s *natsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *natsSubscription) Unsubscribe(ctx context.Context) error {
	s.finish(nil)
	return nil
}

// deliver hands a notification to the subscriber, reporting false once the
// subscription has terminated.
func (s *natsSubscription) deliver(n Notification) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- n:
		return true
	case <-s.done:
		return false
	}
}

func (s *natsSubscription) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()

	if s.consume != nil {
		s.consume.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	// events stays open: the consume callback may be mid-send, and receivers
	// observe termination through done.
	close(s.done)
}
