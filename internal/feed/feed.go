// Package feed provides the change feed consumed by match followers: a
// push-based stream of row-level changes to the matches_live table, scoped to
// a single match. Two drivers exist, one over Postgres LISTEN/NOTIFY and one
// over NATS JetStream; both deliver the same change envelope.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a row-level change notification.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Notification is a single change delivered by a subscription. Record holds
// the new row as JSON; MatchID and MatchKey are extracted from it so
// subscribers can guard against stale callbacks without re-decoding.
type Notification struct {
	Kind     Kind
	MatchID  uuid.UUID
	MatchKey string
	Record   json.RawMessage
}

// Filter scopes a subscription to one match. Both fields identify the same
// immutable record; subscriptions are never opened unscoped.
type Filter struct {
	MatchID  uuid.UUID
	MatchKey string
}

// Matches reports whether a notification pertains to the filtered match.
func (f Filter) Matches(n Notification) bool {
	return n.MatchID == f.MatchID || (n.MatchKey != "" && n.MatchKey == f.MatchKey)
}

// Subscription is one live, scoped stream of change notifications. The handle
// is exclusively owned by its subscriber; Unsubscribe releases all resources.
type Subscription interface {
	// Events delivers change notifications in arrival order. Receivers must
	// also select on Done; the channel is not closed on termination.
	Events() <-chan Notification

	// Done is closed when the subscription has terminated, whether by
	// Unsubscribe or by a transport failure.
	Done() <-chan struct{}

	// Err reports why the subscription terminated. It returns nil after a
	// clean Unsubscribe and is only meaningful once Done is closed.
	Err() error

	// Unsubscribe tears the subscription down and releases its resources.
	Unsubscribe(ctx context.Context) error
}

// Feed opens scoped change feed subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}

// envelope is the wire form shared by both drivers:
// {"type": "UPDATE", "record": {<row as JSON>}}.
type envelope struct {
	Type   string          `json:"type"`
	Record json.RawMessage `json:"record"`
}

// recordIdentity probes just the identity columns of a row payload.
type recordIdentity struct {
	ID       uuid.UUID `json:"id"`
	MatchKey string    `json:"match_key"`
}

// DecodeChange decodes a change envelope into a Notification.
func DecodeChange(data []byte) (Notification, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Notification{}, fmt.Errorf("decode change envelope: %w", err)
	}

	kind := Kind(env.Type)
	switch kind {
	case KindInsert, KindUpdate, KindDelete:
	default:
		return Notification{}, fmt.Errorf("unknown change kind %q", env.Type)
	}

	var id recordIdentity
	if len(env.Record) > 0 {
		if err := json.Unmarshal(env.Record, &id); err != nil {
			return Notification{}, fmt.Errorf("decode change record identity: %w", err)
		}
	}

	return Notification{
		Kind:     kind,
		MatchID:  id.ID,
		MatchKey: id.MatchKey,
		Record:   env.Record,
	}, nil
}
