package follower

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/markmastop/waedo-dohockey-live/internal/feed"
	"github.com/markmastop/waedo-dohockey-live/internal/metrics"
	"github.com/markmastop/waedo-dohockey-live/internal/models"
)

// UpdateReconciler consumes change notifications for one followed match and
// hands them to the snapshot store. It filters by change kind, guards against
// stale callbacks for a previously followed match, and emits a new-event
// alert when (and only when) the normalized latest-event description changes.
type UpdateReconciler struct {
	store   *SnapshotStore
	matchID uuid.UUID
	clock   clockwork.Clock

	mu              sync.Mutex
	lastDescription string
	onNewEvent      func(desc string, at time.Time)
	onApplied       func(models.MatchSnapshot)
}

// NewUpdateReconciler creates a reconciler scoped to one match record.
// onNewEvent fires for distinct latest-event descriptions; onApplied fires
// after every merged update. Either may be nil.
func NewUpdateReconciler(
	store *SnapshotStore,
	matchID uuid.UUID,
	clock clockwork.Clock,
	onNewEvent func(desc string, at time.Time),
	onApplied func(models.MatchSnapshot),
) *UpdateReconciler {
	r := &UpdateReconciler{
		store:      store,
		matchID:    matchID,
		clock:      clock,
		onNewEvent: onNewEvent,
		onApplied:  onApplied,
	}
	// Seed the comparison baseline so the first notification only alerts when
	// it actually introduces a new description.
	if snap, ok := store.Current(); ok {
		if desc, found := Describe(snap); found {
			r.lastDescription = desc
		}
	}
	return r
}

// OnChange processes a single feed notification. Fire-and-forget from the
// transport's perspective: problems are logged and counted, never returned.
func (r *UpdateReconciler) OnChange(n feed.Notification) {
	if n.Kind != feed.KindUpdate {
		// A followed record is not expected to be created or deleted while
		// followed; insert/delete notifications are outside normal operation.
		log.Debug().
			Str("kind", string(n.Kind)).
			Str("match_key", n.MatchKey).
			Msg("ignoring non-update change notification")
		return
	}
	if n.MatchID != r.matchID {
		// Stale callback from a subscription torn down during a key switch.
		log.Debug().
			Str("got_match_id", n.MatchID.String()).
			Str("want_match_id", r.matchID.String()).
			Msg("dropping change for a different match")
		return
	}

	var update models.MatchUpdate
	if err := json.Unmarshal(n.Record, &update); err != nil {
		log.Error().Err(err).Msg("malformed update payload, skipping")
		return
	}

	if !r.store.Apply(update) {
		// Stale revision: expected, routine traffic from an eventually
		// consistent feed. No alert fires.
		return
	}

	snap, ok := r.store.Current()
	if !ok {
		return
	}

	// The normalizer runs against the merged snapshot, so a description from
	// either payload shape is picked up even when this update only touched
	// unrelated fields.
	r.alertIfNewDescription(snap)
	if r.onApplied != nil {
		r.onApplied(snap)
	}
}

// noteSnapshot updates the alert baseline after an out-of-band refresh,
// alerting if the refreshed state carries a description not yet surfaced.
func (r *UpdateReconciler) noteSnapshot(snap models.MatchSnapshot) {
	r.alertIfNewDescription(snap)
}

// alertIfNewDescription fires the new-event alert when the normalized latest
// event differs from the previously surfaced one. The equality check prevents
// duplicate alerts when an update only touches unrelated fields.
func (r *UpdateReconciler) alertIfNewDescription(snap models.MatchSnapshot) {
	desc, found := Describe(snap)
	if !found {
		return
	}

	r.mu.Lock()
	changed := desc != r.lastDescription
	if changed {
		r.lastDescription = desc
	}
	r.mu.Unlock()

	if changed {
		metrics.NewEventAlerts.Inc()
		if r.onNewEvent != nil {
			r.onNewEvent(desc, r.eventTime(snap))
		}
	}
}

func (r *UpdateReconciler) eventTime(snap models.MatchSnapshot) time.Time {
	if snap.LastEventTime != nil {
		return *snap.LastEventTime
	}
	return r.clock.Now()
}
