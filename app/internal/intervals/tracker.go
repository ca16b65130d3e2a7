package intervals

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"phonewatch/app/internal/database"
	"phonewatch/app/internal/metrics"
	"phonewatch/app/internal/status"
)

// Store is the persistence surface the tracker needs. *database.Store
// satisfies it; tests may substitute another backend.
type Store interface {
	OpenInterval(endpointID string) (*database.Interval, error)
	InsertInterval(endpointID string, start time.Time) (int64, error)
	CloseInterval(id int64, end time.Time) error
	InsertStatusLog(e database.LogEntry) error
	LastEvent(endpointID string) (*database.Event, error)
}

// Change describes what a single applied event did to an endpoint's
// state. It is what the ingest boundary reports back to the caller so
// the external audit store knows a transition happened.
type Change struct {
	EndpointID  string        `json:"endpoint_id"`
	Previous    status.Status `json:"-"`
	Current     status.Status `json:"-"`
	PreviousStr string        `json:"previous_status"`
	CurrentStr  string        `json:"current_status"`
	Timestamp   time.Time     `json:"timestamp"`
	Opened      bool          `json:"opened_interval"`
	Closed      bool          `json:"closed_interval"`
	IntervalID  int64         `json:"interval_id,omitempty"`
}

// Tracker reconstructs offline intervals from a stream of normalized
// status events. It owns the per-endpoint state machine; writers for
// the same endpoint are serialized behind a per-endpoint lock while
// different endpoints proceed concurrently.
type Tracker struct {
	store    Store
	onChange func(endpointID string)

	mu        sync.Mutex
	endpoints map[string]*endpointState
}

// endpointState is the single-writer state for one endpoint. The mutex
// serializes Apply calls; the tracker-level lock only guards the map.
type endpointState struct {
	mu          sync.Mutex
	loaded      bool
	current     status.Status
	lastApplied time.Time
	openID      int64 // row id of the open interval, 0 if none
}

// New creates a tracker backed by the given store. onChange, if
// non-nil, is invoked after every state transition, outside any lock
// shared with other endpoints; callers use it for cache invalidation.
func New(store Store, onChange func(endpointID string)) *Tracker {
	return &Tracker{
		store:     store,
		onChange:  onChange,
		endpoints: make(map[string]*endpointState),
	}
}

// Warm ensures the endpoint's state is loaded from the store. The
// ingest pipeline calls it before persisting a new event so recovery
// never reads that event back as prior state.
func (t *Tracker) Warm(endpointID string) error {
	es := t.state(endpointID)
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.loaded {
		return nil
	}
	return t.load(endpointID, es)
}

// Apply feeds one normalized event into the endpoint's state machine.
// Events must arrive in non-decreasing timestamp order per endpoint;
// an earlier timestamp returns *OutOfOrderError and leaves state
// untouched. A nil Change with nil error means the event was a no-op
// (no state transition).
func (t *Tracker) Apply(endpointID string, st status.Status, ts time.Time) (*Change, error) {
	es := t.state(endpointID)
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.loaded {
		if err := t.load(endpointID, es); err != nil {
			return nil, err
		}
	}

	if !es.lastApplied.IsZero() && ts.Before(es.lastApplied) {
		return nil, &OutOfOrderError{
			EndpointID:  endpointID,
			Timestamp:   ts,
			LastApplied: es.lastApplied,
		}
	}
	prev := es.current
	if st == prev {
		// Not a transition; nothing to record.
		es.lastApplied = ts
		return nil, nil
	}

	change := &Change{
		EndpointID:  endpointID,
		Previous:    prev,
		Current:     st,
		PreviousStr: prev.String(),
		CurrentStr:  st.String(),
		Timestamp:   ts,
	}

	switch {
	case st == status.Offline:
		if es.openID != 0 {
			// Double offline entry without an intervening close.
			// Idempotent: keep the existing interval.
			logrus.WithFields(logrus.Fields{
				"endpoint": endpointID,
				"interval": es.openID,
			}).Warn("offline entry with interval already open, ignoring")
			metrics.InconsistentTransitions.Inc()
			change.IntervalID = es.openID
		} else {
			id, err := t.store.InsertInterval(endpointID, ts)
			if err != nil {
				return nil, err
			}
			es.openID = id
			change.Opened = true
			change.IntervalID = id
			metrics.IntervalsOpened.Inc()
		}

	case prev == status.Offline:
		if es.openID == 0 {
			// Transitioning out of offline with nothing open. Do not
			// fabricate a start; record the transition only.
			logrus.WithFields(logrus.Fields{
				"endpoint": endpointID,
				"status":   st.String(),
			}).Warn("no open interval to close on offline exit")
			metrics.InconsistentTransitions.Inc()
		} else {
			if err := t.store.CloseInterval(es.openID, ts); err != nil {
				return nil, err
			}
			change.Closed = true
			change.IntervalID = es.openID
			es.openID = 0
			metrics.IntervalsClosed.Inc()
		}
	}

	// State advances only once the interval writes have succeeded; a
	// failed event leaves lastApplied untouched so its redelivery is
	// not rejected as out of order.
	es.current = st
	es.lastApplied = ts

	entry := database.LogEntry{
		EndpointID:  endpointID,
		Previous:    prev.String(),
		Current:     st.String(),
		ObservedAt:  ts,
		Description: transitionDescription(prev, st),
	}
	if err := t.store.InsertStatusLog(entry); err != nil {
		logrus.WithFields(logrus.Fields{
			"endpoint": endpointID,
			"error":    err,
		}).Error("failed to write status log entry")
	}

	if t.onChange != nil {
		t.onChange(endpointID)
	}
	return change, nil
}

// Current returns the endpoint's current state and the timestamp of the
// last applied event. An endpoint never seen reports Unknown.
func (t *Tracker) Current(endpointID string) (status.Status, time.Time, error) {
	es := t.state(endpointID)
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.loaded {
		if err := t.load(endpointID, es); err != nil {
			return status.Unknown, time.Time{}, err
		}
	}
	return es.current, es.lastApplied, nil
}

// Forget drops the in-memory state for an endpoint, e.g. when it is
// removed from the inventory. Persisted intervals are untouched.
func (t *Tracker) Forget(endpointID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.endpoints, endpointID)
}

func (t *Tracker) state(endpointID string) *endpointState {
	t.mu.Lock()
	defer t.mu.Unlock()

	es, ok := t.endpoints[endpointID]
	if !ok {
		es = &endpointState{current: status.Unknown}
		t.endpoints[endpointID] = es
	}
	return es
}

// load recovers an endpoint's state from the store after a restart:
// current status from the last recorded event, open interval if the
// endpoint was mid-outage. Called with es.mu held.
func (t *Tracker) load(endpointID string, es *endpointState) error {
	last, err := t.store.LastEvent(endpointID)
	if err != nil {
		return err
	}
	if last != nil {
		es.current = status.Normalize(last.RawStatus)
		es.lastApplied = last.ObservedAt
	}

	open, err := t.store.OpenInterval(endpointID)
	if err != nil {
		return err
	}
	if open != nil {
		es.openID = open.ID
	}
	es.loaded = true
	return nil
}

func transitionDescription(prev, cur status.Status) string {
	switch {
	case cur == status.Offline:
		return "endpoint went offline"
	case prev == status.Offline:
		return fmt.Sprintf("endpoint recovered to %s", cur)
	case prev == status.Unknown:
		return fmt.Sprintf("first observation: %s", cur)
	default:
		return fmt.Sprintf("status changed from %s to %s", prev, cur)
	}
}
