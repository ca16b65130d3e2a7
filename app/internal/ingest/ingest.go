// Package ingest is the single entry point for raw status
// observations. Both the HTTP event endpoint and the live feed funnel
// through Pipeline.Process, which validates, dedups, normalizes and
// applies each observation.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"phonewatch/app/internal/database"
	"phonewatch/app/internal/intervals"
	"phonewatch/app/internal/metrics"
	"phonewatch/app/internal/status"
)

// Observation is one raw status report as it arrives off the wire.
// Timestamp is RFC3339; an unparsable value is a MalformedError.
type Observation struct {
	EndpointID string `json:"endpoint_id"`
	RawStatus  string `json:"raw_status"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source,omitempty"`
}

// MalformedError rejects an observation at the boundary before it can
// touch the state machine.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed observation: " + e.Reason
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	InsertEvent(ev database.Event) (bool, error)
	DeleteEvent(endpointID string, observedAt time.Time, rawStatus string) error
}

// Pipeline validates and applies observations.
type Pipeline struct {
	store   Store
	tracker *intervals.Tracker
}

// NewPipeline wires the ingest boundary to its store and tracker.
func NewPipeline(store Store, tracker *intervals.Tracker) *Pipeline {
	return &Pipeline{store: store, tracker: tracker}
}

// Process handles one observation end to end. It returns the state
// change the event caused, nil if the event was a duplicate or a
// no-op, and an error for malformed or out-of-order observations.
//
// Redelivered duplicates are dropped before the ordering check so an
// at-least-once feed replaying old batches does not show up as an
// out-of-order anomaly.
func (p *Pipeline) Process(obs Observation) (*intervals.Change, error) {
	ts, err := p.validate(&obs)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonMalformed).Inc()
		logrus.WithFields(logrus.Fields{
			"endpoint": obs.EndpointID,
			"error":    err,
		}).Warn("rejected malformed observation")
		return nil, err
	}

	// State must be recovered before the event is persisted, or a fresh
	// tracker would read the new event back as its prior state.
	if err := p.tracker.Warm(obs.EndpointID); err != nil {
		return nil, err
	}

	inserted, err := p.store.InsertEvent(database.Event{
		EndpointID: obs.EndpointID,
		RawStatus:  obs.RawStatus,
		ObservedAt: ts,
		Source:     obs.Source,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		metrics.EventsDuplicate.Inc()
		return nil, nil
	}

	st := status.Normalize(obs.RawStatus)
	change, err := p.tracker.Apply(obs.EndpointID, st, ts)
	if err != nil {
		var oo *intervals.OutOfOrderError
		if errors.As(err, &oo) {
			// Stale events stay in the append-only log; only their
			// application is refused.
			metrics.EventsRejected.WithLabelValues(metrics.ReasonOutOfOrder).Inc()
			logrus.WithFields(logrus.Fields{
				"endpoint":     oo.EndpointID,
				"timestamp":    oo.Timestamp,
				"last_applied": oo.LastApplied,
			}).Warn("rejected out-of-order observation")
			return nil, err
		}
		// The event was persisted but never applied. Remove it again,
		// or the dedup would swallow the feed's redelivery and the
		// transition would be lost for good.
		if delErr := p.store.DeleteEvent(obs.EndpointID, ts, obs.RawStatus); delErr != nil {
			logrus.WithFields(logrus.Fields{
				"endpoint": obs.EndpointID,
				"error":    delErr,
			}).Error("failed to roll back unapplied event")
		}
		return nil, err
	}

	metrics.EventsIngested.Inc()
	return change, nil
}

func (p *Pipeline) validate(obs *Observation) (time.Time, error) {
	if obs.EndpointID == "" {
		return time.Time{}, &MalformedError{Reason: "missing endpoint_id"}
	}
	if obs.Timestamp == "" {
		return time.Time{}, &MalformedError{Reason: "missing timestamp"}
	}
	ts, err := time.Parse(time.RFC3339, obs.Timestamp)
	if err != nil {
		return time.Time{}, &MalformedError{Reason: fmt.Sprintf("unparsable timestamp %q", obs.Timestamp)}
	}
	switch obs.Source {
	case "":
		obs.Source = database.SourceLive
	case database.SourceLive, database.SourceStored:
	default:
		return time.Time{}, &MalformedError{Reason: fmt.Sprintf("unknown source %q", obs.Source)}
	}
	return ts, nil
}
