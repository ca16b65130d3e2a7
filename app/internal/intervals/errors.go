package intervals

import (
	"fmt"
	"time"
)

// OutOfOrderError is returned when an event carries a timestamp earlier
// than the endpoint's last applied event. Events are never reordered;
// the caller records the anomaly and drops the event. It usually means
// clock skew or a replay bug in the upstream feed.
type OutOfOrderError struct {
	EndpointID  string
	Timestamp   time.Time
	LastApplied time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order event for %s: %s is before last applied %s",
		e.EndpointID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.LastApplied.UTC().Format(time.RFC3339))
}
