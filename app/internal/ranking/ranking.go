// Package ranking aggregates per-endpoint uptime figures into the
// "problem ranking" consumed by report generation: endpoints with
// offline events in the window, most problematic first.
package ranking

import (
	"context"
	"errors"
	"sort"
	"time"

	"phonewatch/app/internal/database"
	"phonewatch/app/internal/metrics"
	"phonewatch/app/internal/status"
	"phonewatch/app/internal/uptime"
)

// DefaultLimit caps the ranking to the top entries.
const DefaultLimit = 20

// Entry is one ranked endpoint.
type Entry struct {
	EndpointID     string     `json:"endpoint_id"`
	Rank           int        `json:"rank"`
	UptimePercent  float64    `json:"uptime_percentage"`
	OfflineMinutes int        `json:"total_offline_minutes"`
	TotalEvents    int        `json:"total_events"`
	OfflineEvents  int        `json:"offline_events"`
	OnlineEvents   int        `json:"online_events"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// Summary carries the aggregate figures across the whole endpoint set,
// including endpoints excluded from the problem ranking.
type Summary struct {
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	Endpoints     int       `json:"endpoints"`
	WithData      int       `json:"endpoints_with_data"`
	AverageUptime float64   `json:"average_uptime"`
}

// TimeoutError reports that an aggregation exceeded its time budget.
// The request is retryable; no partial ranking is ever returned, since
// a truncated ranking would be misleading.
type TimeoutError struct {
	Window    time.Duration
	Endpoints int
}

func (e *TimeoutError) Error() string {
	return "report aggregation exceeded time budget (window " + e.Window.String() + ")"
}

// Store is the read surface the engine needs beyond the aggregator.
type Store interface {
	EventsInWindow(endpointID string, from, to time.Time) ([]database.Event, error)
	LastEventAtOrBefore(endpointID string, t time.Time) (*database.Event, error)
}

// Engine computes rankings.
type Engine struct {
	agg   *uptime.Aggregator
	store Store
	limit int
}

// New creates an engine with the default top-20 limit.
func New(agg *uptime.Aggregator, store Store) *Engine {
	return &Engine{agg: agg, store: store, limit: DefaultLimit}
}

// RankEndpoints computes the problem ranking for the given endpoints
// over [winStart, winEnd). Endpoints with zero offline events in the
// window are excluded from the ranking but still counted in the
// summary. An empty endpoint set returns an empty ranking and a zero
// average, not an error. A context deadline converts to *TimeoutError.
func (e *Engine) RankEndpoints(ctx context.Context, endpointIDs []string, winStart, winEnd time.Time) ([]Entry, Summary, error) {
	started := time.Now()
	defer func() {
		metrics.ReportDuration.Observe(time.Since(started).Seconds())
	}()

	summary := Summary{WindowStart: winStart, WindowEnd: winEnd, Endpoints: len(endpointIDs)}
	entries := []Entry{}
	if len(endpointIDs) == 0 {
		return entries, summary, nil
	}

	var uptimeSum float64
	candidates := make([]Entry, 0, len(endpointIDs))

	for _, id := range endpointIDs {
		if ctx.Err() != nil {
			return nil, Summary{}, e.timeout(winStart, winEnd, len(endpointIDs))
		}

		res, err := e.agg.ComputeUptime(ctx, id, winStart, winEnd)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, Summary{}, e.timeout(winStart, winEnd, len(endpointIDs))
			}
			return nil, Summary{}, err
		}

		events, err := e.store.EventsInWindow(id, winStart, winEnd)
		if err != nil {
			return nil, Summary{}, err
		}

		var offlineEvents, onlineEvents int
		for _, ev := range events {
			switch status.Normalize(ev.RawStatus) {
			case status.Offline:
				offlineEvents++
			case status.Online:
				onlineEvents++
			}
		}

		if res.DataAvailable {
			summary.WithData++
			uptimeSum += res.UptimePercent
		}

		if offlineEvents == 0 {
			continue
		}

		entry := Entry{
			EndpointID:     id,
			UptimePercent:  res.UptimePercent,
			OfflineMinutes: res.OfflineMinutes,
			TotalEvents:    len(events),
			OfflineEvents:  offlineEvents,
			OnlineEvents:   onlineEvents,
		}
		last, err := e.store.LastEventAtOrBefore(id, winEnd)
		if err != nil {
			return nil, Summary{}, err
		}
		if last != nil {
			t := last.ObservedAt
			entry.LastActivity = &t
		}
		candidates = append(candidates, entry)
	}

	// Most offline events first; ties broken by lower uptime, then by
	// id so output is deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].OfflineEvents != candidates[j].OfflineEvents {
			return candidates[i].OfflineEvents > candidates[j].OfflineEvents
		}
		if candidates[i].UptimePercent != candidates[j].UptimePercent {
			return candidates[i].UptimePercent < candidates[j].UptimePercent
		}
		return candidates[i].EndpointID < candidates[j].EndpointID
	})

	if len(candidates) > e.limit {
		candidates = candidates[:e.limit]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	entries = append(entries, candidates...)

	// Endpoints without data are excluded from the denominator rather
	// than dragging the average down as 0%.
	if summary.WithData > 0 {
		summary.AverageUptime = float64(int(uptimeSum/float64(summary.WithData)*10+0.5)) / 10.0
	}

	return entries, summary, nil
}

func (e *Engine) timeout(winStart, winEnd time.Time, n int) error {
	metrics.ReportTimeouts.Inc()
	return &TimeoutError{Window: winEnd.Sub(winStart), Endpoints: n}
}
