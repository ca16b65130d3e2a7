// Package uptime computes windowed uptime figures from offline
// intervals. It is the only place these numbers are computed; every
// consumer (HTTP API, report generation, snapshots) calls in here
// rather than keeping its own arithmetic.
package uptime

import (
	"context"
	"fmt"
	"time"

	"phonewatch/app/internal/cache"
	"phonewatch/app/internal/database"
	"phonewatch/app/internal/status"
)

// Store is the read surface the aggregator needs.
type Store interface {
	IntervalsOverlapping(endpointID string, from, to time.Time) ([]database.Interval, error)
	EventsInWindow(endpointID string, from, to time.Time) ([]database.Event, error)
	LastEventAtOrBefore(endpointID string, t time.Time) (*database.Event, error)
}

// WindowResult is the uptime summary for one endpoint over one window.
// It is always recomputed from intervals (or served from a short-TTL
// cache); it is never authoritative state.
type WindowResult struct {
	EndpointID      string    `json:"endpoint_id"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	OnlineMinutes   int       `json:"online_minutes"`
	OfflineMinutes  int       `json:"offline_minutes"`
	UptimePercent   float64   `json:"uptime_percentage"`
	DataAvailable   bool      `json:"data_available"`
	Assumption      string    `json:"assumption,omitempty"`
	EventsProcessed int       `json:"events_processed"`
}

// Aggregator computes WindowResults.
type Aggregator struct {
	store Store
	cache *cache.Cache
	now   func() time.Time
}

// New creates an aggregator. The cache may be nil to disable caching.
func New(store Store, c *cache.Cache) *Aggregator {
	return &Aggregator{store: store, cache: c, now: time.Now}
}

// SetClock overrides the aggregator's notion of "now". Tests use it to
// pin the extension point of open intervals.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// CacheKeyPrefix returns the cache key prefix under which results for
// an endpoint are stored. The tracker's change hook deletes this
// prefix to invalidate.
func CacheKeyPrefix(endpointID string) string {
	return "uptime:" + endpointID + ":"
}

// ComputeUptime computes the uptime summary for one endpoint over
// [winStart, winEnd). Open intervals extend to the current clock time
// for clipping. Durations are floored to whole minutes; only the final
// percentage is rounded (one decimal, half-up).
func (a *Aggregator) ComputeUptime(ctx context.Context, endpointID string, winStart, winEnd time.Time) (*WindowResult, error) {
	cacheKey := CacheKeyPrefix(endpointID) +
		winStart.UTC().Format(time.RFC3339) + ":" + winEnd.UTC().Format(time.RFC3339)
	if a.cache != nil {
		if v, ok := a.cache.Get(cacheKey); ok {
			if res, ok := v.(*WindowResult); ok {
				return res, nil
			}
		}
	}

	res := &WindowResult{
		EndpointID:  endpointID,
		WindowStart: winStart,
		WindowEnd:   winEnd,
	}

	last, err := a.store.LastEventAtOrBefore(endpointID, winEnd)
	if err != nil {
		return nil, err
	}
	res.DataAvailable = last != nil

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	events, err := a.store.EventsInWindow(endpointID, winStart, winEnd)
	if err != nil {
		return nil, err
	}
	res.EventsProcessed = len(events)

	totalMinutes := int(winEnd.Sub(winStart).Minutes())
	if totalMinutes <= 0 {
		// Degenerate window: report zero deterministically, never
		// divide.
		if !res.DataAvailable {
			res.Assumption = "no events recorded in or before window; assuming unknown"
		}
		a.put(cacheKey, res)
		return res, nil
	}

	if !res.DataAvailable {
		res.Assumption = "no events recorded in or before window; assuming unknown"
		a.put(cacheKey, res)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ivs, err := a.store.IntervalsOverlapping(endpointID, winStart, winEnd)
	if err != nil {
		return nil, err
	}

	now := a.now()
	var offline time.Duration
	for _, iv := range ivs {
		end := now
		if iv.End != nil {
			end = *iv.End
		}
		cs := maxTime(iv.Start, winStart)
		ce := minTime(end, winEnd)
		if ce.After(cs) {
			offline += ce.Sub(cs)
		}
	}

	res.OfflineMinutes = int(offline.Minutes())
	if res.OfflineMinutes > totalMinutes {
		res.OfflineMinutes = totalMinutes
	}
	res.OnlineMinutes = totalMinutes - res.OfflineMinutes
	res.UptimePercent = roundPercent(float64(res.OnlineMinutes) / float64(totalMinutes) * 100.0)

	if len(events) == 0 {
		// The endpoint has history but nothing inside the window: the
		// figure extrapolates the last known state across the whole
		// window and says so. Never presented as exact.
		st := status.Normalize(last.RawStatus)
		res.Assumption = fmt.Sprintf(
			"no events in window; extrapolated last known state %q observed at %s",
			st, last.ObservedAt.UTC().Format(time.RFC3339))
	}

	a.put(cacheKey, res)
	return res, nil
}

func (a *Aggregator) put(key string, res *WindowResult) {
	if a.cache != nil {
		a.cache.Set(key, res)
	}
}

// roundPercent rounds to one decimal place, half-up.
func roundPercent(v float64) float64 {
	return float64(int(v*10+0.5)) / 10.0
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
