package ranking

import (
	"context"
	"errors"
	"testing"
	"time"

	"phonewatch/app/internal/database"
	"phonewatch/app/internal/uptime"
)

func newTestEngine(t *testing.T) (*Engine, *database.Store) {
	t.Helper()
	store, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(uptime.New(store, nil), store), store
}

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", s, err)
	}
	return v
}

func addEvent(t *testing.T, store *database.Store, id, raw, at string) {
	t.Helper()
	if _, err := store.InsertEvent(database.Event{
		EndpointID: id, RawStatus: raw, ObservedAt: ts(t, at), Source: database.SourceLive,
	}); err != nil {
		t.Fatal(err)
	}
}

// seedOfflineEvents inserts n offline observations a minute apart,
// each followed by a recovery so the endpoint ends the window online.
func seedOfflineEvents(t *testing.T, store *database.Store, id string, n int) {
	t.Helper()
	base := ts(t, "2026-01-01T10:00:00Z")
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(2*i) * time.Minute)
		addEvent(t, store, id, "unavailable", at.Format(time.RFC3339))
		addEvent(t, store, id, "online", at.Add(time.Minute).Format(time.RFC3339))
	}
}

// --------------- ranking order and filtering ---------------

func TestRankEndpoints_OrdersByOfflineEventsAndExcludesClean(t *testing.T) {
	eng, store := newTestEngine(t)
	seedOfflineEvents(t, store, "ep-a", 5)
	addEvent(t, store, "ep-b", "online", "2026-01-01T10:00:00Z")
	seedOfflineEvents(t, store, "ep-c", 3)

	entries, summary, err := eng.RankEndpoints(context.Background(),
		[]string{"ep-a", "ep-b", "ep-c"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (ep-b has no offline events)", len(entries))
	}
	if entries[0].EndpointID != "ep-a" || entries[1].EndpointID != "ep-c" {
		t.Errorf("order = [%s %s], want [ep-a ep-c]", entries[0].EndpointID, entries[1].EndpointID)
	}
	if entries[0].Rank != 1 || entries[1].Rank != 2 {
		t.Errorf("ranks = [%d %d], want [1 2]", entries[0].Rank, entries[1].Rank)
	}
	if entries[0].OfflineEvents != 5 || entries[1].OfflineEvents != 3 {
		t.Errorf("offline events = [%d %d], want [5 3]", entries[0].OfflineEvents, entries[1].OfflineEvents)
	}

	// The clean endpoint still counts in the summary.
	if summary.Endpoints != 3 || summary.WithData != 3 {
		t.Errorf("summary = %d endpoints / %d with data, want 3/3", summary.Endpoints, summary.WithData)
	}
}

func TestRankEndpoints_TieBrokenByUptimeThenID(t *testing.T) {
	eng, store := newTestEngine(t)

	// Both have one offline event; ep-y also has an hour-long outage so
	// its uptime is lower and it must sort first.
	addEvent(t, store, "ep-x", "unavailable", "2026-01-01T10:00:00Z")
	addEvent(t, store, "ep-x", "online", "2026-01-01T10:01:00Z")
	addClosedInterval(t, store, "ep-x", "2026-01-01T10:00:00Z", "2026-01-01T10:01:00Z")

	addEvent(t, store, "ep-y", "unavailable", "2026-01-01T10:00:00Z")
	addEvent(t, store, "ep-y", "online", "2026-01-01T11:00:00Z")
	addClosedInterval(t, store, "ep-y", "2026-01-01T10:00:00Z", "2026-01-01T11:00:00Z")

	entries, _, err := eng.RankEndpoints(context.Background(),
		[]string{"ep-x", "ep-y"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].EndpointID != "ep-y" {
		t.Errorf("first = %s, want ep-y (lower uptime wins the tie)", entries[0].EndpointID)
	}

	// Identical figures fall back to id order.
	addEvent(t, store, "ep-w", "unavailable", "2026-01-01T10:00:00Z")
	addEvent(t, store, "ep-w", "online", "2026-01-01T10:01:00Z")
	addClosedInterval(t, store, "ep-w", "2026-01-01T10:00:00Z", "2026-01-01T10:01:00Z")

	entries, _, err = eng.RankEndpoints(context.Background(),
		[]string{"ep-x", "ep-w"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].EndpointID != "ep-w" || entries[1].EndpointID != "ep-x" {
		t.Errorf("order = [%s %s], want [ep-w ep-x]", entries[0].EndpointID, entries[1].EndpointID)
	}
}

func TestRankEndpoints_TruncatesToLimit(t *testing.T) {
	eng, store := newTestEngine(t)
	eng.limit = 2
	seedOfflineEvents(t, store, "ep-a", 4)
	seedOfflineEvents(t, store, "ep-b", 3)
	seedOfflineEvents(t, store, "ep-c", 2)

	entries, _, err := eng.RankEndpoints(context.Background(),
		[]string{"ep-a", "ep-b", "ep-c"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].EndpointID != "ep-a" || entries[1].EndpointID != "ep-b" {
		t.Errorf("order = [%s %s], want [ep-a ep-b]", entries[0].EndpointID, entries[1].EndpointID)
	}
}

// --------------- empty set and averages ---------------

func TestRankEndpoints_EmptySet(t *testing.T) {
	eng, _ := newTestEngine(t)

	entries, summary, err := eng.RankEndpoints(context.Background(), nil,
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %v, want empty non-nil slice", entries)
	}
	if summary.AverageUptime != 0 {
		t.Errorf("average = %v, want 0", summary.AverageUptime)
	}
}

func TestRankEndpoints_AverageExcludesEndpointsWithoutData(t *testing.T) {
	eng, store := newTestEngine(t)
	addEvent(t, store, "ep-a", "online", "2026-01-01T10:00:00Z")

	_, summary, err := eng.RankEndpoints(context.Background(),
		[]string{"ep-a", "ep-never-seen"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Endpoints != 2 {
		t.Errorf("endpoints = %d, want 2", summary.Endpoints)
	}
	if summary.WithData != 1 {
		t.Errorf("with data = %d, want 1", summary.WithData)
	}
	// 100% from ep-a alone, not dragged down by the no-data endpoint.
	if summary.AverageUptime != 100.0 {
		t.Errorf("average = %v, want 100.0", summary.AverageUptime)
	}
}

// failingLastEventStore fails the last-activity lookup.
type failingLastEventStore struct {
	*database.Store
}

func (s *failingLastEventStore) LastEventAtOrBefore(endpointID string, t time.Time) (*database.Event, error) {
	return nil, errors.New("disk I/O error")
}

// A failing last-activity lookup aborts the request like every other
// store failure; it must not silently yield an entry without the field.
func TestRankEndpoints_LastActivityErrorPropagates(t *testing.T) {
	store, err := database.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	seedOfflineEvents(t, store, "ep-a", 1)

	eng := New(uptime.New(store, nil), &failingLastEventStore{Store: store})

	_, _, err = eng.RankEndpoints(context.Background(), []string{"ep-a"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	if err == nil {
		t.Fatal("expected the store failure to surface")
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		t.Fatalf("err = %v, should not be mapped to a timeout", err)
	}
}

// --------------- time budget ---------------

func TestRankEndpoints_CanceledContextIsTimeout(t *testing.T) {
	eng, store := newTestEngine(t)
	seedOfflineEvents(t, store, "ep-a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := eng.RankEndpoints(ctx, []string{"ep-a"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.Window != 3*time.Hour {
		t.Errorf("window = %v, want 3h", te.Window)
	}
	if te.Endpoints != 1 {
		t.Errorf("endpoints = %d, want 1", te.Endpoints)
	}
}

func TestRankEndpoints_ExpiredDeadlineIsTimeout(t *testing.T) {
	eng, store := newTestEngine(t)
	seedOfflineEvents(t, store, "ep-a", 1)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, _, err := eng.RankEndpoints(ctx, []string{"ep-a"},
		ts(t, "2026-01-01T09:00:00Z"), ts(t, "2026-01-01T12:00:00Z"))
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
}

func addClosedInterval(t *testing.T, store *database.Store, id, start, end string) {
	t.Helper()
	ivID, err := store.InsertInterval(id, ts(t, start))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CloseInterval(ivID, ts(t, end)); err != nil {
		t.Fatal(err)
	}
}
