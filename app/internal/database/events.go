package database

import (
	"database/sql"
	"time"
)

// Event sources.
const (
	SourceLive   = "live"
	SourceStored = "stored"
)

// Event is one raw status observation as received from the feed.
// Rows are append-only and never mutated.
type Event struct {
	ID         int64     `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	RawStatus  string    `json:"raw_status"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// InsertEvent appends an observation to the event log. The feed is
// at-least-once, so redeliveries of the same (endpoint, timestamp,
// raw status) triple are swallowed here; the bool reports whether the
// row was actually new.
func (s *Store) InsertEvent(ev Event) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO status_events
		(endpoint_id, raw_status, observed_at, source, created_at)
		VALUES (?,?,?,?,?)`,
		ev.EndpointID, ev.RawStatus, fmtTime(ev.ObservedAt), ev.Source, fmtTime(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteEvent removes a single event by its identity triple. The
// ingest pipeline rolls back an event whose application failed partway
// so a redelivery is not swallowed as a duplicate.
func (s *Store) DeleteEvent(endpointID string, observedAt time.Time, rawStatus string) error {
	_, err := s.db.Exec(`DELETE FROM status_events
		WHERE endpoint_id = ? AND observed_at = ? AND raw_status = ?`,
		endpointID, fmtTime(observedAt), rawStatus)
	return err
}

// EventsInWindow returns all events for an endpoint with
// observed_at in [from, to), ordered by timestamp then record id.
func (s *Store) EventsInWindow(endpointID string, from, to time.Time) ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, endpoint_id, raw_status, observed_at, source
		FROM status_events
		WHERE endpoint_id = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC, id ASC`,
		endpointID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LastEventAtOrBefore returns the most recent event for an endpoint
// observed at or before t, or nil if none exists.
func (s *Store) LastEventAtOrBefore(endpointID string, t time.Time) (*Event, error) {
	row := s.db.QueryRow(`SELECT id, endpoint_id, raw_status, observed_at, source
		FROM status_events
		WHERE endpoint_id = ? AND observed_at <= ?
		ORDER BY observed_at DESC, id DESC LIMIT 1`,
		endpointID, fmtTime(t))
	return scanEvent(row)
}

// LastEvent returns the most recent event for an endpoint, or nil.
func (s *Store) LastEvent(endpointID string) (*Event, error) {
	row := s.db.QueryRow(`SELECT id, endpoint_id, raw_status, observed_at, source
		FROM status_events
		WHERE endpoint_id = ?
		ORDER BY observed_at DESC, id DESC LIMIT 1`,
		endpointID)
	return scanEvent(row)
}

// PruneEvents deletes events observed before the cutoff. Returns the
// number of rows removed.
func (s *Store) PruneEvents(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM status_events WHERE observed_at < ?`, fmtTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvent(row *sql.Row) (*Event, error) {
	var ev Event
	var observed string
	err := row.Scan(&ev.ID, &ev.EndpointID, &ev.RawStatus, &observed, &ev.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ev.ObservedAt, err = parseTime(observed); err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var ev Event
		var observed string
		if err := rows.Scan(&ev.ID, &ev.EndpointID, &ev.RawStatus, &observed, &ev.Source); err != nil {
			return nil, err
		}
		t, err := parseTime(observed)
		if err != nil {
			return nil, err
		}
		ev.ObservedAt = t
		out = append(out, ev)
	}
	return out, rows.Err()
}
