package database

import (
	"database/sql"
	"time"
)

// Snapshot is a persisted report payload for a fixed window, written
// by the report scheduler so templates can render without recomputing.
type Snapshot struct {
	ID          int64     `json:"id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Payload     string    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaveSnapshot stores (or replaces) the report payload for a window.
func (s *Store) SaveSnapshot(winStart, winEnd time.Time, payload string) error {
	_, err := s.db.Exec(`INSERT INTO report_snapshots (window_start, window_end, payload, created_at)
		VALUES (?,?,?,?)
		ON CONFLICT(window_start, window_end) DO UPDATE SET
			payload = excluded.payload, created_at = excluded.created_at`,
		fmtTime(winStart), fmtTime(winEnd), payload, fmtTime(time.Now()))
	return err
}

// LatestSnapshot returns the most recently generated snapshot, or nil
// if none exists yet.
func (s *Store) LatestSnapshot() (*Snapshot, error) {
	row := s.db.QueryRow(`SELECT id, window_start, window_end, payload, created_at
		FROM report_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`)

	var snap Snapshot
	var start, end, created string
	err := row.Scan(&snap.ID, &start, &end, &snap.Payload, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.WindowStart, err = parseTime(start); err != nil {
		return nil, err
	}
	if snap.WindowEnd, err = parseTime(end); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &snap, nil
}
