package database

import (
	"database/sql"
	"time"
)

// Interval is a contiguous range of time an endpoint spent offline.
// End is nil while the outage is still ongoing.
type Interval struct {
	ID         int64      `json:"id"`
	EndpointID string     `json:"endpoint_id"`
	Start      time.Time  `json:"start"`
	End        *time.Time `json:"end"`
}

// OpenInterval returns the endpoint's ongoing offline interval, or nil
// if the endpoint has none. The tracker guarantees at most one exists.
func (s *Store) OpenInterval(endpointID string) (*Interval, error) {
	row := s.db.QueryRow(`SELECT id, endpoint_id, started_at, ended_at
		FROM offline_intervals
		WHERE endpoint_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC, id DESC LIMIT 1`,
		endpointID)
	iv, err := scanInterval(row)
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// InsertInterval opens a new offline interval starting at start and
// returns its row id.
func (s *Store) InsertInterval(endpointID string, start time.Time) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO offline_intervals (endpoint_id, started_at, created_at)
		VALUES (?,?,?)`,
		endpointID, fmtTime(start), fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CloseInterval sets the end of an open interval.
func (s *Store) CloseInterval(id int64, end time.Time) error {
	_, err := s.db.Exec(`UPDATE offline_intervals SET ended_at = ? WHERE id = ?`,
		fmtTime(end), id)
	return err
}

// IntervalsOverlapping returns the endpoint's offline intervals that
// overlap [from, to), ordered by start. Open intervals overlap any
// window that extends past their start.
func (s *Store) IntervalsOverlapping(endpointID string, from, to time.Time) ([]Interval, error) {
	rows, err := s.db.Query(`SELECT id, endpoint_id, started_at, ended_at
		FROM offline_intervals
		WHERE endpoint_id = ? AND started_at < ? AND (ended_at IS NULL OR ended_at > ?)
		ORDER BY started_at ASC, id ASC`,
		endpointID, fmtTime(to), fmtTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var iv Interval
		var started string
		var ended sql.NullString
		if err := rows.Scan(&iv.ID, &iv.EndpointID, &started, &ended); err != nil {
			return nil, err
		}
		if iv.Start, err = parseTime(started); err != nil {
			return nil, err
		}
		if ended.Valid {
			t, err := parseTime(ended.String)
			if err != nil {
				return nil, err
			}
			iv.End = &t
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// IntervalsForEndpoint returns every interval recorded for an endpoint,
// ordered by start.
func (s *Store) IntervalsForEndpoint(endpointID string) ([]Interval, error) {
	return s.IntervalsOverlapping(endpointID, time.Time{}, time.Now().Add(24*time.Hour))
}

func scanInterval(row *sql.Row) (*Interval, error) {
	var iv Interval
	var started string
	var ended sql.NullString
	err := row.Scan(&iv.ID, &iv.EndpointID, &started, &ended)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if iv.Start, err = parseTime(started); err != nil {
		return nil, err
	}
	if ended.Valid {
		t, err := parseTime(ended.String)
		if err != nil {
			return nil, err
		}
		iv.End = &t
	}
	return &iv, nil
}
