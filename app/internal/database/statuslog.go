package database

import "time"

// LogEntry is one audit record of a status transition, consumed by the
// history API and by external report tooling.
type LogEntry struct {
	ID          int64     `json:"id"`
	EndpointID  string    `json:"endpoint_id"`
	Previous    string    `json:"previous_status"`
	Current     string    `json:"current_status"`
	ObservedAt  time.Time `json:"observed_at"`
	Description string    `json:"description"`
}

// InsertStatusLog appends an audit entry for a state transition.
func (s *Store) InsertStatusLog(e LogEntry) error {
	_, err := s.db.Exec(`INSERT INTO status_log
		(endpoint_id, previous_status, current_status, observed_at, description, created_at)
		VALUES (?,?,?,?,?,?)`,
		e.EndpointID, e.Previous, e.Current, fmtTime(e.ObservedAt), e.Description, fmtTime(time.Now()))
	return err
}

// StatusLog returns the most recent audit entries for an endpoint,
// newest first. An empty endpointID returns entries for all endpoints.
func (s *Store) StatusLog(endpointID string, limit int) ([]LogEntry, error) {
	query := `SELECT id, endpoint_id, previous_status, current_status, observed_at, COALESCE(description, '')
		FROM status_log WHERE 1=1`
	args := []interface{}{}
	if endpointID != "" {
		query += " AND endpoint_id = ?"
		args = append(args, endpointID)
	}
	query += " ORDER BY observed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var observed string
		if err := rows.Scan(&e.ID, &e.EndpointID, &e.Previous, &e.Current, &observed, &e.Description); err != nil {
			return nil, err
		}
		if e.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneStatusLog removes old audit entries, keeping the most recent
// keepCount rows.
func (s *Store) PruneStatusLog(keepCount int) error {
	_, err := s.db.Exec(`DELETE FROM status_log WHERE id NOT IN (
		SELECT id FROM status_log ORDER BY observed_at DESC, id DESC LIMIT ?
	)`, keepCount)
	return err
}
