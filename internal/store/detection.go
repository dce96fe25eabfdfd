package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ayusman/headcount/internal/persist"
)

// DetectionRow is a stored tracked box.
type DetectionRow struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	TrackID    uint64    `json:"track_id"`
	Box        [4]int    `json:"bbox"`
	InZone     bool      `json:"in_zone"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Zone       string    `json:"zone"`
}

// DetectionRepository stores detection records.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns a DetectionRepository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Insert stores d and returns its row id.
func (r *DetectionRepository) Insert(ctx context.Context, d persist.DetectionRecord) (int64, error) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO detections (run_id, track_id, x1, y1, x2, y2, in_zone, confidence, timestamp, zone_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, int64(d.TrackID), d.Box[0], d.Box[1], d.Box[2], d.Box[3],
		d.InZone, d.Confidence, d.Timestamp.UnixMilli(), d.Zone,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert detection: %w", err)
	}
	return result.LastInsertId()
}

// List returns matching detections, newest first.
func (r *DetectionRepository) List(ctx context.Context, f Filter) ([]DetectionRow, error) {
	where, args := f.where(false)
	query, args := f.page(
		`SELECT id, run_id, track_id, x1, y1, x2, y2, in_zone, confidence, timestamp, zone_name
		FROM detections`+where+` ORDER BY timestamp DESC, id DESC`,
		args,
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var out []DetectionRow
	for rows.Next() {
		var (
			d       DetectionRow
			trackID int64
			ts      int64
		)
		err := rows.Scan(&d.ID, &d.RunID, &trackID,
			&d.Box[0], &d.Box[1], &d.Box[2], &d.Box[3],
			&d.InZone, &d.Confidence, &ts, &d.Zone)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		d.TrackID = uint64(trackID)
		d.Timestamp = fromMillis(ts)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating detections: %w", err)
	}
	return out, nil
}

// Count returns the number of matching detections.
func (r *DetectionRepository) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where(false)
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

// DistinctTracks returns the ids of tracks with matching detections in
// ascending order.
func (r *DetectionRepository) DistinctTracks(ctx context.Context, f Filter) ([]uint64, error) {
	where, args := f.where(false)
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT track_id FROM detections`+where+` ORDER BY track_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan track id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating track ids: %w", err)
	}
	return ids, nil
}

// DeleteByZone removes every detection recorded for zone and returns how
// many were removed.
func (r *DetectionRepository) DeleteByZone(ctx context.Context, zone string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM detections WHERE zone_name = ?`, zone)
	if err != nil {
		return 0, fmt.Errorf("failed to delete detections: %w", err)
	}
	return result.RowsAffected()
}
