package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ayusman/headcount/internal/persist"
)

// EventRow is a stored zone crossing.
type EventRow struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	TrackID   uint64    `json:"track_id"`
	Type      string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Zone      string    `json:"zone"`
}

// HourlyCount is the number of entries and exits in one UTC hour.
type HourlyCount struct {
	Hour    time.Time `json:"hour"`
	Entries int64     `json:"entries"`
	Exits   int64     `json:"exits"`
}

// EventRepository stores counting events.
type EventRepository struct {
	db *sql.DB
}

// Events returns an EventRepository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Insert stores e and returns its row id. A zero timestamp is replaced by
// the current time.
func (r *EventRepository) Insert(ctx context.Context, e persist.Event) (int64, error) {
	if e.Type != persist.EventEntry && e.Type != persist.EventExit {
		return 0, fmt.Errorf("%w: unknown event type %q", persist.ErrPersistence, e.Type)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO counting_events (run_id, track_id, event_type, timestamp, zone_name) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, int64(e.TrackID), e.Type, e.Timestamp.UnixMilli(), e.Zone,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return result.LastInsertId()
}

// List returns matching events, newest first.
func (r *EventRepository) List(ctx context.Context, f Filter) ([]EventRow, error) {
	where, args := f.where(true)
	query, args := f.page(
		`SELECT id, run_id, track_id, event_type, timestamp, zone_name FROM counting_events`+where+` ORDER BY timestamp DESC, id DESC`,
		args,
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e       EventRow
			trackID int64
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &trackID, &e.Type, &ts, &e.Zone); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.TrackID = uint64(trackID)
		e.Timestamp = fromMillis(ts)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// CountByType returns the number of matching entries and exits.
// f.EventType, Limit and Offset are ignored.
func (r *EventRepository) CountByType(ctx context.Context, f Filter) (entries, exits int64, err error) {
	where, args := f.where(false)
	err = r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN event_type = 'entry' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN event_type = 'exit' THEN 1 ELSE 0 END), 0)
		FROM counting_events`+where,
		args...,
	).Scan(&entries, &exits)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count events: %w", err)
	}
	return entries, exits, nil
}

// Hourly groups matching events by UTC hour, oldest first. Hours without
// events are omitted.
func (r *EventRepository) Hourly(ctx context.Context, f Filter) ([]HourlyCount, error) {
	where, args := f.where(false)
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			strftime('%Y-%m-%dT%H:00:00Z', timestamp / 1000, 'unixepoch') AS hour,
			SUM(CASE WHEN event_type = 'entry' THEN 1 ELSE 0 END),
			SUM(CASE WHEN event_type = 'exit' THEN 1 ELSE 0 END)
		FROM counting_events`+where+`
		GROUP BY hour
		ORDER BY hour`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group events: %w", err)
	}
	defer rows.Close()

	var out []HourlyCount
	for rows.Next() {
		var (
			h    HourlyCount
			hour string
		)
		if err := rows.Scan(&hour, &h.Entries, &h.Exits); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count: %w", err)
		}
		h.Hour, err = time.Parse(time.RFC3339, hour)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hour %q: %w", hour, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hourly counts: %w", err)
	}
	return out, nil
}

// DeleteByZone removes every event recorded for zone and returns how many
// were removed.
func (r *EventRepository) DeleteByZone(ctx context.Context, zone string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM counting_events WHERE zone_name = ?`, zone)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return result.RowsAffected()
}
