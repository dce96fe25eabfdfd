package store

import (
	"strings"
	"time"
)

// Filter narrows event and detection queries. Zero fields match everything.
type Filter struct {
	Zone      string
	TrackID   *uint64
	EventType string
	Start     *time.Time
	End       *time.Time
	Limit     int
	Offset    int
}

// where builds the WHERE clause for the filter. EventType is ignored when
// the table has no event_type column.
func (f Filter) where(withEventType bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Zone != "" {
		conds = append(conds, "zone_name = ?")
		args = append(args, f.Zone)
	}
	if f.TrackID != nil {
		conds = append(conds, "track_id = ?")
		args = append(args, int64(*f.TrackID))
	}
	if withEventType && f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Start != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Start.UnixMilli())
	}
	if f.End != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.End.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// page appends LIMIT and OFFSET when set.
func (f Filter) page(query string, args []any) (string, []any) {
	if f.Limit <= 0 {
		if f.Offset > 0 {
			return query + " LIMIT -1 OFFSET ?", append(args, f.Offset)
		}
		return query, args
	}
	query += " LIMIT ?"
	args = append(args, f.Limit)
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}
	return query, args
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
