package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ayusman/headcount/internal/geom"
	"github.com/ayusman/headcount/internal/zone"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a zone name is already taken.
var ErrConflict = errors.New("already exists")

// Zone is a stored counting area. Coordinates are in the camera's native
// resolution; a polygon has three or more points, a line exactly two.
type Zone struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Kind        zone.Kind   `json:"kind"`
	Coordinates [][]float64 `json:"coordinates"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Points converts the coordinates to float points. Call Validate first.
func (z *Zone) Points() []geom.FPoint {
	pts := make([]geom.FPoint, len(z.Coordinates))
	for i, c := range z.Coordinates {
		if len(c) >= 2 {
			pts[i] = geom.FPoint{X: c[0], Y: c[1]}
		}
	}
	return pts
}

// Validate checks the zone name, kind and coordinate count. Errors wrap
// zone.ErrConfig.
func (z *Zone) Validate() error {
	if z.Name == "" {
		return fmt.Errorf("%w: zone name is required", zone.ErrConfig)
	}

	min, max := 3, math.MaxInt
	switch z.Kind {
	case zone.KindPolygon:
	case zone.KindLine:
		min, max = 2, 2
	default:
		return fmt.Errorf("%w: unknown zone kind %q", zone.ErrConfig, z.Kind)
	}

	if n := len(z.Coordinates); n < min || n > max {
		if z.Kind == zone.KindLine {
			return fmt.Errorf("%w: line needs exactly 2 points, got %d", zone.ErrConfig, n)
		}
		return fmt.Errorf("%w: polygon needs at least 3 points, got %d", zone.ErrConfig, n)
	}
	for i, c := range z.Coordinates {
		if len(c) != 2 {
			return fmt.Errorf("%w: point %d has %d values, want 2", zone.ErrConfig, i, len(c))
		}
		if math.IsNaN(c[0]) || math.IsInf(c[0], 0) || math.IsNaN(c[1]) || math.IsInf(c[1], 0) {
			return fmt.Errorf("%w: point %d is not finite", zone.ErrConfig, i)
		}
	}
	return nil
}

// ZoneRepository provides CRUD operations for zones.
type ZoneRepository struct {
	db *sql.DB
}

// Zones returns a ZoneRepository for this store.
func (s *Store) Zones() *ZoneRepository {
	return &ZoneRepository{db: s.db}
}

const zoneColumns = `id, name, kind, coordinates, description, created_at, updated_at`

// Create inserts a new zone. An empty ID or Kind is filled in, and
// CreatedAt and UpdatedAt are set to the current time.
func (r *ZoneRepository) Create(ctx context.Context, z *Zone) error {
	if z.Kind == "" {
		z.Kind = zone.KindPolygon
	}
	if err := z.Validate(); err != nil {
		return err
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}

	coords, err := json.Marshal(z.Coordinates)
	if err != nil {
		return fmt.Errorf("failed to encode coordinates: %w", err)
	}

	now := time.Now().UTC()
	z.CreatedAt = now
	z.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO zones (`+zoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		z.ID, z.Name, string(z.Kind), string(coords), z.Description, z.CreatedAt, z.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("zone %q: %w", z.Name, ErrConflict)
		}
		return fmt.Errorf("failed to create zone: %w", err)
	}
	return nil
}

// GetByName retrieves a zone by its name.
// Returns ErrNotFound if the zone does not exist.
func (r *ZoneRepository) GetByName(ctx context.Context, name string) (*Zone, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM zones WHERE name = ?`, name)
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get zone: %w", err)
	}
	return z, nil
}

// List retrieves all zones ordered by name.
func (r *ZoneRepository) List(ctx context.Context) ([]*Zone, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var zones []*Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zones: %w", err)
	}
	return zones, nil
}

// Update replaces the kind, coordinates and description of the zone named
// z.Name and refreshes UpdatedAt. Returns ErrNotFound if the zone does not
// exist.
func (r *ZoneRepository) Update(ctx context.Context, z *Zone) error {
	if z.Kind == "" {
		z.Kind = zone.KindPolygon
	}
	if err := z.Validate(); err != nil {
		return err
	}

	coords, err := json.Marshal(z.Coordinates)
	if err != nil {
		return fmt.Errorf("failed to encode coordinates: %w", err)
	}

	z.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE zones SET kind = ?, coordinates = ?, description = ?, updated_at = ? WHERE name = ?`,
		string(z.Kind), string(coords), z.Description, z.UpdatedAt, z.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update zone: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a zone by name. Its events and detections are kept.
// Returns ErrNotFound if the zone does not exist.
func (r *ZoneRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM zones WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete zone: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureDefault creates a polygon zone with the given coordinates unless a
// zone with that name already exists. It reports whether a zone was created.
func (r *ZoneRepository) EnsureDefault(ctx context.Context, name string, coords [][2]float64) (*Zone, bool, error) {
	existing, err := r.GetByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	z := &Zone{
		Name:        name,
		Kind:        zone.KindPolygon,
		Description: "Default counting area",
	}
	for _, c := range coords {
		z.Coordinates = append(z.Coordinates, []float64{c[0], c[1]})
	}

	if err := r.Create(ctx, z); err != nil {
		// Another process may have seeded it first.
		if errors.Is(err, ErrConflict) {
			existing, gerr := r.GetByName(ctx, name)
			return existing, false, gerr
		}
		return nil, false, err
	}
	return z, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanZone(row rowScanner) (*Zone, error) {
	var (
		z      Zone
		kind   string
		coords string
	)
	if err := row.Scan(&z.ID, &z.Name, &kind, &coords, &z.Description, &z.CreatedAt, &z.UpdatedAt); err != nil {
		return nil, err
	}
	z.Kind = zone.Kind(kind)
	if err := json.Unmarshal([]byte(coords), &z.Coordinates); err != nil {
		return nil, fmt.Errorf("zone %q has malformed coordinates: %w", z.Name, err)
	}
	return &z, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
