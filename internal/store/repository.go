package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrCouldNotSaveTripStop wraps any failure to append an observation row.
var ErrCouldNotSaveTripStop = errors.New("could not save trip stop")

// TripStop is one appended observation: a vehicle on a trip seen at a stop,
// with its door state. Rows are facts; they are never updated or deleted,
// and repeated sightings intentionally produce repeated rows so that dwell
// time at a stop can be measured afterwards.
type TripStop struct {
	ID        uuid.UUID
	TripID    string
	StopID    string
	SeenAt    time.Time
	DoorsOpen bool
}

// Repository materializes route patterns, stops, and trips on first sight
// and records trip stop observations.
//
// Materialization is an explicit lookup followed by an idempotent create:
// INSERT ... ON CONFLICT DO NOTHING, so concurrent duplicate attempts for
// the same identity collapse onto the unique constraint instead of racing.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EnsureRoutePattern(ctx context.Context, id string) error {
	return r.ensureRow(ctx, "route_patterns", id)
}

func (r *Repository) EnsureStop(ctx context.Context, id string) error {
	return r.ensureRow(ctx, "stops", id)
}

func (r *Repository) EnsureTrip(ctx context.Context, id string) error {
	return r.ensureRow(ctx, "trips", id)
}

func (r *Repository) ensureRow(ctx context.Context, table, id string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup %s %q: %w", table, id, err)
	}
	if exists {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id,
	)
	if err != nil {
		return fmt.Errorf("create %s %q: %w", table, id, err)
	}
	return nil
}

// AssociateStopWithRoutePattern links a stop to a route pattern unless the
// pair is already linked. Same idempotency discipline as ensureRow.
func (r *Repository) AssociateStopWithRoutePattern(ctx context.Context, stopID, routePatternID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM route_pattern_stops
			WHERE route_pattern_id = $1 AND stop_id = $2
		)`, routePatternID, stopID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup association %q-%q: %w", routePatternID, stopID, err)
	}
	if exists {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO route_pattern_stops (route_pattern_id, stop_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`, routePatternID, stopID,
	)
	if err != nil {
		return fmt.Errorf("associate stop %q with route pattern %q: %w", stopID, routePatternID, err)
	}
	return nil
}

// RecordTripStop unconditionally appends an observation row.
func (r *Repository) RecordTripStop(ctx context.Context, ts TripStop) error {
	if ts.ID == uuid.Nil {
		ts.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trip_stops (id, trip_id, stop_id, seen_at, doors_open)
		 VALUES ($1, $2, $3, $4, $5)`,
		ts.ID, ts.TripID, ts.StopID, ts.SeenAt, ts.DoorsOpen,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCouldNotSaveTripStop, err)
	}
	return nil
}
