package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Statements are ordered so foreign keys always reference existing tables.
// The unique constraints here are what makes concurrent duplicate
// materialization safe; the repositories rely on them rather than locks.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS route_patterns (
		id         text PRIMARY KEY,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stops (
		id         text PRIMARY KEY,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id         text PRIMARY KEY,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS route_pattern_stops (
		route_pattern_id text NOT NULL REFERENCES route_patterns (id),
		stop_id          text NOT NULL REFERENCES stops (id),
		PRIMARY KEY (route_pattern_id, stop_id)
	)`,
	`CREATE TABLE IF NOT EXISTS trip_stops (
		id         uuid PRIMARY KEY,
		trip_id    text NOT NULL REFERENCES trips (id),
		stop_id    text NOT NULL REFERENCES stops (id),
		seen_at    timestamptz NOT NULL,
		doors_open boolean NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trip_stops_trip_id_seen_at_idx
		ON trip_stops (trip_id, seen_at)`,
}

// EnsureSchema creates the recorder's tables if they do not exist, so a
// fresh deployment is runnable without a separate migration step.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
