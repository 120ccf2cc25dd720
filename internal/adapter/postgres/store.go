package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/couchcryptid/needmap-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

//go:embed schema.sql
var schemaSQL string

const (
	insertObservation = `
INSERT INTO observations (observed_at, type, lat, lng, note, count)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

	selectObservations = `
SELECT id, observed_at, type, lat, lng, note, count
FROM observations
WHERE $1::timestamptz IS NULL OR observed_at >= $1
ORDER BY id`
)

// Store is a durable observation store backed by PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	clock     clockwork.Clock
	retention time.Duration
}

// Connect opens a pool, verifies it, and applies the schema.
func Connect(ctx context.Context, dsn string, clock clockwork.Clock, retention time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}

	s := &Store{pool: pool, clock: clock, retention: retention}
	if err := s.CheckReadiness(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// CheckReadiness reports whether the database answers queries.
func (s *Store) CheckReadiness(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, r domain.Report) (domain.Observation, error) {
	// Postgres keeps microseconds; truncate so the returned value matches what List reads back.
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	obs := domain.NewObservation(0, now, r)

	err := s.pool.QueryRow(ctx, insertObservation,
		obs.Timestamp, obs.Type, obs.Coordinates.Lat, obs.Coordinates.Lng, obs.Note, obs.Count,
	).Scan(&obs.ID)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("insert observation: %w", err)
	}
	return obs, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Observation, error) {
	var since *time.Time
	if s.retention > 0 {
		cutoff := s.clock.Now().UTC().Add(-s.retention)
		since = &cutoff
	}

	rows, err := s.pool.Query(ctx, selectObservations, since)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanObservation)
	if err != nil {
		return nil, fmt.Errorf("scan observations: %w", err)
	}
	return out, nil
}

func scanObservation(row pgx.CollectableRow) (domain.Observation, error) {
	var o domain.Observation
	err := row.Scan(&o.ID, &o.Timestamp, &o.Type, &o.Coordinates.Lat, &o.Coordinates.Lng, &o.Note, &o.Count)
	o.Timestamp = o.Timestamp.UTC()
	return o, err
}
