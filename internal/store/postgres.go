package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection settings for the ingest service's
// shared backend.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// PostgresStore is the multi-receiver Store backend, shared by every
// feeder's tracker.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a pooled connection and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS capture_sessions (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS aircraft (
		address BIGINT PRIMARY KEY,
		callsign TEXT NOT NULL DEFAULT '',
		squawk TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		military BOOLEAN NOT NULL DEFAULT FALSE,
		n_number TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		msg_count BIGINT NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS sightings (
		address BIGINT NOT NULL,
		capture_id BIGINT NOT NULL DEFAULT 0,
		callsign TEXT NOT NULL DEFAULT '',
		squawk TEXT NOT NULL DEFAULT '',
		altitude_min INTEGER,
		altitude_max INTEGER,
		last_seen TIMESTAMPTZ NOT NULL,
		msg_count BIGINT NOT NULL DEFAULT 1,
		PRIMARY KEY (address, capture_id)
	);

	CREATE TABLE IF NOT EXISTS positions (
		id BIGSERIAL PRIMARY KEY,
		address BIGINT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		altitude_ft INTEGER,
		seen_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_address ON positions(address);
	CREATE INDEX IF NOT EXISTS idx_positions_seen_at ON positions(seen_at);

	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		address BIGINT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		seen_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_address ON events(address);
	`
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartCapture(ctx context.Context, source string, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO capture_sessions (source, started_at) VALUES ($1, $2) RETURNING id`, source, startedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("start capture: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) EndCapture(ctx context.Context, sessionID int64, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE capture_sessions SET ended_at = $1 WHERE id = $2`, endedAt, sessionID)
	return err
}

func (s *PostgresStore) UpsertAircraft(ctx context.Context, a Aircraft) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aircraft (address, callsign, squawk, country, military, n_number, first_seen, last_seen, msg_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		ON CONFLICT (address) DO UPDATE SET
			callsign = CASE WHEN EXCLUDED.callsign != '' THEN EXCLUDED.callsign ELSE aircraft.callsign END,
			squawk = CASE WHEN EXCLUDED.squawk != '' THEN EXCLUDED.squawk ELSE aircraft.squawk END,
			country = CASE WHEN EXCLUDED.country != '' THEN EXCLUDED.country ELSE aircraft.country END,
			military = EXCLUDED.military OR aircraft.military,
			n_number = CASE WHEN EXCLUDED.n_number != '' THEN EXCLUDED.n_number ELSE aircraft.n_number END,
			last_seen = GREATEST(aircraft.last_seen, EXCLUDED.last_seen),
			msg_count = aircraft.msg_count + 1
	`, a.Address, a.Callsign, a.Squawk, a.Country, a.Military, a.NNumber, a.FirstSeen, a.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert aircraft: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertSighting(ctx context.Context, sg Sighting) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sightings (address, capture_id, callsign, squawk, altitude_min, altitude_max, last_seen, msg_count)
		VALUES ($1, $2, $3, $4, $5, $5, $6, 1)
		ON CONFLICT (address, capture_id) DO UPDATE SET
			callsign = CASE WHEN EXCLUDED.callsign != '' THEN EXCLUDED.callsign ELSE sightings.callsign END,
			squawk = CASE WHEN EXCLUDED.squawk != '' THEN EXCLUDED.squawk ELSE sightings.squawk END,
			altitude_min = LEAST(COALESCE(sightings.altitude_min, EXCLUDED.altitude_min), COALESCE(EXCLUDED.altitude_min, sightings.altitude_min)),
			altitude_max = GREATEST(COALESCE(sightings.altitude_max, EXCLUDED.altitude_max), COALESCE(EXCLUDED.altitude_max, sightings.altitude_max)),
			last_seen = GREATEST(sightings.last_seen, EXCLUDED.last_seen),
			msg_count = sightings.msg_count + 1
	`, sg.Address, sg.CaptureID, sg.Callsign, sg.Squawk, sg.AltitudeFt, sg.Time)
	if err != nil {
		return fmt.Errorf("upsert sighting: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddPosition(ctx context.Context, p Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (address, lat, lon, altitude_ft, seen_at) VALUES ($1, $2, $3, $4, $5)
	`, p.Address, p.Lat, p.Lon, p.AltitudeFt, p.Time)
	if err != nil {
		return fmt.Errorf("add position: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddEvent(ctx context.Context, e Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (address, kind, detail, seen_at) VALUES ($1, $2, $3, $4)
	`, e.Address, string(e.Kind), e.Detail, e.Time)
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneAircraft(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM aircraft WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune aircraft: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PrunePositions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DownsamplePositions(ctx context.Context, cutoff time.Time, interval time.Duration) (int64, error) {
	seconds := int64(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM positions p
		WHERE p.seen_at < $1
		AND p.id NOT IN (
			SELECT MIN(id) FROM positions
			WHERE seen_at < $1
			GROUP BY address, FLOOR(EXTRACT(EPOCH FROM seen_at) / $2)
		)
	`, cutoff, seconds)
	if err != nil {
		return 0, fmt.Errorf("downsample positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Vacuum(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `VACUUM`)
	if err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
