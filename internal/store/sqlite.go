package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store backend for standalone capture runs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a SQLite database at path and
// ensures its schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through one connection

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS capture_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE TABLE IF NOT EXISTS aircraft (
		address INTEGER PRIMARY KEY,
		callsign TEXT NOT NULL DEFAULT '',
		squawk TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		military INTEGER NOT NULL DEFAULT 0,
		n_number TEXT NOT NULL DEFAULT '',
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		msg_count INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS sightings (
		address INTEGER NOT NULL,
		capture_id INTEGER NOT NULL DEFAULT 0,
		callsign TEXT NOT NULL DEFAULT '',
		squawk TEXT NOT NULL DEFAULT '',
		altitude_min INTEGER,
		altitude_max INTEGER,
		last_seen TEXT NOT NULL,
		msg_count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (address, capture_id)
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address INTEGER NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		altitude_ft INTEGER,
		seen_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_address ON positions(address);
	CREATE INDEX IF NOT EXISTS idx_positions_seen_at ON positions(seen_at);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address INTEGER NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		seen_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_address ON events(address);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *SQLiteStore) StartCapture(ctx context.Context, source string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO capture_sessions (source, started_at) VALUES (?, ?)`, source, rfc3339(startedAt))
	if err != nil {
		return 0, fmt.Errorf("start capture: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) EndCapture(ctx context.Context, sessionID int64, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE capture_sessions SET ended_at = ? WHERE id = ?`, rfc3339(endedAt), sessionID)
	return err
}

func (s *SQLiteStore) UpsertAircraft(ctx context.Context, a Aircraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aircraft (address, callsign, squawk, country, military, n_number, first_seen, last_seen, msg_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(address) DO UPDATE SET
			callsign = CASE WHEN excluded.callsign != '' THEN excluded.callsign ELSE aircraft.callsign END,
			squawk = CASE WHEN excluded.squawk != '' THEN excluded.squawk ELSE aircraft.squawk END,
			country = CASE WHEN excluded.country != '' THEN excluded.country ELSE aircraft.country END,
			military = excluded.military OR aircraft.military,
			n_number = CASE WHEN excluded.n_number != '' THEN excluded.n_number ELSE aircraft.n_number END,
			last_seen = MAX(aircraft.last_seen, excluded.last_seen),
			msg_count = aircraft.msg_count + 1
	`, a.Address, a.Callsign, a.Squawk, a.Country, a.Military, a.NNumber, rfc3339(a.FirstSeen), rfc3339(a.LastSeen))
	if err != nil {
		return fmt.Errorf("upsert aircraft: %w", err)
	}
	return nil
}

// UpsertSighting widens the sighting row's altitude bounds (lowest min,
// highest max) rather than overwriting them, so replays and out-of-order
// delivery can only ever extend the observed range, never narrow it.
func (s *SQLiteStore) UpsertSighting(ctx context.Context, sg Sighting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sightings (address, capture_id, callsign, squawk, altitude_min, altitude_max, last_seen, msg_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(address, capture_id) DO UPDATE SET
			callsign = CASE WHEN excluded.callsign != '' THEN excluded.callsign ELSE sightings.callsign END,
			squawk = CASE WHEN excluded.squawk != '' THEN excluded.squawk ELSE sightings.squawk END,
			altitude_min = MIN(COALESCE(sightings.altitude_min, excluded.altitude_min), COALESCE(excluded.altitude_min, sightings.altitude_min)),
			altitude_max = MAX(COALESCE(sightings.altitude_max, excluded.altitude_max), COALESCE(excluded.altitude_max, sightings.altitude_max)),
			last_seen = MAX(sightings.last_seen, excluded.last_seen),
			msg_count = sightings.msg_count + 1
	`, sg.Address, sg.CaptureID, sg.Callsign, sg.Squawk, sg.AltitudeFt, sg.AltitudeFt, rfc3339(sg.Time))
	if err != nil {
		return fmt.Errorf("upsert sighting: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddPosition(ctx context.Context, p Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (address, lat, lon, altitude_ft, seen_at) VALUES (?, ?, ?, ?, ?)
	`, p.Address, p.Lat, p.Lon, p.AltitudeFt, rfc3339(p.Time))
	if err != nil {
		return fmt.Errorf("add position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (address, kind, detail, seen_at) VALUES (?, ?, ?, ?)
	`, e.Address, string(e.Kind), e.Detail, rfc3339(e.Time))
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneAircraft(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM aircraft WHERE last_seen < ?`, rfc3339(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune aircraft: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) PrunePositions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE seen_at < ?`, rfc3339(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune positions: %w", err)
	}
	return res.RowsAffected()
}

// DownsamplePositions keeps, per address, at most one row per interval
// bucket among rows older than cutoff, deleting the rest.
func (s *SQLiteStore) DownsamplePositions(ctx context.Context, cutoff time.Time, interval time.Duration) (int64, error) {
	seconds := int64(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM positions
		WHERE seen_at < ?
		AND id NOT IN (
			SELECT MIN(id) FROM positions
			WHERE seen_at < ?
			GROUP BY address, CAST(strftime('%s', seen_at) AS INTEGER) / ?
		)
	`, rfc3339(cutoff), rfc3339(cutoff), seconds)
	if err != nil {
		return 0, fmt.Errorf("downsample positions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	if err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
