// Package store defines the persistence boundary for tracked aircraft
// state: the Store interface and the record types that cross it. Two
// backends implement it — SQLite for a single-host capture session, and
// PostgreSQL for the multi-receiver ingest service.
//
// Grounded on plane-watch-acars-parser's internal/storage package: the
// same commutative-upsert shape (ON CONFLICT DO UPDATE merging counts and
// coalescing optional fields) applied to this module's aircraft/position/
// event domain instead of ACARS messages.
package store

import (
	"context"
	"time"
)

// Aircraft is the durable record for one tracked address.
type Aircraft struct {
	Address   uint32
	Callsign  string
	Squawk    string
	Country   string
	Military  bool
	NNumber   string
	FirstSeen time.Time
	LastSeen  time.Time
	MsgCount  int64
}

// Position is one resolved, downsampled fix for an address.
type Position struct {
	Address    uint32
	Lat, Lon   float64
	AltitudeFt *int
	Time       time.Time
}

// EventKind enumerates the persistence event variants (spec §3 Persistence events).
type EventKind string

const (
	EventNewAircraft     EventKind = "new_aircraft"
	EventAircraftUpdate  EventKind = "aircraft_update"
	EventSightingUpdate  EventKind = "sighting_update"
	EventPositionUpdate  EventKind = "position_update"
)

// Event is a durable record of one tracker event.
type Event struct {
	Address uint32
	Kind    EventKind
	Time    time.Time
	Detail  string // short human-readable summary (e.g. new callsign, new squawk)
}

// Sighting is one per-capture-session sighting record, keyed by
// (Address, CaptureID). Altitude bounds widen monotonically on conflict
// (lowest AltitudeMin, highest AltitudeMax) rather than overwrite, so
// replays and out-of-order delivery cannot narrow a previously observed
// range (spec §5 ordering guarantees, §6 upsert_sighting).
type Sighting struct {
	Address    uint32
	CaptureID  int64 // 0 when no capture session applies (e.g. ingest feeders)
	Callsign   string
	Squawk     string
	AltitudeFt *int
	Time       time.Time
}

// CaptureSession brackets one run of the pipeline for accounting/vacuum purposes.
type CaptureSession struct {
	ID        int64
	StartedAt time.Time
	EndedAt   *time.Time
	Source    string // e.g. device identifier, file path, or feeder name
}

// Store is the persistence boundary every backend implements. Upserts
// merge rather than overwrite: first_seen is kept, last_seen keeps the
// later timestamp, altitude bounds only widen, and empty text fields leave
// stored values in place, so out-of-order delivery from the ingest service
// never moves last_seen backwards (spec §5 ordering guarantees). msg_count
// increments on every upsert, so a replayed record is counted again.
type Store interface {
	// StartCapture opens a new capture session and returns its ID.
	StartCapture(ctx context.Context, source string, startedAt time.Time) (int64, error)
	// EndCapture closes a capture session.
	EndCapture(ctx context.Context, sessionID int64, endedAt time.Time) error

	// UpsertAircraft merges a into the stored record for its address.
	UpsertAircraft(ctx context.Context, a Aircraft) error
	// UpsertSighting merges s into the per-(address, capture) sighting
	// row: callsign/squawk are overwritten with the latest non-empty value,
	// altitude bounds widen via MIN/MAX, last_seen advances, and
	// msg_count increments.
	UpsertSighting(ctx context.Context, s Sighting) error

	// AddPosition appends one resolved position fix.
	AddPosition(ctx context.Context, p Position) error
	// AddEvent appends one tracker event.
	AddEvent(ctx context.Context, e Event) error

	// PruneAircraft deletes aircraft not seen since before cutoff,
	// returning the number removed.
	PruneAircraft(ctx context.Context, cutoff time.Time) (int64, error)
	// PrunePositions deletes position fixes older than cutoff.
	PrunePositions(ctx context.Context, cutoff time.Time) (int64, error)
	// DownsamplePositions collapses position history older than cutoff
	// down to at most one fix per interval, returning the number removed.
	DownsamplePositions(ctx context.Context, cutoff time.Time, interval time.Duration) (int64, error)

	// Vacuum reclaims storage after a pruning pass.
	Vacuum(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
