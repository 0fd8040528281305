package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartAndEndCapture(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC()

	id, err := s.StartCapture(ctx, "test-source", start)
	if err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero session ID")
	}
	if err := s.EndCapture(ctx, id, start.Add(time.Minute)); err != nil {
		t.Fatalf("EndCapture: %v", err)
	}
}

func TestUpsertAircraftMergesFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.UpsertAircraft(ctx, Aircraft{
		Address: 0x4840D6, Callsign: "KLM1023", FirstSeen: now, LastSeen: now,
	})
	if err != nil {
		t.Fatalf("UpsertAircraft (insert): %v", err)
	}

	later := now.Add(time.Second)
	err = s.UpsertAircraft(ctx, Aircraft{
		Address: 0x4840D6, Squawk: "7700", FirstSeen: now, LastSeen: later,
	})
	if err != nil {
		t.Fatalf("UpsertAircraft (merge): %v", err)
	}

	var callsign, squawk string
	var msgCount int64
	row := s.db.QueryRowContext(ctx, `SELECT callsign, squawk, msg_count FROM aircraft WHERE address = ?`, int64(0x4840D6))
	if err := row.Scan(&callsign, &squawk, &msgCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if callsign != "KLM1023" {
		t.Errorf("callsign = %q, want KLM1023 (preserved across the second upsert)", callsign)
	}
	if squawk != "7700" {
		t.Errorf("squawk = %q, want 7700", squawk)
	}
	if msgCount != 2 {
		t.Errorf("msg_count = %d, want 2", msgCount)
	}
}

func TestUpsertSightingIncrementsMsgCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpsertSighting(ctx, Sighting{Address: 0x4840D6, Callsign: "KLM1023", Time: now}); err != nil {
		t.Fatalf("UpsertSighting: %v", err)
	}
	if err := s.UpsertSighting(ctx, Sighting{Address: 0x4840D6, Squawk: "7700", Time: now.Add(time.Second)}); err != nil {
		t.Fatalf("UpsertSighting: %v", err)
	}

	var callsign, squawk string
	var msgCount int64
	row := s.db.QueryRowContext(ctx, `SELECT callsign, squawk, msg_count FROM sightings WHERE address = ? AND capture_id = 0`, int64(0x4840D6))
	if err := row.Scan(&callsign, &squawk, &msgCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if callsign != "KLM1023" {
		t.Errorf("callsign = %q, want KLM1023 (preserved across the second upsert)", callsign)
	}
	if squawk != "7700" {
		t.Errorf("squawk = %q, want 7700", squawk)
	}
	if msgCount != 2 {
		t.Errorf("msg_count = %d, want 2", msgCount)
	}
}

// TestUpsertSightingWidensAltitudeBounds checks altitude_min/altitude_max
// widen monotonically rather than overwrite, so an out-of-order replay
// cannot narrow a previously observed range (spec §5, §6).
func TestUpsertSightingWidensAltitudeBounds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	high, mid, low := 38000, 35000, 32000
	if err := s.UpsertSighting(ctx, Sighting{Address: 0x4840D6, AltitudeFt: &mid, Time: now}); err != nil {
		t.Fatalf("UpsertSighting (mid): %v", err)
	}
	if err := s.UpsertSighting(ctx, Sighting{Address: 0x4840D6, AltitudeFt: &high, Time: now.Add(time.Second)}); err != nil {
		t.Fatalf("UpsertSighting (high): %v", err)
	}
	if err := s.UpsertSighting(ctx, Sighting{Address: 0x4840D6, AltitudeFt: &low, Time: now.Add(2 * time.Second)}); err != nil {
		t.Fatalf("UpsertSighting (low): %v", err)
	}

	var min, max int
	row := s.db.QueryRowContext(ctx, `SELECT altitude_min, altitude_max FROM sightings WHERE address = ? AND capture_id = 0`, int64(0x4840D6))
	if err := row.Scan(&min, &max); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if min != low {
		t.Errorf("altitude_min = %d, want %d", min, low)
	}
	if max != high {
		t.Errorf("altitude_max = %d, want %d", max, high)
	}
}

func TestAddPositionAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	alt := 35000

	if err := s.AddPosition(ctx, Position{Address: 0x4840D6, Lat: 52.25, Lon: 3.91, AltitudeFt: &alt, Time: old}); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	removed, err := s.PrunePositions(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("PrunePositions: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestPruneAircraft(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	if err := s.UpsertAircraft(ctx, Aircraft{Address: 0x4840D6, FirstSeen: old, LastSeen: old}); err != nil {
		t.Fatalf("UpsertAircraft: %v", err)
	}

	removed, err := s.PruneAircraft(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("PruneAircraft: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestAddEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.AddEvent(ctx, Event{Address: 0x4840D6, Kind: EventNewAircraft, Time: time.Now().UTC(), Detail: "first contact"})
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
}

func TestVacuum(t *testing.T) {
	s := openTestStore(t)
	if err := s.Vacuum(context.Background()); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}
