package ingest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go1090/internal/crc"
	"go1090/internal/store"
)

// withValidPI appends the CRC-24 parity field that makes dataAndZeroPI
// (which must already carry three trailing zero bytes) checksum to zero.
func withValidPI(dataAndZeroPI []byte) []byte {
	n := len(dataAndZeroPI)
	pi := crc.Checksum(dataAndZeroPI)
	out := make([]byte, n)
	copy(out, dataAndZeroPI)
	out[n-3] = byte(pi >> 16)
	out[n-2] = byte(pi >> 8)
	out[n-1] = byte(pi)
	return out
}

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest.db")
	st, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := New(st, Config{MinPositionInterval: time.Second, StaleAfter: time.Minute, OfflineTimeout: time.Minute})
	return svc, st
}

func TestHandleHealth(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleFramesAcceptsValidFrame(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	// DF11 with address 0 and a matching parity field: zero residual, so
	// the CRC is valid with no correction needed. DF11 carries no ME field, so
	// decode.Decode reports no message and no tracker event is emitted,
	// but the frame itself is still accepted and counted as not decoded.
	ts := float64(time.Now().Unix())
	body := FramesRequest{
		Receiver: "feeder-1",
		Frames: []FrameInput{
			{Hex: "58000000E0EF0D", Timestamp: &ts},
		},
	}
	payload, _ := json.Marshal(body)

	resp, err := http.Post(srv.URL+"/api/v1/frames", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /frames: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var fresp FramesResponse
	if err := json.NewDecoder(resp.Body).Decode(&fresp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if fresp.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", fresp.Accepted)
	}
	if fresp.Decoded != 0 {
		t.Errorf("Decoded = %d, want 0 (DF11 carries no ME field)", fresp.Decoded)
	}
}

func TestHandleFramesRejectsUnknownFormat(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	// DF=1, not a downlink format this receiver recognizes.
	ts := float64(time.Now().Unix())
	body := FramesRequest{
		Receiver: "feeder-1",
		Frames: []FrameInput{
			{Hex: "08000000000000", Timestamp: &ts},
		},
	}
	payload, _ := json.Marshal(body)

	resp, err := http.Post(srv.URL+"/api/v1/frames", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /frames: %v", err)
	}
	defer resp.Body.Close()

	var fresp FramesResponse
	if err := json.NewDecoder(resp.Body).Decode(&fresp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if fresp.Accepted != 0 {
		t.Errorf("Accepted = %d, want 0 (unknown downlink format)", fresp.Accepted)
	}
}

func TestHandleFramesRequiresReceiver(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	payload, _ := json.Marshal(FramesRequest{Frames: []FrameInput{{Hex: "58000000000000"}}})
	resp, err := http.Post(srv.URL+"/api/v1/frames", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /frames: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// TestHandleFramesDefaultsFrameTimestamp checks that an omitted per-frame
// timestamp is derived from the batch's own clock rather than the Unix
// epoch (spec §4.7): a DF17 identification frame submitted with no
// timestamp at all should leave the aircraft's LastSeen close to now.
func TestHandleFramesDefaultsFrameTimestamp(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	// DF17 identification squitter, address 0x4840D6, type code 4.
	raw := make([]byte, 14)
	raw[0] = 0x8D
	raw[1], raw[2], raw[3] = 0x48, 0x40, 0xD6
	raw[4] = 0x20 // type code 4 in the ME field's first 5 bits
	raw = withValidPI(raw)

	body := FramesRequest{
		Receiver: "feeder-1",
		Frames: []FrameInput{
			{Hex: strings.ToUpper(hex.EncodeToString(raw))}, // no Timestamp: defaults to server clock
		},
	}
	payload, _ := json.Marshal(body)

	resp, err := http.Post(srv.URL+"/api/v1/frames", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /frames: %v", err)
	}
	defer resp.Body.Close()

	f := svc.getOrCreateFeeder("feeder-1", time.Now())
	state, ok := f.tracker.Get(0x4840D6)
	if !ok {
		t.Fatalf("aircraft 4840D6 not tracked after POST /frames")
	}
	if state.LastSeen.Before(time.Now().Add(-time.Minute)) {
		t.Errorf("LastSeen = %v, want close to now (default timestamp should not be the Unix epoch)", state.LastSeen)
	}
}

func TestHandleFramesReportsNewAircraftEvents(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	// DF17 identification squitter, address 0x4840D6, type code 4.
	raw := make([]byte, 14)
	raw[0] = 0x8D
	raw[1], raw[2], raw[3] = 0x48, 0x40, 0xD6
	raw[4] = 0x20 // type code 4 in the ME field's first 5 bits
	raw = withValidPI(raw)

	ts := float64(time.Now().Unix())
	body := FramesRequest{
		Receiver: "feeder-1",
		Frames:   []FrameInput{{Hex: strings.ToUpper(hex.EncodeToString(raw)), Timestamp: &ts}},
	}
	payload, _ := json.Marshal(body)

	resp, err := http.Post(srv.URL+"/api/v1/frames", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /frames: %v", err)
	}
	defer resp.Body.Close()

	var fresp FramesResponse
	if err := json.NewDecoder(resp.Body).Decode(&fresp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(fresp.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(fresp.Events))
	}
	if fresp.Events[0].Type != "new_aircraft" {
		t.Errorf("Events[0].Type = %q, want new_aircraft", fresp.Events[0].Type)
	}
	if fresp.Events[0].ICAO != "4840D6" {
		t.Errorf("Events[0].ICAO = %q, want 4840D6", fresp.Events[0].ICAO)
	}
}

func TestHandleHeartbeatAndReceivers(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	lat, lon := 52.25, 3.91
	payload, _ := json.Marshal(HeartbeatRequest{Receiver: "feeder-1", Lat: &lat, Lon: &lon})
	resp, err := http.Post(srv.URL+"/api/v1/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /heartbeat: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/receivers")
	if err != nil {
		t.Fatalf("GET /receivers: %v", err)
	}
	defer resp.Body.Close()

	var statuses []ReceiverStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Receiver != "feeder-1" {
		t.Fatalf("statuses = %+v, want one entry for feeder-1", statuses)
	}
	if !statuses[0].Online {
		t.Error("expected a freshly-heartbeat feeder to be reported online")
	}
	if statuses[0].Lat == nil || *statuses[0].Lat != lat {
		t.Errorf("Lat = %v, want %v", statuses[0].Lat, lat)
	}
}

// TestHandleHeartbeatPreservesOmittedFields checks the update-if-present
// pattern: a second heartbeat that omits lat/lon must not clear the
// values recorded by the first.
func TestHandleHeartbeatPreservesOmittedFields(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	lat, lon := 52.25, 3.91
	payload, _ := json.Marshal(HeartbeatRequest{Receiver: "feeder-1", Lat: &lat, Lon: &lon})
	resp, err := http.Post(srv.URL+"/api/v1/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /heartbeat (1): %v", err)
	}
	resp.Body.Close()

	payload, _ = json.Marshal(HeartbeatRequest{Receiver: "feeder-1"})
	resp, err = http.Post(srv.URL+"/api/v1/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /heartbeat (2): %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/receivers")
	if err != nil {
		t.Fatalf("GET /receivers: %v", err)
	}
	defer resp.Body.Close()
	var statuses []ReceiverStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Lat == nil || *statuses[0].Lat != lat {
		t.Fatalf("statuses = %+v, want lat %v preserved", statuses, lat)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	path := t.TempDir() + "/auth.db"
	st, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	svc := New(st, Config{Tokens: []string{"secret"}})
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	payload, _ := json.Marshal(HeartbeatRequest{Receiver: "feeder-1"})
	resp, err := http.Post(srv.URL+"/api/v1/heartbeat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /heartbeat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPruneStaleRemovesAcrossFeeders(t *testing.T) {
	svc, _ := newTestService(t)
	f := svc.getOrCreateFeeder("feeder-1", time.Now())
	f.tracker.Update(0x4840D6, nil, time.Now().Add(-2*time.Minute))

	removed := svc.PruneStale(time.Now())
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
