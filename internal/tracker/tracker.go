// Package tracker maintains per-aircraft state built up from a stream of
// decoded messages: identity, squawk, altitude, velocity, and resolved
// position (via CPR pairing and fallback to a last-known reference).
//
// Grounded on original_source/rust/adsb-core/src/tracker.rs: the same
// event-emitting update() shape, capped position/heading history rings,
// downsampling by a minimum position interval, and time-based pruning of
// stale aircraft — restated as Go structs/events over this module's own
// decode and cpr packages.
package tracker

import (
	"sync"
	"time"

	"go1090/internal/cpr"
	"go1090/internal/decode"
	"go1090/internal/icao"
)

// historyCap bounds the position/heading rings per aircraft (spec: 120).
const historyCap = 120

// cprPairWindow is the max age gap tolerated between an even and odd CPR
// frame for global decode (spec: 10 seconds).
const cprPairWindow = 10 * time.Second

// PositionPoint is one entry in an aircraft's position history.
type PositionPoint struct {
	Lat, Lon   float64
	AltitudeFt *int
	Time       time.Time
}

// HeadingPoint is one entry in an aircraft's heading history.
type HeadingPoint struct {
	HeadingDeg float64
	Time       time.Time
}

type cprSlot struct {
	lat, lon uint32
	t        time.Time
	valid    bool
}

// AircraftState is the current known state of one tracked aircraft.
// Snapshots handed out in events are copies; callers must not mutate the
// slices in place (they are cloned on export).
type AircraftState struct {
	Address  uint32
	Callsign string
	Category uint8
	Squawk   string

	AltitudeFt      *int
	SpeedKts        *float64
	HeadingDeg      *float64
	VerticalRateFpm *int

	Lat, Lon     float64
	HasPosition  bool

	Country  string
	Military bool
	NNumber  string

	FirstSeen time.Time
	LastSeen  time.Time

	PositionHistory []PositionPoint
	HeadingHistory  []HeadingPoint

	lastEmittedPosition time.Time
	evenCPR             cprSlot
	oddCPR              cprSlot
}

func (s *AircraftState) snapshot() AircraftState {
	out := *s
	out.PositionHistory = append([]PositionPoint(nil), s.PositionHistory...)
	out.HeadingHistory = append([]HeadingPoint(nil), s.HeadingHistory...)
	return out
}

func appendCapped[T any](ring []T, v T, cap int) []T {
	ring = append(ring, v)
	if len(ring) > cap {
		ring = ring[len(ring)-cap:]
	}
	return ring
}

// Event is implemented by every tracker event variant.
type Event interface {
	event()
}

// NewAircraftEvent fires the first time an address is observed.
type NewAircraftEvent struct {
	Address uint32
	Country string
	State   AircraftState
}

// AircraftUpdateEvent is emitted on every Update call (the first sighting
// included), whether or not any field changed, carrying the full state.
type AircraftUpdateEvent struct {
	Address uint32
	State   AircraftState
}

// SightingUpdateEvent fires on every processed message, carrying the
// per-capture sighting fields whose altitude bounds the store widens
// monotonically (lowest min, highest max) rather than overwrites.
type SightingUpdateEvent struct {
	Address    uint32
	CaptureID  int64 // 0 when no capture session applies (e.g. ingest feeders)
	Callsign   string
	Squawk     string
	AltitudeFt *int
	Time       time.Time
}

// PositionUpdateEvent fires when a new, downsampled position is resolved.
type PositionUpdateEvent struct {
	Address    uint32
	Lat, Lon   float64
	AltitudeFt *int
	Time       time.Time
}

func (NewAircraftEvent) event()      {}
func (AircraftUpdateEvent) event()   {}
func (SightingUpdateEvent) event()   {}
func (PositionUpdateEvent) event()   {}

// Tracker holds per-aircraft state for one feed.
type Tracker struct {
	mu                  sync.Mutex
	aircraft            map[uint32]*AircraftState
	minPositionInterval time.Duration
	staleAfter          time.Duration
	captureID           int64

	// refLat/refLon is an optional receiver reference position (e.g. from
	// an ingest feeder's heartbeat), used as the middle step of the CPR
	// resolver's fallback chain: global pair, then local-against-reference,
	// then local-against-last-known-position.
	refLat, refLon *float64

	totalFrames      uint64
	validFrames      uint64
	positionDecodes  uint64
	positionsSkipped uint64
	totalPruned      uint64
}

// New builds a Tracker. minPositionInterval downsamples emitted position
// updates (spec §4.6); staleAfter is the pruning age (spec: 60s).
func New(minPositionInterval, staleAfter time.Duration) *Tracker {
	return &Tracker{
		aircraft:            make(map[uint32]*AircraftState),
		minPositionInterval: minPositionInterval,
		staleAfter:          staleAfter,
	}
}

// SetCaptureID attaches the capture session ID new sighting-update events
// should carry (spec §6 upsert_sighting keyed by (address, capture)).
func (t *Tracker) SetCaptureID(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captureID = id
}

// SetReference records a receiver's known position, used by the CPR
// resolver's local-decode fallback before a last-known-position is
// available for an aircraft.
func (t *Tracker) SetReference(lat, lon float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refLat, t.refLon = &lat, &lon
}

// Update applies one decoded message for addr at time now, returning the
// events it produced. Safe for concurrent use.
func (t *Tracker) Update(addr uint32, msg decode.Message, now time.Time) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalFrames++
	t.validFrames++

	state, existed := t.aircraft[addr]
	var events []Event
	if !existed {
		state = &AircraftState{Address: addr, FirstSeen: now}
		if country, ok := icao.LookupCountry(addr); ok {
			state.Country = country
		}
		if nnum, ok := icao.ToNNumber(addr); ok {
			state.NNumber = nnum
		}
		state.Military = icao.IsMilitary(addr, "")
		t.aircraft[addr] = state
	}
	state.LastSeen = now

	t.applyMessage(state, msg, now, &events)

	if !existed {
		events = append([]Event{NewAircraftEvent{Address: addr, Country: state.Country, State: state.snapshot()}}, events...)
	}

	// Always emitted, per sighting-row last_seen/msg_count and aircraft
	// last_seen bookkeeping: neither depends on whether this particular
	// message changed a tracked field.
	events = append(events,
		AircraftUpdateEvent{Address: addr, State: state.snapshot()},
		SightingUpdateEvent{
			Address:    addr,
			CaptureID:  t.captureID,
			Callsign:   state.Callsign,
			Squawk:     state.Squawk,
			AltitudeFt: state.AltitudeFt,
			Time:       now,
		},
	)

	return events
}

func (t *Tracker) applyMessage(state *AircraftState, msg decode.Message, now time.Time, events *[]Event) {
	switch m := msg.(type) {
	case decode.Identification:
		if state.Callsign != m.Callsign || state.Category != m.Category {
			state.Callsign = m.Callsign
			state.Category = m.Category
			if !state.Military {
				state.Military = icao.IsMilitary(state.Address, state.Callsign)
			}
		}
	case decode.Squawk:
		state.Squawk = m.Code
	case decode.Altitude:
		if m.AltitudeFt != nil {
			state.AltitudeFt = m.AltitudeFt
		}
	case decode.Velocity:
		if m.SpeedKts != nil {
			state.SpeedKts = m.SpeedKts
		}
		if m.HeadingDeg != nil {
			state.HeadingDeg = m.HeadingDeg
			state.HeadingHistory = appendCapped(state.HeadingHistory, HeadingPoint{HeadingDeg: *m.HeadingDeg, Time: now}, historyCap)
		}
		if m.VerticalRateFpm != nil {
			state.VerticalRateFpm = m.VerticalRateFpm
		}
	case decode.Position:
		if m.AltitudeFt != nil {
			state.AltitudeFt = m.AltitudeFt
		}
		t.resolvePosition(state, m, now, events)
	}
}

// resolvePosition updates the CPR even/odd slots and attempts a position
// fix: global pair decode first, then local decode against a configured
// receiver reference position, then local decode against the aircraft's
// last known position. A resolved fix is emitted as a PositionUpdateEvent
// and appended to history only if the downsampling interval has elapsed
// since the last emitted fix; otherwise it still updates state.Lat/Lon
// but counts toward positionsSkipped.
func (t *Tracker) resolvePosition(state *AircraftState, m decode.Position, now time.Time, events *[]Event) {
	slot := cprSlot{lat: m.CPRLat, lon: m.CPRLon, t: now, valid: true}
	if m.Odd {
		state.oddCPR = slot
	} else {
		state.evenCPR = slot
	}

	var lat, lon float64
	var ok bool

	if state.evenCPR.valid && state.oddCPR.valid {
		tEven := state.evenCPR.t.Sub(time.Unix(0, 0)).Seconds()
		tOdd := state.oddCPR.t.Sub(time.Unix(0, 0)).Seconds()
		if absDuration(state.evenCPR.t.Sub(state.oddCPR.t)) <= cprPairWindow {
			lat, lon, ok = cpr.Global(state.evenCPR.lat, state.evenCPR.lon, state.oddCPR.lat, state.oddCPR.lon, tEven, tOdd)
		}
	}

	if !ok && t.refLat != nil && t.refLon != nil {
		lat, lon, ok = cpr.Local(m.CPRLat, m.CPRLon, m.Odd, *t.refLat, *t.refLon)
	}

	if !ok && state.HasPosition {
		lat, lon, ok = cpr.Local(m.CPRLat, m.CPRLon, m.Odd, state.Lat, state.Lon)
	}

	if !ok {
		return
	}

	t.positionDecodes++
	state.Lat, state.Lon = lat, lon
	state.HasPosition = true

	if state.lastEmittedPosition.IsZero() || now.Sub(state.lastEmittedPosition) >= t.minPositionInterval {
		state.lastEmittedPosition = now
		state.PositionHistory = appendCapped(state.PositionHistory, PositionPoint{Lat: lat, Lon: lon, AltitudeFt: state.AltitudeFt, Time: now}, historyCap)
		*events = append(*events, PositionUpdateEvent{Address: state.Address, Lat: lat, Lon: lon, AltitudeFt: state.AltitudeFt, Time: now})
		return
	}

	t.positionsSkipped++
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Prune removes aircraft not seen since before now.Add(-staleAfter),
// returning the addresses removed.
func (t *Tracker) Prune(now time.Time) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []uint32
	cutoff := now.Add(-t.staleAfter)
	for addr, state := range t.aircraft {
		if state.LastSeen.Before(cutoff) {
			delete(t.aircraft, addr)
			removed = append(removed, addr)
		}
	}
	t.totalPruned += uint64(len(removed))
	return removed
}

// Get returns a snapshot of the current state for addr, if tracked.
func (t *Tracker) Get(addr uint32) (AircraftState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.aircraft[addr]
	if !ok {
		return AircraftState{}, false
	}
	return state.snapshot(), true
}

// Len returns the number of currently-tracked aircraft.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.aircraft)
}

// Stats reports running counters (spec §4.6). TotalFrames and ValidFrames
// are numerically equal in this port: decode.Decode runs in the caller
// before Update is ever invoked, so every Update call already represents a
// successfully decoded message. Both fields are kept to match the
// original's counter set and because a future caller that feeds undecoded
// frames through Update would make them diverge.
type Stats struct {
	TotalFrames      uint64
	ValidFrames      uint64
	PositionDecodes  uint64
	PositionsSkipped uint64
	TotalPruned      uint64
	Tracked          int
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		TotalFrames:      t.totalFrames,
		ValidFrames:      t.validFrames,
		PositionDecodes:  t.positionDecodes,
		PositionsSkipped: t.positionsSkipped,
		TotalPruned:      t.totalPruned,
		Tracked:          len(t.aircraft),
	}
}
