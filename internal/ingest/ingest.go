// Package ingest is the multi-receiver ADS-B ingest service: each feeder
// gets its own isolated Tracker and address cache, frames arrive over
// HTTP, and tracker events are persisted to a shared Store.
//
// Grounded on original_source/rust/adsb-server/src/web/ingest.rs for the
// per-feeder isolation and heartbeat/offline-timeout model, and on
// plane-watch-acars-parser's internal/api/enrichment.go for the chi
// router/middleware shape and Bearer-auth pattern.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"go1090/internal/decode"
	"go1090/internal/frame"
	"go1090/internal/icaocache"
	"go1090/internal/store"
	"go1090/internal/tracker"
)

// OfflineTimeout is how long a receiver may go without a heartbeat or
// frame submission before it is reported offline (spec §4.7: 120s).
const OfflineTimeout = 120 * time.Second

// feeder is one receiver's isolated pipeline state.
type feeder struct {
	mu            sync.Mutex
	id            string
	tracker       *tracker.Tracker
	cache         *icaocache.Cache
	lastHeartbeat time.Time

	lat, lon       *float64
	framesCaptured *int64
	framesSent     *int64
	uptimeSec      *float64
}

// Service is the HTTP ingest server shared by all feeders.
type Service struct {
	mu      sync.Mutex
	feeders map[string]*feeder
	store   store.Store
	tokens  map[string]bool
	log     *logrus.Entry

	minPositionInterval time.Duration
	staleAfter          time.Duration
	offlineTimeout      time.Duration
}

// Config configures a Service.
type Config struct {
	Tokens              []string // accepted Bearer tokens; empty disables auth
	MinPositionInterval time.Duration
	StaleAfter          time.Duration
	OfflineTimeout      time.Duration
	Logger              *logrus.Logger
}

// New builds an ingest Service backed by st.
func New(st store.Store, cfg Config) *Service {
	tokens := make(map[string]bool, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if t != "" {
			tokens[t] = true
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	offline := cfg.OfflineTimeout
	if offline <= 0 {
		offline = OfflineTimeout
	}
	return &Service{
		feeders:             make(map[string]*feeder),
		store:               st,
		tokens:              tokens,
		log:                 logger.WithField("component", "ingest"),
		minPositionInterval: cfg.MinPositionInterval,
		staleAfter:          cfg.StaleAfter,
		offlineTimeout:      offline,
	}
}

// Router builds the chi.Router serving this Service's API.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if len(s.tokens) > 0 {
				r.Use(s.authMiddleware)
			}
			r.Post("/frames", s.handleFrames)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Get("/receivers", s.handleReceivers)
		})
	})

	return r
}

func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || !s.tokens[token] {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) getOrCreateFeeder(id string, now time.Time) *feeder {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeders[id]
	if !ok {
		f = &feeder{
			id:            id,
			tracker:       tracker.New(s.minPositionInterval, s.staleAfter),
			cache:         icaocache.New(icaocache.DefaultTTL),
			lastHeartbeat: now,
		}
		s.feeders[id] = f
		s.log.WithField("receiver_id", id).Info("receiver connected")
	}
	return f
}

// FrameInput is one hex frame submitted by a feeder. An omitted Timestamp
// defaults to the batch's base timestamp plus 1ms per frame index (spec
// §4.7), so a feeder that only timestamps the batch as a whole still gets
// a monotonic per-frame ordering.
type FrameInput struct {
	Hex         string   `json:"hex"`
	Timestamp   *float64 `json:"timestamp,omitempty"` // unix seconds
	SignalLevel *float64 `json:"signal_level,omitempty"`
}

// FramesRequest is the body of POST /api/v1/frames. Lat/Lon, when present,
// update the feeder's receiver reference position used by the CPR
// resolver's local-decode fallback.
type FramesRequest struct {
	Receiver  string       `json:"receiver"`
	Lat       *float64     `json:"lat,omitempty"`
	Lon       *float64     `json:"lon,omitempty"`
	Timestamp *float64     `json:"timestamp,omitempty"`
	Frames    []FrameInput `json:"frames"`
}

// AircraftEvent is a new-aircraft announcement surfaced in a
// FramesResponse (spec §4.7: the events array carries only these).
type AircraftEvent struct {
	Type      string    `json:"type"`
	ICAO      string    `json:"icao"`
	Timestamp time.Time `json:"timestamp"`
}

// FramesResponse summarizes what happened to a batch of submitted frames.
type FramesResponse struct {
	Accepted  int             `json:"accepted"`
	Decoded   int             `json:"decoded"`
	Positions int             `json:"positions"`
	Events    []AircraftEvent `json:"events"`
}

func (s *Service) handleFrames(w http.ResponseWriter, r *http.Request) {
	var req FramesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Receiver == "" {
		writeError(w, http.StatusBadRequest, "receiver is required")
		return
	}

	now := time.Now().UTC()
	f := s.getOrCreateFeeder(req.Receiver, now)

	baseTS := now
	if req.Timestamp != nil {
		baseTS = unixSeconds(*req.Timestamp)
	}
	if req.Lat != nil && req.Lon != nil {
		f.tracker.SetReference(*req.Lat, *req.Lon)
		f.mu.Lock()
		f.lat, f.lon = req.Lat, req.Lon
		f.mu.Unlock()
	}

	resp := FramesResponse{Events: []AircraftEvent{}}
	var events []tracker.Event

	f.mu.Lock()
	f.lastHeartbeat = now
	for i, fi := range req.Frames {
		ts := baseTS.Add(time.Duration(i) * time.Millisecond)
		if fi.Timestamp != nil {
			ts = unixSeconds(*fi.Timestamp)
		}
		fr, err := frame.Parse(fi.Hex, ts, fi.SignalLevel, f.cache)
		if err != nil || fr == nil || !fr.CRCOK {
			continue
		}
		resp.Accepted++
		msg, ok := decode.Decode(fr)
		if !ok {
			continue
		}
		resp.Decoded++
		evs := f.tracker.Update(fr.Address, msg, ts)
		events = append(events, evs...)
	}
	f.mu.Unlock()

	for _, ev := range events {
		switch e := ev.(type) {
		case tracker.NewAircraftEvent:
			resp.Events = append(resp.Events, AircraftEvent{
				Type:      "new_aircraft",
				ICAO:      addressHex(e.Address),
				Timestamp: e.State.FirstSeen,
			})
		case tracker.PositionUpdateEvent:
			resp.Positions++
		}
	}

	s.persistEvents(r.Context(), events)

	writeJSON(w, http.StatusOK, resp)
}

// unixSeconds converts a fractional unix-seconds timestamp, as sent by
// feeders, to a time.Time.
func unixSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}

func addressHex(addr uint32) string {
	return fmt.Sprintf("%06X", addr)
}

// persistEvents writes tracker events to the store after the feeder lock
// has been released, so a slow backend never holds up the next batch of
// frames for this (or any other) feeder.
func (s *Service) persistEvents(ctx context.Context, events []tracker.Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case tracker.NewAircraftEvent:
			_ = s.store.UpsertAircraft(ctx, store.Aircraft{
				Address:   e.Address,
				Callsign:  e.State.Callsign,
				Squawk:    e.State.Squawk,
				Country:   e.State.Country,
				Military:  e.State.Military,
				NNumber:   e.State.NNumber,
				FirstSeen: e.State.FirstSeen,
				LastSeen:  e.State.LastSeen,
			})
			_ = s.store.AddEvent(ctx, store.Event{Address: e.Address, Kind: store.EventNewAircraft, Time: e.State.LastSeen})
		case tracker.AircraftUpdateEvent:
			_ = s.store.UpsertAircraft(ctx, store.Aircraft{
				Address:   e.Address,
				Callsign:  e.State.Callsign,
				Squawk:    e.State.Squawk,
				Country:   e.State.Country,
				Military:  e.State.Military,
				NNumber:   e.State.NNumber,
				FirstSeen: e.State.FirstSeen,
				LastSeen:  e.State.LastSeen,
			})
			_ = s.store.AddEvent(ctx, store.Event{Address: e.Address, Kind: store.EventAircraftUpdate, Time: e.State.LastSeen})
		case tracker.SightingUpdateEvent:
			_ = s.store.UpsertSighting(ctx, store.Sighting{
				Address:    e.Address,
				CaptureID:  e.CaptureID,
				Callsign:   e.Callsign,
				Squawk:     e.Squawk,
				AltitudeFt: e.AltitudeFt,
				Time:       e.Time,
			})
		case tracker.PositionUpdateEvent:
			_ = s.store.AddPosition(ctx, store.Position{
				Address: e.Address, Lat: e.Lat, Lon: e.Lon, AltitudeFt: e.AltitudeFt, Time: e.Time,
			})
			_ = s.store.AddEvent(ctx, store.Event{Address: e.Address, Kind: store.EventPositionUpdate, Time: e.Time})
		}
	}
}

// HeartbeatRequest is the body of POST /api/v1/heartbeat. Every field
// besides Receiver is optional; an absent field leaves the feeder's
// previously recorded value untouched rather than clearing it.
type HeartbeatRequest struct {
	Receiver       string   `json:"receiver"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	FramesCaptured *int64   `json:"frames_captured,omitempty"`
	FramesSent     *int64   `json:"frames_sent,omitempty"`
	UptimeSec      *float64 `json:"uptime_sec,omitempty"`
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Receiver == "" {
		writeError(w, http.StatusBadRequest, "receiver is required")
		return
	}

	now := time.Now().UTC()
	f := s.getOrCreateFeeder(req.Receiver, now)
	f.mu.Lock()
	f.lastHeartbeat = now
	if req.Lat != nil {
		f.lat = req.Lat
	}
	if req.Lon != nil {
		f.lon = req.Lon
	}
	if req.Lat != nil && req.Lon != nil {
		f.tracker.SetReference(*req.Lat, *req.Lon)
	}
	if req.FramesCaptured != nil {
		f.framesCaptured = req.FramesCaptured
	}
	if req.FramesSent != nil {
		f.framesSent = req.FramesSent
	}
	if req.UptimeSec != nil {
		f.uptimeSec = req.UptimeSec
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReceiverStatus describes one feeder for the /receivers listing.
type ReceiverStatus struct {
	Receiver       string    `json:"receiver"`
	Online         bool      `json:"online"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	TrackedCount   int       `json:"tracked_count"`
	Lat            *float64  `json:"lat,omitempty"`
	Lon            *float64  `json:"lon,omitempty"`
	FramesCaptured *int64    `json:"frames_captured,omitempty"`
	FramesSent     *int64    `json:"frames_sent,omitempty"`
	UptimeSec      *float64  `json:"uptime_sec,omitempty"`
}

func (s *Service) handleReceivers(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	s.mu.Lock()
	statuses := make([]ReceiverStatus, 0, len(s.feeders))
	for _, f := range s.feeders {
		f.mu.Lock()
		statuses = append(statuses, ReceiverStatus{
			Receiver:       f.id,
			Online:         now.Sub(f.lastHeartbeat) < s.offlineTimeout,
			LastHeartbeat:  f.lastHeartbeat,
			TrackedCount:   f.tracker.Len(),
			Lat:            f.lat,
			Lon:            f.lon,
			FramesCaptured: f.framesCaptured,
			FramesSent:     f.framesSent,
			UptimeSec:      f.uptimeSec,
		})
		f.mu.Unlock()
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, statuses)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// PruneStale runs staleness pruning across every feeder's tracker, and
// returns the total number of aircraft removed.
func (s *Service) PruneStale(now time.Time) int {
	s.mu.Lock()
	fs := make([]*feeder, 0, len(s.feeders))
	for _, f := range s.feeders {
		fs = append(fs, f)
	}
	s.mu.Unlock()

	total := 0
	for _, f := range fs {
		removed := f.tracker.Prune(now)
		total += len(removed)
	}
	return total
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
