// Package app wires the capture pipeline together: an I/Q source
// (RTL-SDR device, raw file, or a network Beast feed), the demodulator,
// frame parser, message decoder, and tracker, fanning decoded output out
// to a BaseStation log and an optional SQLite store.
//
// Grounded on saviobatista-go1090's internal/app.Application (context/
// cancel lifecycle, waitgroup-tracked goroutines, periodic statistics
// reporting, signal-driven shutdown) with the pipeline body replaced by
// this module's demod/frame/decode/cpr/tracker packages.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"go1090/internal/basestation"
	"go1090/internal/beast"
	"go1090/internal/decode"
	"go1090/internal/demod"
	"go1090/internal/frame"
	"go1090/internal/icaocache"
	"go1090/internal/logging"
	"go1090/internal/rtlsdr"
	"go1090/internal/store"
	"go1090/internal/tracker"
)

// Application is one capture session: a single I/Q source feeding the
// demod/frame/decode/tracker pipeline.
type Application struct {
	config Config
	logger *logrus.Logger

	rtlsdr      *rtlsdr.RTLSDRDevice
	demod       *demod.Demodulator
	cache       *icaocache.Cache
	tracker     *tracker.Tracker
	baseStation *basestation.Writer
	logRotator  *logging.LogRotator
	backend     store.Store

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	verbose bool
}

// NewApplication builds an Application from config. Call Start to run it.
func NewApplication(config Config) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	logger := logrus.New()
	if config.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	staleAfter := config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	minPos := config.MinPositionInterval
	if minPos <= 0 {
		minPos = DefaultMinPositionInterval
	}

	return &Application{
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		verbose: config.Verbose,
		demod:   demod.New(logger),
		cache:   icaocache.New(icaocache.DefaultTTL),
		tracker: tracker.New(minPos, staleAfter),
	}
}

// Start initializes components, begins processing, and blocks until a
// shutdown signal arrives.
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}).Info("Starting ADS-B receiver")

	if err := app.initializeComponents(); err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.run(); err != nil {
		app.logger.WithError(err).Error("Application error")
		return err
	}

	<-sigChan
	app.logger.Info("Received shutdown signal")
	app.shutdown()

	return nil
}

func (app *Application) initializeComponents() error {
	var err error

	if app.config.IQFile == "" {
		app.rtlsdr, err = rtlsdr.NewRTLSDRDevice(app.config.DeviceIndex)
		if err != nil {
			return fmt.Errorf("failed to initialize RTL-SDR: %w", err)
		}
		if err := app.rtlsdr.Configure(app.config.Frequency, app.config.SampleRate, app.config.Gain); err != nil {
			return fmt.Errorf("failed to configure RTL-SDR: %w", err)
		}
	}

	app.logRotator, err = logging.NewLogRotator(app.config.LogDir, app.config.LogRotateUTC, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize log rotator: %w", err)
	}
	app.baseStation = basestation.NewWriter(app.logRotator, app.logger)

	if app.config.DBPath != "" {
		app.backend, err = store.OpenSQLite(app.config.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open capture store: %w", err)
		}
		id, err := app.backend.StartCapture(app.ctx, app.sourceName(), time.Now().UTC())
		if err != nil {
			app.logger.WithError(err).Warn("Failed to record capture session start")
		} else {
			app.tracker.SetCaptureID(id)
		}
	}

	return nil
}

func (app *Application) sourceName() string {
	if app.config.IQFile != "" {
		return app.config.IQFile
	}
	return fmt.Sprintf("rtlsdr:%d", app.config.DeviceIndex)
}

func (app *Application) run() error {
	dataChan := make(chan []byte, 100)

	switch {
	case app.config.IQFile != "":
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.readIQFile(dataChan); err != nil {
				app.logger.WithError(err).Error("I/Q file read failed")
			}
		}()
	default:
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.rtlsdr.StartCapture(app.ctx, dataChan); err != nil {
				app.logger.WithError(err).Error("RTL-SDR capture failed")
			}
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.logRotator.Start(app.ctx)
	}()

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.processIQData(dataChan)
	}()

	if app.config.Beast != "" {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.runBeastFeed(app.config.Beast)
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.reportStatistics()
	}()

	app.logger.Info("All components started successfully")
	return nil
}

// readIQFile streams raw I/Q bytes from a file in fixed-size chunks of
// 256K I/Q pairs, as fast as dataChan accepts them; reads are not paced
// to the sample rate.
func (app *Application) readIQFile(dataChan chan<- []byte) error {
	f, err := os.Open(app.config.IQFile)
	if err != nil {
		return fmt.Errorf("open iq file: %w", err)
	}
	defer f.Close()

	const chunkSamples = 262144 // 256K I/Q pairs per read
	buf := make([]byte, chunkSamples*2)
	r := bufio.NewReaderSize(f, len(buf))

	for {
		select {
		case <-app.ctx.Done():
			return nil
		default:
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case dataChan <- chunk:
			case <-app.ctx.Done():
				return nil
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			app.logger.Info("Reached end of I/Q file")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read iq file: %w", err)
		}
	}
}

func (app *Application) processIQData(dataChan <-chan []byte) {
	stream := demod.NewStream(app.demod, app.config.SampleRate, time.Now().UTC())

	for {
		select {
		case <-app.ctx.Done():
			app.logger.Info("I/Q data processing stopped")
			return
		case data := <-dataChan:
			if data == nil {
				continue
			}
			for _, cand := range stream.Feed(data) {
				app.handleCandidate(cand.Hex, cand.Timestamp, &cand.Signal)
			}
		}
	}
}

// runBeastFeed dials a network Beast-format TCP feed and routes its
// decoded frames through the same frame/decode/tracker pipeline as
// demodulated samples, running alongside (not instead of) the RTL-SDR
// or file source.
func (app *Application) runBeastFeed(addr string) {
	for {
		select {
		case <-app.ctx.Done():
			return
		default:
		}

		conn, err := net.Dial("tcp", addr)
		if err != nil {
			app.logger.WithError(err).WithField("addr", addr).Warn("Beast feed dial failed, retrying")
			select {
			case <-time.After(5 * time.Second):
			case <-app.ctx.Done():
				return
			}
			continue
		}

		app.logger.WithField("addr", addr).Info("Connected to Beast feed")
		app.consumeBeastConn(conn)
		conn.Close()
	}
}

func (app *Application) consumeBeastConn(conn net.Conn) {
	dec := beast.NewDecoder(app.logger)
	buf := make([]byte, 4096)

	for {
		select {
		case <-app.ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			app.logger.WithError(err).Debug("Beast feed read ended")
			return
		}

		msgs, err := dec.Decode(buf[:n])
		if err != nil {
			continue
		}
		for _, msg := range msgs {
			hexStr, ts, ok := msg.HexFrame()
			if !ok {
				continue
			}
			app.handleCandidate(hexStr, ts, nil)
		}
	}
}

func (app *Application) handleCandidate(hexStr string, ts time.Time, signal *float64) {
	fr, err := frame.Parse(hexStr, ts, signal, app.cache)
	if err != nil || fr == nil || !fr.CRCOK {
		return
	}

	msg, ok := decode.Decode(fr)
	if !ok {
		return
	}

	events := app.tracker.Update(fr.Address, msg, ts)

	var resolved *basestation.Position
	for _, ev := range events {
		if pu, ok := ev.(tracker.PositionUpdateEvent); ok {
			resolved = &basestation.Position{Lat: pu.Lat, Lon: pu.Lon}
		}
	}

	if err := app.baseStation.WriteMessage(fr, msg, resolved); err != nil {
		app.logger.WithError(err).Debug("Failed to write BaseStation message")
	}

	if app.backend != nil {
		app.persistEvents(events)
	}
}

func (app *Application) persistEvents(events []tracker.Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case tracker.NewAircraftEvent:
			_ = app.backend.UpsertAircraft(app.ctx, store.Aircraft{
				Address: e.Address, Callsign: e.State.Callsign, Squawk: e.State.Squawk,
				Country: e.State.Country, Military: e.State.Military, NNumber: e.State.NNumber,
				FirstSeen: e.State.FirstSeen, LastSeen: e.State.LastSeen,
			})
		case tracker.AircraftUpdateEvent:
			_ = app.backend.UpsertAircraft(app.ctx, store.Aircraft{
				Address: e.Address, Callsign: e.State.Callsign, Squawk: e.State.Squawk,
				Country: e.State.Country, Military: e.State.Military, NNumber: e.State.NNumber,
				FirstSeen: e.State.FirstSeen, LastSeen: e.State.LastSeen,
			})
		case tracker.SightingUpdateEvent:
			_ = app.backend.UpsertSighting(app.ctx, store.Sighting{
				Address:    e.Address,
				CaptureID:  e.CaptureID,
				Callsign:   e.Callsign,
				Squawk:     e.Squawk,
				AltitudeFt: e.AltitudeFt,
				Time:       e.Time,
			})
		case tracker.PositionUpdateEvent:
			_ = app.backend.AddPosition(app.ctx, store.Position{
				Address: e.Address, Lat: e.Lat, Lon: e.Lon, AltitudeFt: e.AltitudeFt, Time: e.Time,
			})
		}
	}
}

func (app *Application) reportStatistics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			stats := app.tracker.Stats()
			app.logger.WithFields(logrus.Fields{
				"preambles_found":   app.demod.PreambleCount,
				"valid_frames":      app.demod.ValidFrames,
				"rejected":          app.demod.RejectedUncertain,
				"tracked":           stats.Tracked,
				"total_frames":      stats.TotalFrames,
				"position_decodes":  stats.PositionDecodes,
				"positions_skipped": stats.PositionsSkipped,
				"pruned":            stats.TotalPruned,
			}).Info("ADS-B processing statistics")

			if stats.Tracked > 0 {
				pruned := app.tracker.Prune(time.Now().UTC())
				if len(pruned) > 0 {
					app.logger.WithField("count", len(pruned)).Debug("Pruned stale aircraft")
				}
			}
		}
	}
}

func (app *Application) shutdown() {
	app.logger.Info("Shutting down application")
	app.cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.logger.Info("All goroutines finished")
	case <-time.After(5 * time.Second):
		app.logger.Warn("Shutdown timeout, forcing exit")
	}

	if app.rtlsdr != nil {
		app.rtlsdr.Close()
	}
	if app.logRotator != nil {
		app.logRotator.Close()
	}
	if app.backend != nil {
		app.backend.Close()
	}

	app.logger.Info("Shutdown completed")
}
