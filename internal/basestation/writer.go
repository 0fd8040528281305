// Package basestation renders tracker output as BaseStation (SBS-1) CSV
// lines, the format consumed by Virtual Radar Server and most other
// ADS-B ground-station tools.
//
// Grounded on saviobatista-go1090's internal/basestation.Writer (message
// type/transmission type constants, CSV field layout, log-rotator backed
// output) but fed from this module's own decode.Message/frame.Frame
// types instead of re-deriving fields from raw Beast bytes.
package basestation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go1090/internal/decode"
	"go1090/internal/frame"
	"go1090/internal/logging"
)

// BaseStation message types.
const (
	SEL = "SEL"
	ID  = "ID"
	AIR = "AIR"
	STA = "STA"
	CLK = "CLK"
	MSG = "MSG"
)

// BaseStation transmission types.
const (
	TransmissionESIDCat       = 1
	TransmissionESSurface     = 2
	TransmissionESAirborne    = 3
	TransmissionESVelocity    = 4
	TransmissionSurveillance  = 5
	TransmissionSurveillanceID = 6
	TransmissionAirToAir      = 7
	TransmissionAllCall       = 8
)

// Message is one BaseStation-format record.
type Message struct {
	MessageType      string
	TransmissionType int
	SessionID        int
	AircraftID       int
	HexIdent         string
	FlightID         int
	DateGenerated    time.Time
	TimeGenerated    time.Time
	DateLogged       time.Time
	TimeLogged       time.Time
	Callsign         string
	Altitude         string
	GroundSpeed      string
	Track            string
	Latitude         string
	Longitude        string
	VerticalRate     string
	Squawk           string
	Alert            string
	Emergency        string
	SPI              string
	IsOnGround       string
}

// Writer renders decoded frames to a rotating BaseStation log.
type Writer struct {
	logRotator *logging.LogRotator
	logger     *logrus.Logger
	sessionID  int
	aircraftID int
}

// NewWriter builds a Writer over an already-open log rotator.
func NewWriter(logRotator *logging.LogRotator, logger *logrus.Logger) *Writer {
	return &Writer{
		logRotator: logRotator,
		logger:     logger,
		sessionID:  1,
		aircraftID: 1,
	}
}

// Position is a resolved fix to attach to a position message; nil when
// none is available yet (e.g. the CPR pair hasn't completed).
type Position struct {
	Lat, Lon float64
}

// WriteMessage renders one decoded message from frame fr, with an
// optional resolved position (only meaningful for decode.Position
// messages) supplied by the caller's Tracker.
func (w *Writer) WriteMessage(fr *frame.Frame, msg decode.Message, pos *Position) error {
	baseMsg := w.convertMessage(fr, msg, pos)
	if baseMsg == nil {
		return nil
	}

	csvLine := w.formatCSV(baseMsg)

	writer, err := w.logRotator.GetWriter()
	if err != nil {
		return fmt.Errorf("failed to get log writer: %w", err)
	}

	if _, err := writer.Write([]byte(csvLine + "\n")); err != nil {
		return fmt.Errorf("failed to write to log: %w", err)
	}

	return nil
}

func (w *Writer) convertMessage(fr *frame.Frame, msg decode.Message, pos *Position) *Message {
	now := time.Now().UTC()

	baseMsg := &Message{
		MessageType:   MSG,
		SessionID:     w.sessionID,
		AircraftID:    w.aircraftID,
		FlightID:      w.aircraftID,
		HexIdent:      fmt.Sprintf("%06X", fr.Address),
		DateGenerated: fr.Timestamp,
		TimeGenerated: fr.Timestamp,
		DateLogged:    now,
		TimeLogged:    now,
	}

	switch m := msg.(type) {
	case decode.Identification:
		baseMsg.TransmissionType = TransmissionESIDCat
		baseMsg.Callsign = m.Callsign

	case decode.Position:
		if m.Surface {
			baseMsg.TransmissionType = TransmissionESSurface
			baseMsg.IsOnGround = "1"
		} else {
			baseMsg.TransmissionType = TransmissionESAirborne
		}
		if m.AltitudeFt != nil {
			baseMsg.Altitude = strconv.Itoa(*m.AltitudeFt)
		}
		if pos != nil {
			baseMsg.Latitude = fmt.Sprintf("%.6f", pos.Lat)
			baseMsg.Longitude = fmt.Sprintf("%.6f", pos.Lon)
		}

	case decode.Velocity:
		baseMsg.TransmissionType = TransmissionESVelocity
		if m.SpeedKts != nil {
			baseMsg.GroundSpeed = fmt.Sprintf("%.0f", *m.SpeedKts)
		}
		if m.HeadingDeg != nil {
			baseMsg.Track = fmt.Sprintf("%.1f", *m.HeadingDeg)
		}
		if m.VerticalRateFpm != nil {
			baseMsg.VerticalRate = strconv.Itoa(*m.VerticalRateFpm)
		}

	case decode.Altitude:
		baseMsg.TransmissionType = TransmissionSurveillance
		if m.AltitudeFt != nil {
			baseMsg.Altitude = strconv.Itoa(*m.AltitudeFt)
		}

	case decode.Squawk:
		baseMsg.TransmissionType = TransmissionSurveillanceID
		baseMsg.Squawk = m.Code
		switch m.Code {
		case "7500", "7600", "7700":
			baseMsg.Emergency = "1"
		}

	default:
		if fr.DF == 11 {
			baseMsg.TransmissionType = TransmissionAllCall
			return baseMsg
		}
		return nil
	}

	return baseMsg
}

func (w *Writer) formatCSV(msg *Message) string {
	fields := []string{
		msg.MessageType,
		strconv.Itoa(msg.TransmissionType),
		strconv.Itoa(msg.SessionID),
		strconv.Itoa(msg.AircraftID),
		msg.HexIdent,
		strconv.Itoa(msg.FlightID),
		msg.DateGenerated.Format("2006/01/02"),
		msg.TimeGenerated.Format("15:04:05.000"),
		msg.DateLogged.Format("2006/01/02"),
		msg.TimeLogged.Format("15:04:05.000"),
		msg.Callsign,
		msg.Altitude,
		msg.GroundSpeed,
		msg.Track,
		msg.Latitude,
		msg.Longitude,
		msg.VerticalRate,
		msg.Squawk,
		msg.Alert,
		msg.Emergency,
		msg.SPI,
		msg.IsOnGround,
	}

	return strings.Join(fields, ",")
}
