package app

import "time"

// Default configuration constants.
const (
	DefaultFrequency           = 1090000000 // 1090 MHz
	DefaultSampleRate          = 2000000    // 2 MHz, per the PPM demodulator's design sample rate
	DefaultGain                = 40         // Manual gain
	DefaultStaleAfter          = 60 * time.Second
	DefaultMinPositionInterval = 1 * time.Second
)

// Config holds application configuration.
type Config struct {
	Frequency   uint32
	SampleRate  uint32
	Gain        int
	DeviceIndex int

	IQFile string // read raw I/Q from a file instead of an RTL-SDR device
	Beast  string // optional "host:port" Beast-format TCP feed to ingest alongside demodulation

	LogDir       string
	LogRotateUTC bool

	DBPath string // SQLite path for this capture session's Store; empty disables persistence

	StaleAfter          time.Duration
	MinPositionInterval time.Duration

	Verbose     bool
	ShowVersion bool
}
