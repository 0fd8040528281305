// Package adsb holds protocol-level constants shared across the decode pipeline.
package adsb

// Callsign alphabet used by DF17/18 identification messages: each character
// is a 6-bit index into this string. Invalid indices are unreachable (6 bits
// span exactly len(Charset)) but out-of-range runs render as space.
const Charset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// CPR encoding constants.
const (
	CPRLatBits = 17
	CPRLonBits = 17
	CPRMax     = 1 << CPRLatBits // 131072
)

// Squawk identity-field bit layout (13-bit field). The pulse positions are
// interleaved C1 A1 C2 A2 C4 A4 _ B1 D1 B2 D2 B4 D4, bit12 down to bit0 (bit6
// is the spare/SPI position and carries no identity data).
const (
	SquawkC1Shift = 12
	SquawkA1Shift = 11
	SquawkC2Shift = 10
	SquawkA2Shift = 9
	SquawkC4Shift = 8
	SquawkA4Shift = 7
	SquawkB1Shift = 5
	SquawkD1Shift = 4
	SquawkB2Shift = 3
	SquawkD2Shift = 2
	SquawkB4Shift = 1
	SquawkD4Shift = 0
)

// Emergency squawk codes.
const (
	SquawkHijack       = "7500"
	SquawkRadioFailure = "7600"
	SquawkEmergency    = "7700"
)

// Downlink formats.
const (
	DF0  = 0
	DF4  = 4
	DF5  = 5
	DF11 = 11
	DF16 = 16
	DF17 = 17
	DF18 = 18
	DF20 = 20
	DF21 = 21
)

// LongFormat reports whether a downlink format is carried in a 112-bit frame.
func LongFormat(df uint8) bool {
	switch df {
	case DF16, DF17, DF18, DF20, DF21:
		return true
	default:
		return false
	}
}

// ShortFormat reports whether a downlink format is carried in a 56-bit frame.
func ShortFormat(df uint8) bool {
	switch df {
	case DF0, DF4, DF5, DF11:
		return true
	default:
		return false
	}
}

// KnownFormat reports whether df is one of the recognized downlink formats.
func KnownFormat(df uint8) bool {
	return LongFormat(df) || ShortFormat(df)
}

// ExplicitAddress reports whether the 24-bit address is carried directly in
// the payload (bytes 1-3) rather than recovered from the CRC residual.
func ExplicitAddress(df uint8) bool {
	return df == DF11 || df == DF17 || df == DF18
}
