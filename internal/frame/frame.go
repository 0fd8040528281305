// Package frame parses Mode S hex strings into structured frames:
// downlink-format classification, address extraction, CRC validation, and
// single-/double-bit error correction.
package frame

import (
	"encoding/hex"
	"fmt"
	"time"

	"go1090/internal/adsb"
	"go1090/internal/crc"
	"go1090/internal/icaocache"
)

// Frame is a parsed Mode S message; CRCOK reports whether its CRC checked
// out (directly or after correction).
type Frame struct {
	DF        uint8
	Bits      int // 56 or 112
	Raw       []byte
	Timestamp time.Time
	Signal    *float64
	Address   uint32
	CRCOK     bool
	Corrected bool
}

// Parse errors. The parser also rejects silently in some cases per spec
// (§4.2/§7) — those return (nil, nil), not an error.
var (
	ErrInvalidHex    = fmt.Errorf("invalid_hex")
	ErrInvalidLength = fmt.Errorf("invalid_length")
	ErrUnknownFormat = fmt.Errorf("unknown_format")
)

// Parse decodes hexStr (14 or 28 hex digits, case-insensitive) received at
// timestamp, optionally with a signal level, validating it against cache
// (which may be nil to disable residual-address confirmation). On
// success the address is registered into cache for explicit-address
// formats (11/17/18).
func Parse(hexStr string, timestamp time.Time, signal *float64, cache *icaocache.Cache) (*Frame, error) {
	if len(hexStr) != 14 && len(hexStr) != 28 {
		return nil, ErrInvalidLength
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, ErrInvalidHex
	}

	df := (raw[0] >> 3) & 0x1f
	if !adsb.KnownFormat(df) {
		return nil, ErrUnknownFormat
	}

	bits := 56
	if adsb.LongFormat(df) {
		bits = 112
	}
	if bits/8 != len(raw) {
		return nil, ErrInvalidLength
	}

	residual := crc.Checksum(raw)

	f := &Frame{DF: df, Bits: bits, Raw: raw, Timestamp: timestamp, Signal: signal}

	if adsb.ExplicitAddress(df) {
		f.Address = uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		if residual == 0 {
			f.CRCOK = true
		} else {
			corrected, _, ok := crc.Correct(raw, bits, residual)
			if !ok {
				f.CRCOK = false
				return f, nil
			}
			f.Raw = corrected
			f.Corrected = true
			f.CRCOK = true
			f.Address = uint32(corrected[1])<<16 | uint32(corrected[2])<<8 | uint32(corrected[3])
		}
		if cache != nil {
			cache.Add(f.Address)
		}
		return f, nil
	}

	// Short, implicit-address formats: residual IS the address.
	f.Address = residual & 0xffffff
	f.CRCOK = true
	if cache != nil && !cache.Seen(f.Address) {
		return nil, nil
	}
	return f, nil
}
