package decode

import (
	"testing"

	"go1090/internal/adsb"
	"go1090/internal/frame"
)

// setBits writes v into data's 1-based inclusive bit range [firstBit,
// lastBit], the mirror image of getBits, so tests can build ME payloads
// directly in terms of the spec's bit-field layout.
func setBits(data []byte, firstBit, lastBit int, v uint32) {
	for bitPos := lastBit; bitPos >= firstBit; bitPos-- {
		byteIdx := (bitPos - 1) / 8
		bitInByte := 7 - (bitPos-1)%8
		if v&1 != 0 {
			data[byteIdx] |= 1 << uint(bitInByte)
		} else {
			data[byteIdx] &^= 1 << uint(bitInByte)
		}
		v >>= 1
	}
}

func TestDecodeIdentification(t *testing.T) {
	raw := make([]byte, 14)
	raw[0] = 0x8D // DF17
	me := raw[4:]
	setBits(me, 1, 5, 4) // type code 4: identification

	chars := []byte{1, 2, 49, 50, 51, 52, 3, 4} // A B 1 2 3 4 C D
	bitPos := 9
	for _, c := range chars {
		setBits(me, bitPos, bitPos+5, uint32(c))
		bitPos += 6
	}

	msg, ok := Decode(&frame.Frame{DF: adsb.DF17, Raw: raw})
	if !ok {
		t.Fatal("expected identification message to decode")
	}
	ident, ok := msg.(Identification)
	if !ok {
		t.Fatalf("message type = %T, want Identification", msg)
	}
	if ident.Callsign != "AB1234CD" {
		t.Errorf("Callsign = %q, want AB1234CD", ident.Callsign)
	}
	if ident.Category != 4 {
		t.Errorf("Category = %d, want 4", ident.Category)
	}
}

func TestDecodeAirbornePositionWithAltitude(t *testing.T) {
	raw := make([]byte, 14)
	raw[0] = 0x8D
	me := raw[4:]
	setBits(me, 1, 5, 11) // TC 11: airborne position
	setBits(me, 9, 20, 3128)
	setBits(me, 22, 22, 1) // odd format
	setBits(me, 23, 39, 50000)
	setBits(me, 40, 56, 60000)

	msg, ok := Decode(&frame.Frame{DF: adsb.DF17, Raw: raw})
	if !ok {
		t.Fatal("expected position message to decode")
	}
	pos, ok := msg.(Position)
	if !ok {
		t.Fatalf("message type = %T, want Position", msg)
	}
	if pos.Surface {
		t.Error("airborne TC range should not set Surface")
	}
	if !pos.Odd {
		t.Error("expected odd format bit to be set")
	}
	if pos.CPRLat != 50000 || pos.CPRLon != 60000 {
		t.Errorf("CPRLat/CPRLon = %d/%d, want 50000/60000", pos.CPRLat, pos.CPRLon)
	}
	if pos.AltitudeFt == nil || *pos.AltitudeFt != 38000 {
		t.Fatalf("AltitudeFt = %v, want 38000", pos.AltitudeFt)
	}
}

func TestDecodeSurfacePositionHasNoAltitude(t *testing.T) {
	raw := make([]byte, 14)
	raw[0] = 0x8D
	me := raw[4:]
	setBits(me, 1, 5, 6) // TC 6: surface position

	msg, ok := Decode(&frame.Frame{DF: adsb.DF17, Raw: raw})
	if !ok {
		t.Fatal("expected position message to decode")
	}
	pos := msg.(Position)
	if !pos.Surface {
		t.Error("expected Surface to be true for TC 5-8")
	}
	if pos.AltitudeFt != nil {
		t.Error("surface position should carry no altitude")
	}
}

func TestDecodeVelocityGroundSubsonic(t *testing.T) {
	raw := make([]byte, 14)
	raw[0] = 0x8D
	me := raw[4:]
	setBits(me, 1, 5, 19) // TC 19: velocity
	setBits(me, 6, 8, 1)  // subtype 1: ground velocity

	setBits(me, 14, 14, 0)       // east velocity sign: positive
	setBits(me, 15, 24, 101)     // ew raw
	setBits(me, 25, 25, 0)       // north velocity sign: positive
	setBits(me, 26, 35, 101)     // ns raw

	msg, ok := Decode(&frame.Frame{DF: adsb.DF18, Raw: raw})
	if !ok {
		t.Fatal("expected velocity message to decode")
	}
	v := msg.(Velocity)
	if v.Type != SpeedGround {
		t.Errorf("Type = %v, want SpeedGround", v.Type)
	}
	if v.SpeedKts == nil {
		t.Fatal("expected SpeedKts to be populated")
	}
	if *v.SpeedKts < 141 || *v.SpeedKts > 142 {
		t.Errorf("SpeedKts = %v, want ~141.4", *v.SpeedKts)
	}
	if v.HeadingDeg == nil || *v.HeadingDeg < 44 || *v.HeadingDeg > 46 {
		t.Errorf("HeadingDeg = %v, want ~45", v.HeadingDeg)
	}
}

func TestDecodeAltitudeReplyQBit(t *testing.T) {
	raw := make([]byte, 7)
	setBits(raw, 20, 32, 6200)

	msg, ok := Decode(&frame.Frame{DF: adsb.DF4, Raw: raw})
	if !ok {
		t.Fatal("expected altitude reply to decode")
	}
	alt := msg.(Altitude)
	if alt.AltitudeFt == nil || *alt.AltitudeFt != 38000 {
		t.Fatalf("AltitudeFt = %v, want 38000", alt.AltitudeFt)
	}
}

func TestDecodeAltitudeReplyZeroCodeIsNil(t *testing.T) {
	raw := make([]byte, 7)
	msg, ok := Decode(&frame.Frame{DF: adsb.DF0, Raw: raw})
	if !ok {
		t.Fatal("expected altitude reply to decode")
	}
	if msg.(Altitude).AltitudeFt != nil {
		t.Error("zero altitude code should decode to nil altitude")
	}
}

func TestDecodeSquawkReply(t *testing.T) {
	raw := make([]byte, 7)
	// 0x0AAA is the wire identity code for squawk 7700 under the real
	// C1 A1 C2 A2 C4 A4 _ B1 D1 B2 D2 B4 D4 interleaving.
	setBits(raw, 20, 32, 0x0AAA)

	msg, ok := Decode(&frame.Frame{DF: adsb.DF5, Raw: raw})
	if !ok {
		t.Fatal("expected squawk reply to decode")
	}
	sq := msg.(Squawk)
	if sq.Code != "7700" {
		t.Errorf("Code = %q, want 7700", sq.Code)
	}
}

func TestDecodeDF11HasNoPayload(t *testing.T) {
	_, ok := Decode(&frame.Frame{DF: adsb.DF11, Raw: make([]byte, 7)})
	if ok {
		t.Error("DF11 acquisition squitter should not decode to a payload message")
	}
}
