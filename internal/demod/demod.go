// Package demod turns a stream of interleaved 8-bit I/Q samples at 2 MHz
// into candidate Mode S hex frames: squared-magnitude conversion,
// adaptive noise-floor tracking, strict preamble matching, and
// Pulse-Position-Modulation bit recovery.
//
// Grounded in shape on saviobatista-go1090's internal/adsb.ADSBProcessor
// (logger field, running counters, a magnitude/demodulate/decode method
// split) but NOT its dump1090 2.4 MHz correlation algorithm — this
// module targets a 2 MHz sample rate with the classic two-samples-per-bit
// PPM recovery instead.
package demod

import (
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// magnitudeTable maps a packed (I<<8)|Q byte pair to squared magnitude,
// precomputed once at package init.
var magnitudeTable [65536]float64

func init() {
	for i := 0; i < 256; i++ {
		di := float64(i) - 127.5
		for q := 0; q < 256; q++ {
			dq := float64(q) - 127.5
			magnitudeTable[i<<8|q] = di*di + dq*dq
		}
	}
}

const (
	preambleLen       = 16
	longDataBits      = 112
	shortDataBits     = 56
	noiseFloorFloor   = 100.0
	noiseFloorCoeff   = 0.05
	uncertainFraction = 0.15
	maxUncertainRatio = 0.20
	medianWindows     = 64
	medianWindowSize  = 16
)

// Candidate is one demodulated, not-yet-validated hex frame attempt.
type Candidate struct {
	Hex       string
	Timestamp time.Time
	Signal    float64
}

// Demodulator holds noise-floor state and running counters across calls
// to Process; reuse one instance across a whole capture session.
type Demodulator struct {
	log        *logrus.Entry
	noiseFloor float64

	PreambleCount   uint64
	ValidFrames     uint64
	RejectedUncertain uint64
}

// New builds a Demodulator with the noise floor reset to its floor value.
func New(logger *logrus.Logger) *Demodulator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Demodulator{log: logger.WithField("component", "demod"), noiseFloor: noiseFloorFloor}
}

// ResetNoiseFloor returns the tracked noise floor to its absolute minimum.
func (d *Demodulator) ResetNoiseFloor() {
	d.noiseFloor = noiseFloorFloor
}

func (d *Demodulator) threshold() float64 {
	return math.Max(d.noiseFloor*3.0, 50.0)
}

func median16(win []float64) float64 {
	var sorted [medianWindowSize]float64
	copy(sorted[:], win)
	sort.Float64s(sorted[:])
	return (sorted[medianWindowSize/2-1] + sorted[medianWindowSize/2]) / 2
}

// updateNoiseFloor samples 64 windows of 16 magnitudes spaced evenly
// through mag, takes the 25th percentile of their medians, and smooths
// it into the running floor.
func (d *Demodulator) updateNoiseFloor(mag []float64) {
	n := len(mag)
	if n < medianWindowSize {
		return
	}
	maxStart := n - medianWindowSize

	medians := make([]float64, medianWindows)
	for i := 0; i < medianWindows; i++ {
		start := 0
		if medianWindows > 1 {
			start = i * maxStart / (medianWindows - 1)
		}
		medians[i] = median16(mag[start : start+medianWindowSize])
	}
	sort.Float64s(medians)
	idx := int(0.25 * float64(len(medians)-1))
	p25 := medians[idx]

	d.noiseFloor = d.noiseFloor*(1-noiseFloorCoeff) + p25*noiseFloorCoeff
}

// checkPreamble evaluates the 16-sample preamble window starting at pos,
// returning the pulse average (the reported signal level) on success.
func (d *Demodulator) checkPreamble(mag []float64, pos int) (float64, bool) {
	if pos+preambleLen > len(mag) {
		return 0, false
	}
	p := mag[pos : pos+preambleLen]

	pulse0, pulse1, pulse2, pulse3 := p[0], p[2], p[7], p[9]
	gap0, gap1, gap2, gap3, gap4, gap5 := p[1], p[3], p[4], p[5], p[6], p[8]
	quiet := p[10:16]

	pulseAvg := (pulse0 + pulse1 + pulse2 + pulse3) / 4
	gapAvg := (gap0 + gap1 + gap2 + gap3 + gap4 + gap5) / 6

	if pulseAvg < d.threshold() {
		return 0, false
	}
	if gapAvg <= 0 || pulseAvg/gapAvg < 2.0 {
		return 0, false
	}

	maxPulse := math.Max(math.Max(pulse0, pulse1), math.Max(pulse2, pulse3))
	minPulse := math.Min(math.Min(pulse0, pulse1), math.Min(pulse2, pulse3))
	if minPulse <= 0 || maxPulse > 6*minPulse {
		return 0, false
	}

	if !(pulse0 > gap0) {
		return 0, false
	}
	if !(pulse1 > gap0 && pulse1 > gap2) {
		return 0, false
	}
	if !(pulse2 > gap4) {
		return 0, false
	}
	if !(pulse3 > gap5) {
		return 0, false
	}

	for _, q := range quiet {
		if q >= pulseAvg*2.0/3.0 {
			return 0, false
		}
	}

	if pulseAvg*2 < gapAvg*3 {
		return 0, false
	}

	return pulseAvg, true
}

// decodeFrom recovers bits from mag starting at dataStart via PPM, up to
// nbits, carrying the previous bit's value forward through uncertain
// spans. Fills bits in place and returns the number that were uncertain,
// with ok false if mag runs out before nbits.
func decodeFrom(mag []float64, dataStart, from, nbits int, bits []int, prev int) (int, bool) {
	uncertain := 0
	for i := from; i < nbits; i++ {
		sIdx := dataStart + 2*i
		if sIdx+1 >= len(mag) {
			return uncertain, false
		}
		high, low := mag[sIdx], mag[sIdx+1]
		signal := math.Max(high, low)
		var bit int
		if signal == 0 || math.Abs(high-low)/signal < uncertainFraction {
			bit = prev
			uncertain++
		} else if high > low {
			bit = 1
		} else {
			bit = 0
		}
		bits[i] = bit
		prev = bit
	}
	return uncertain, true
}

func bitsToDF(bits []int) uint8 {
	var v uint8
	for i := 0; i < 5; i++ {
		v = v<<1 | uint8(bits[i])
	}
	return v
}

func packBits(bits []int) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

// tryDecodeAt attempts a full preamble+data decode starting at pos,
// returning the candidate and the number of 2-sample data slots consumed
// (nbits) on success.
func (d *Demodulator) tryDecodeAt(mag []float64, pos int) (*Candidate, int, bool) {
	dataStart := pos + preambleLen
	if dataStart+10 > len(mag) {
		return nil, 0, false
	}

	bits := make([]int, longDataBits)
	uncertain, ok := decodeFrom(mag, dataStart, 0, 5, bits, 0)
	if !ok {
		return nil, 0, false
	}

	df := bitsToDF(bits)
	var nbits int
	switch df {
	case 16, 17, 18, 19, 20, 21:
		nbits = longDataBits
	case 0, 4, 5, 11:
		nbits = shortDataBits
	default:
		return nil, 0, false
	}

	more, ok := decodeFrom(mag, dataStart, 5, nbits, bits, bits[4])
	if !ok {
		return nil, 0, false
	}
	uncertain += more

	if float64(uncertain) > maxUncertainRatio*float64(nbits) {
		return nil, nbits, false
	}

	raw := packBits(bits[:nbits])
	return &Candidate{Hex: strings.ToUpper(hex.EncodeToString(raw))}, nbits, true
}

// Process demodulates one buffer of squared-magnitude samples already
// converted from raw I/Q bytes (see ToMagnitude), sliding the preamble
// search one sample at a time and advancing past each successful decode.
func (d *Demodulator) Process(mag []float64, baseTime time.Time, sampleRate uint32) []Candidate {
	d.updateNoiseFloor(mag)

	var candidates []Candidate
	i := 0
	for i+preambleLen < len(mag) {
		pulseAvg, ok := d.checkPreamble(mag, i)
		if !ok {
			i++
			continue
		}
		d.PreambleCount++

		cand, nbits, ok := d.tryDecodeAt(mag, i)
		if !ok {
			d.RejectedUncertain++
			i++
			continue
		}

		cand.Signal = pulseAvg
		cand.Timestamp = baseTime.Add(sampleDuration(i, sampleRate))
		candidates = append(candidates, *cand)
		d.ValidFrames++
		i += preambleLen + nbits*2
	}
	return candidates
}

func sampleDuration(samples int, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// ToMagnitude converts raw interleaved I/Q bytes into squared-magnitude
// samples via the precomputed table.
func ToMagnitude(iq []byte) []float64 {
	n := len(iq) / 2
	mag := make([]float64, n)
	for i := 0; i < n; i++ {
		mag[i] = magnitudeTable[uint16(iq[2*i])<<8|uint16(iq[2*i+1])]
	}
	return mag
}

// OverlapSamples is the number of trailing samples from one chunk carried
// forward into the next, so a preamble straddling a chunk boundary is
// never missed.
const OverlapSamples = 240

// Stream wraps a Demodulator with the chunked-streaming semantics: each
// Feed call supplies one buffer of whatever length the caller passes
// (Stream does not re-chunk input into one-second buffers), and the last OverlapSamples samples of every buffer are re-examined at
// the start of the next.
type Stream struct {
	d          *Demodulator
	sampleRate uint32
	start      time.Time

	carry           []byte
	consumedSamples uint64
}

// NewStream builds a Stream over d, timestamping its first sample at start.
func NewStream(d *Demodulator, sampleRate uint32, start time.Time) *Stream {
	return &Stream{d: d, sampleRate: sampleRate, start: start}
}

// Feed processes one chunk of raw interleaved I/Q bytes, prepending the
// overlap carried from the previous call, and returns any candidates found.
func (s *Stream) Feed(chunk []byte) []Candidate {
	buf := append(append([]byte{}, s.carry...), chunk...)

	bufStartSample := int64(s.consumedSamples) - int64(len(s.carry)/2)
	base := s.start.Add(sampleDuration(int(bufStartSample), s.sampleRate))

	mag := ToMagnitude(buf)
	candidates := s.d.Process(mag, base, s.sampleRate)

	s.consumedSamples += uint64(len(chunk) / 2)

	overlapBytes := OverlapSamples * 2
	if len(buf) > overlapBytes {
		s.carry = append([]byte{}, buf[len(buf)-overlapBytes:]...)
	} else {
		s.carry = append([]byte{}, buf...)
	}

	return candidates
}
