// Package cpr implements Compact Position Report disambiguation: global
// decode from an even/odd frame pair, and local decode from a single
// frame plus a nearby reference position.
//
// Grounded algorithmically on Regentag-go1090's mode_s/aircraft.go
// decodeCPR (itself a direct port of dump1090's classic algorithm), but
// restated against this spec's exact constants and normalized to return
// explicit ok booleans instead of a (0,0) sentinel.
package cpr

import "math"

const (
	nz      = 15
	dLatEven = 360.0 / (4 * nz)
	dLatOdd  = 360.0 / (4*nz - 1)
	cprMax   = 131072.0 // 2^17
)

// cprMod is the always-non-negative modulo used throughout CPR math.
func cprMod(a, b float64) float64 {
	r := a - b*math.Floor(a/b)
	return r
}

// NL returns the number of longitude zones at the given latitude.
func NL(lat float64) int {
	lat = math.Abs(lat)
	if lat >= 87 {
		return 1
	}
	if lat == 0 {
		return 59
	}
	a := 1 - math.Cos(math.Pi/(2*nz))
	b := math.Cos(math.Pi/180*lat) * math.Cos(math.Pi/180*lat)
	nl := int(math.Floor(2 * math.Pi / math.Acos(1-a/b)))
	if nl < 1 {
		nl = 1
	}
	return nl
}

func nFunc(lat float64, offset int) int {
	n := NL(lat) - offset
	if n < 1 {
		n = 1
	}
	return n
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Global decodes position from an even and an odd CPR frame. tEven/tOdd
// are reception timestamps in seconds; decode fails (ok=false) if the
// pair is more than 10 seconds apart, if the decoded latitudes land in
// different NL zones, or if the candidate falls outside valid range.
func Global(evenLatCPR, evenLonCPR, oddLatCPR, oddLonCPR uint32, tEven, tOdd float64) (lat, lon float64, ok bool) {
	if math.Abs(tEven-tOdd) > 10 {
		return 0, 0, false
	}

	latE := float64(evenLatCPR) / cprMax
	latO := float64(oddLatCPR) / cprMax
	lonE := float64(evenLonCPR) / cprMax
	lonO := float64(oddLonCPR) / cprMax

	j := math.Floor(59*latE - 60*latO + 0.5)

	rlatE := dLatEven * (cprMod(j, 60) + latE)
	rlatO := dLatOdd * (cprMod(j, 59) + latO)

	if rlatE >= 270 {
		rlatE -= 360
	}
	if rlatO >= 270 {
		rlatO -= 360
	}

	if rlatE < -90 || rlatE > 90 || rlatO < -90 || rlatO > 90 {
		return 0, 0, false
	}

	nlE := NL(rlatE)
	nlO := NL(rlatO)
	if nlE != nlO {
		return 0, 0, false
	}

	useOdd := tOdd > tEven

	var rlat float64
	var n int
	var lonCPR float64
	var m float64

	if useOdd {
		rlat = rlatO
		n = nFunc(rlatO, 1)
		m = math.Floor(lonE*float64(nlO-1)-lonO*float64(nlO) + 0.5)
		lonCPR = lonO
	} else {
		rlat = rlatE
		n = nFunc(rlatE, 0)
		m = math.Floor(lonE*float64(nlE-1)-lonO*float64(nlE) + 0.5)
		lonCPR = lonE
	}

	dLon := 360.0 / float64(n)
	rlon := dLon * (cprMod(m, float64(n)) + lonCPR)
	if rlon >= 180 {
		rlon -= 360
	}

	return round6(rlat), round6(rlon), true
}

// Local decodes position from a single CPR frame plus a reference
// position known to be within ~180 nm.
func Local(latCPR, lonCPR uint32, odd bool, refLat, refLon float64) (lat, lon float64, ok bool) {
	offset := 0
	dLat := dLatEven
	if odd {
		offset = 1
		dLat = dLatOdd
	}

	cprLat := float64(latCPR) / cprMax
	cprLon := float64(lonCPR) / cprMax

	j := math.Floor(refLat/dLat) + math.Floor(cprMod(refLat, dLat)/dLat-cprLat+0.5)
	rlat := dLat * (j + cprLat)

	if rlat < -90 || rlat > 90 {
		return 0, 0, false
	}

	n := nFunc(rlat, offset)
	dLon := 360.0 / float64(n)

	m := math.Floor(refLon/dLon) + math.Floor(cprMod(refLon, dLon)/dLon-cprLon+0.5)
	rlon := dLon * (m + cprLon)

	if rlon >= 180 {
		rlon -= 360
	} else if rlon < -180 {
		rlon += 360
	}

	return round6(rlat), round6(rlon), true
}
