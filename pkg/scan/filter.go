package scan

// DistanceSplit partitions the valid points of a revolution by distance.
// Invalid points (distance 0) are dropped.
type DistanceSplit struct {
	InRange []Point
	TooNear []Point
	TooFar  []Point
}

// FilterDistance splits points against [minMM, maxMM] millimeters.
func FilterDistance(points []Point, minMM, maxMM float64) DistanceSplit {
	var out DistanceSplit
	for _, p := range points {
		switch {
		case !p.Valid():
		case p.Distance < minMM:
			out.TooNear = append(out.TooNear, p)
		case p.Distance > maxMM:
			out.TooFar = append(out.TooFar, p)
		default:
			out.InRange = append(out.InRange, p)
		}
	}
	return out
}

// FilterQuality keeps valid points whose quality is at least min.
// Points without a quality value (express mode) are always dropped.
func FilterQuality(points []Point, min uint8) []Point {
	var out []Point
	for _, p := range points {
		if p.Valid() && p.Quality != nil && *p.Quality >= min {
			out = append(out, p)
		}
	}
	return out
}

// FilterSector keeps valid points inside the angular sector from..to
// degrees, clockwise. Sectors that wrap through 0° (e.g. 330..30 for a
// forward-facing window) are supported.
func FilterSector(points []Point, from, to float64) []Point {
	from = NormalizeAngle(from)
	to = NormalizeAngle(to)
	var out []Point
	for _, p := range points {
		if p.Valid() && InSector(p.Angle, from, to) {
			out = append(out, p)
		}
	}
	return out
}

// InSector reports whether angle a lies in the sector from..to, where
// both bounds are normalized degrees and the sector may wrap through 0.
func InSector(a, from, to float64) bool {
	a = NormalizeAngle(a)
	if from <= to {
		return a >= from && a <= to
	}
	return a >= from || a <= to
}
