package scan

// Stats summarizes one revolution. Quality fields are only meaningful
// when QualityAvailable is set (standard mode).
type Stats struct {
	TotalPoints int
	ValidPoints int
	ValidPct    float64

	QualityAvailable bool
	MeanQuality      float64

	MinDistance float64
	MaxDistance float64

	// Coverage is the angular span between the lowest and highest valid
	// angle, in degrees. Density is valid points per covered degree.
	Coverage float64
	Density  float64
}

// Summarize computes Stats over the valid points of a revolution.
func Summarize(rev Revolution) Stats {
	st := Stats{TotalPoints: len(rev.Points)}

	var (
		qSum, qCount   int
		minA, maxA     float64
		minD, maxD     float64
		haveFirstValid bool
	)
	for _, p := range rev.Points {
		if !p.Valid() {
			continue
		}
		st.ValidPoints++
		if p.Quality != nil {
			qSum += int(*p.Quality)
			qCount++
		}
		if !haveFirstValid {
			minA, maxA = p.Angle, p.Angle
			minD, maxD = p.Distance, p.Distance
			haveFirstValid = true
			continue
		}
		if p.Angle < minA {
			minA = p.Angle
		}
		if p.Angle > maxA {
			maxA = p.Angle
		}
		if p.Distance < minD {
			minD = p.Distance
		}
		if p.Distance > maxD {
			maxD = p.Distance
		}
	}

	if st.TotalPoints > 0 {
		st.ValidPct = float64(st.ValidPoints) / float64(st.TotalPoints) * 100
	}
	if qCount > 0 {
		st.QualityAvailable = true
		st.MeanQuality = float64(qSum) / float64(qCount)
	}
	if haveFirstValid {
		st.MinDistance = minD
		st.MaxDistance = maxD
		st.Coverage = maxA - minA
		if st.Coverage > 0 {
			st.Density = float64(st.ValidPoints) / st.Coverage
		}
	}
	return st
}
