package scan

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects how the sensor samples a revolution.
type Mode string

const (
	// ModeStandard reports quality per point at lower angular density.
	ModeStandard Mode = "standard"

	// ModeExpress roughly doubles point density; quality is not reported.
	ModeExpress Mode = "express"
)

// DefaultMode is used when a client sends no mode or an unknown one.
const DefaultMode = ModeExpress

// ParseMode normalizes a user- or wire-supplied mode string.
// "NORMAL" is accepted as an alias for standard, matching the vendor SDK.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "normal":
		return ModeStandard, nil
	case "express":
		return ModeExpress, nil
	case "":
		return "", fmt.Errorf("empty scan mode")
	default:
		return "", fmt.Errorf("unknown scan mode %q", s)
	}
}

// Token returns the uppercase wire token a client sends on connect.
func (m Mode) Token() string { return strings.ToUpper(string(m)) }

// HasQuality reports whether points carry a quality value in this mode.
func (m Mode) HasQuality() bool { return m == ModeStandard }

// Point is a single LIDAR measurement.
//
// Quality is the sensor's confidence (0-15) and is nil in express mode.
// Angle is in degrees [0,360); Distance is in millimeters, with 0 meaning
// no valid return for that direction.
type Point struct {
	Quality  *uint8
	Angle    float64
	Distance float64
}

// Valid reports whether the point carries a usable distance measurement.
func (p Point) Valid() bool { return p.Distance > 0 }

// Q returns a quality value pinned to [0,15] for point construction.
func Q(q uint8) *uint8 {
	if q > 15 {
		q = 15
	}
	return &q
}

// Revolution is one full 360° sweep. Points are in arrival (temporal)
// order, which is not necessarily angular order.
type Revolution struct {
	Mode     Mode
	Captured time.Time
	Points   []Point
}

// NormalizeAngle wraps an angle into [0,360).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
