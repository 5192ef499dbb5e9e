package driver

import (
	"fmt"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

const (
	// minRevolutionPoints drops degenerate sweeps produced right after
	// spin-up, matching the vendor SDK's minimum scan length.
	minRevolutionPoints = 5

	// maxBufferedPoints aborts assembly if no revolution boundary shows
	// up in a plausible amount of data.
	maxBufferedPoints = 8192
)

// standardStream assembles revolutions from 5-byte standard nodes. The
// node carrying the new-scan flag closes the running revolution and
// opens the next one.
type standardStream struct {
	d       *Device
	buf     [scanNodeLen]byte
	pending []scan.Point
}

func newStandardStream(d *Device) *standardStream {
	return &standardStream{d: d}
}

func (s *standardStream) Next() (scan.Revolution, error) {
	points := s.pending
	s.pending = nil
	for {
		if err := s.d.readFull(s.buf[:]); err != nil {
			return scan.Revolution{}, err
		}
		node, err := parseScanNode(s.buf[:])
		if err != nil {
			return scan.Revolution{}, fmt.Errorf("%w: %v", ErrDesynced, err)
		}
		if node.newScan {
			if len(points) >= minRevolutionPoints {
				s.pending = []scan.Point{node.point}
				return revolution(scan.ModeStandard, points), nil
			}
			// Too short to be a real sweep; restart collection.
			points = points[:0]
		}
		points = append(points, node.point)
		if len(points) > maxBufferedPoints {
			return scan.Revolution{}, fmt.Errorf("%w: no revolution boundary in %d points", ErrDesynced, len(points))
		}
	}
}

// expressStream assembles revolutions from 84-byte capsules. A
// capsule's samples can only be angled once the next capsule's start
// angle is known, so emission lags one capsule behind the wire.
type expressStream struct {
	d        *Device
	buf      [expressCapsuleLen]byte
	prev     expressCapsule
	havePrev bool
	pending  []scan.Point
}

func newExpressStream(d *Device) *expressStream {
	return &expressStream{d: d}
}

func (s *expressStream) Next() (scan.Revolution, error) {
	points := s.pending
	s.pending = nil
	for {
		if err := s.d.readFull(s.buf[:]); err != nil {
			return scan.Revolution{}, err
		}
		capsule, err := parseExpressCapsule(s.buf[:])
		if err != nil {
			return scan.Revolution{}, fmt.Errorf("%w: %v", ErrDesynced, err)
		}
		if !s.havePrev {
			s.prev, s.havePrev = capsule, true
			continue
		}
		points = append(points, s.prev.samples(capsule)...)
		boundary := capsule.newScan
		s.prev = capsule

		if boundary && len(points) >= minRevolutionPoints {
			return revolution(scan.ModeExpress, points), nil
		}
		if len(points) > maxBufferedPoints {
			return scan.Revolution{}, fmt.Errorf("%w: no revolution boundary in %d points", ErrDesynced, len(points))
		}
	}
}

func revolution(mode scan.Mode, points []scan.Point) scan.Revolution {
	return scan.Revolution{Mode: mode, Captured: time.Now().UTC(), Points: points}
}
