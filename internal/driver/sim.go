package driver

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// ErrSimStopped is returned by a sim stream once the scan is stopped.
var ErrSimStopped = errors.New("driver: simulated scan stopped")

// SimOptions configures the simulated sensor.
type SimOptions struct {
	// Seed makes generated sweeps reproducible. Zero seeds from time.
	Seed int64

	// Interval paces revolutions; defaults to 180ms (~5.5 Hz, the A1
	// spin rate). Tests set this very low.
	Interval time.Duration
}

// Sim is a Sensor that fabricates plausible revolutions of a
// rectangular room, for tests and for running the daemon without
// hardware.
type Sim struct {
	opts SimOptions
	log  log.Logger

	mu       sync.Mutex
	scanning bool
	rng      *rand.Rand
}

// NewSim creates a simulated sensor.
func NewSim(opts SimOptions, logger log.Logger) *Sim {
	if opts.Interval <= 0 {
		opts.Interval = 180 * time.Millisecond
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = log.Noop{}
	}
	return &Sim{
		opts: opts,
		log:  logger,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

// StartScan implements Sensor.
func (s *Sim) StartScan(mode scan.Mode) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		return nil, ErrScanActive
	}
	s.scanning = true
	s.log.Info("simulated scan started", log.String("mode", string(mode)))
	return &simStream{sim: s, mode: mode}, nil
}

// StopScan implements Sensor.
func (s *Sim) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanning {
		s.scanning = false
		s.log.Info("simulated scan stopped")
	}
	return nil
}

// Close implements Sensor.
func (s *Sim) Close() error {
	return s.StopScan()
}

type simStream struct {
	sim  *Sim
	mode scan.Mode
}

func (st *simStream) Next() (scan.Revolution, error) {
	time.Sleep(st.sim.opts.Interval)

	st.sim.mu.Lock()
	defer st.sim.mu.Unlock()
	if !st.sim.scanning {
		return scan.Revolution{}, ErrSimStopped
	}

	n := 280 + st.sim.rng.Intn(60)
	if st.mode == scan.ModeExpress {
		n = 740 + st.sim.rng.Intn(80)
	}
	points := make([]scan.Point, 0, n)
	for i := 0; i < n; i++ {
		angle := 360 * float64(i) / float64(n)
		points = append(points, st.sim.point(st.mode, angle))
	}
	return revolution(st.mode, points), nil
}

// point ray-casts from the center of a 4m x 6m room, with ~1% jitter
// and occasional dropouts for non-reflective surfaces.
func (s *Sim) point(mode scan.Mode, angle float64) scan.Point {
	const halfW, halfL = 2000.0, 3000.0

	p := scan.Point{Angle: angle}
	if s.rng.Float64() < 0.03 {
		return p // dropout, distance 0
	}

	rad := angle * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	dist := math.MaxFloat64
	if cos != 0 {
		dist = math.Min(dist, halfL/math.Abs(cos))
	}
	if sin != 0 {
		dist = math.Min(dist, halfW/math.Abs(sin))
	}
	p.Distance = dist * (1 + 0.01*(s.rng.Float64()*2-1))

	if mode.HasQuality() {
		p.Quality = scan.Q(uint8(10 + s.rng.Intn(6)))
	}
	return p
}
