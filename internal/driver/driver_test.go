package driver

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// fakePort scripts device output and records everything the driver
// does to the port.
type fakePort struct {
	reads   bytes.Buffer
	writes  bytes.Buffer
	dtr     []bool
	flushes int
	closed  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.reads.Len() == 0 {
		return 0, nil // go.bug.st timeout convention
	}
	return f.reads.Read(p)
}

func (f *fakePort) Write(p []byte) (int, error) { return f.writes.Write(p) }

func (f *fakePort) Close() error { f.closed = true; return nil }

func (f *fakePort) SetDTR(dtr bool) error { f.dtr = append(f.dtr, dtr); return nil }

func (f *fakePort) SetReadTimeout(t time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error { f.flushes++; return nil }

func testDevice(fp *fakePort) *Device {
	return newDevice(fp, Options{
		Path:        "fake",
		ReadTimeout: 10 * time.Millisecond,
		SpinupDelay: time.Millisecond,
	}, log.Noop{})
}

// scriptDescriptor appends a response descriptor to the fake port.
func scriptDescriptor(fp *fakePort, length uint32, single bool, dataType byte) {
	size := length
	if !single {
		size |= 1 << 30
	}
	fp.reads.Write([]byte{
		syncByte, syncByteRsp,
		byte(size), byte(size >> 8), byte(size >> 16), byte(size >> 24),
		dataType,
	})
}

func makeScanNode(start bool, quality uint8, angleQ6 uint16, distQ2 uint16) []byte {
	b0 := quality << 2
	if start {
		b0 |= 0x01
	} else {
		b0 |= 0x02
	}
	return []byte{
		b0,
		byte(angleQ6&0x7F)<<1 | 0x01,
		byte(angleQ6 >> 7),
		byte(distQ2),
		byte(distQ2 >> 8),
	}
}

func makeExpressCapsule(newScan bool, startAngleQ6 uint16, dist [32]uint16, off [32]uint8) []byte {
	b := make([]byte, expressCapsuleLen)
	b[2] = byte(startAngleQ6)
	b[3] = byte(startAngleQ6 >> 8 & 0x7F)
	if newScan {
		b[3] |= 0x80
	}
	for cabin := 0; cabin < cabinsPerCapsule; cabin++ {
		d1, d2 := dist[2*cabin], dist[2*cabin+1]
		o1, o2 := off[2*cabin]&0x3F, off[2*cabin+1]&0x3F
		cb := b[4+cabin*5:]
		cb[0] = byte(d1<<2) | o1>>4
		cb[1] = byte(d1 >> 6)
		cb[2] = byte(d2<<2) | o2>>4
		cb[3] = byte(d2 >> 6)
		cb[4] = o2&0x0F<<4 | o1&0x0F
	}
	var sum byte
	for _, x := range b[2:] {
		sum ^= x
	}
	b[0] = expressSync1Hi | sum&0x0F
	b[1] = expressSync2Hi | sum>>4
	return b
}

func TestBuildRequest(t *testing.T) {
	got := buildRequest(cmdStop, nil)
	if !bytes.Equal(got, []byte{0xA5, 0x25}) {
		t.Errorf("stop request = %x, want a525", got)
	}

	got = buildRequest(cmdExpressScan, make([]byte, 5))
	want := []byte{0xA5, 0x82, 0x05, 0, 0, 0, 0, 0, 0xA5 ^ 0x82 ^ 0x05}
	if !bytes.Equal(got, want) {
		t.Errorf("express request = %x, want %x", got, want)
	}
}

func TestParseDescriptor(t *testing.T) {
	d, err := parseDescriptor([]byte{0xA5, 0x5A, 0x05, 0x00, 0x00, 0x40, 0x81})
	if err != nil {
		t.Fatalf("parseDescriptor: %v", err)
	}
	if d.length != 5 || d.single || d.dataType != rspTypeScan {
		t.Errorf("descriptor = %+v, want len=5 multi type=81", d)
	}

	if _, err := parseDescriptor([]byte{0xA5, 0x00, 0, 0, 0, 0, 0}); err == nil {
		t.Error("bad sync should fail")
	}
}

func TestParseScanNode(t *testing.T) {
	node, err := parseScanNode(makeScanNode(true, 13, 90*64, 1200*4))
	if err != nil {
		t.Fatalf("parseScanNode: %v", err)
	}
	if !node.newScan {
		t.Error("newScan = false, want true")
	}
	if node.point.Quality == nil || *node.point.Quality != 13 {
		t.Errorf("quality = %v, want 13", node.point.Quality)
	}
	if node.point.Angle != 90 {
		t.Errorf("angle = %v, want 90", node.point.Angle)
	}
	if node.point.Distance != 1200 {
		t.Errorf("distance = %v, want 1200", node.point.Distance)
	}
}

func TestParseScanNodeRejectsCorruption(t *testing.T) {
	// Both start flags set.
	n := makeScanNode(true, 5, 100, 100)
	n[0] |= 0x03
	if _, err := parseScanNode(n); err == nil {
		t.Error("agreeing start flags should fail")
	}

	// Check bit cleared.
	n = makeScanNode(false, 5, 100, 100)
	n[1] &^= 0x01
	if _, err := parseScanNode(n); err == nil {
		t.Error("cleared check bit should fail")
	}
}

func TestParseExpressCapsule(t *testing.T) {
	var dist [32]uint16
	var off [32]uint8
	for i := range dist {
		dist[i] = uint16(500 + i)
		off[i] = uint8(i & 0x3F)
	}
	raw := makeExpressCapsule(true, 45*64, dist, off)
	c, err := parseExpressCapsule(raw)
	if err != nil {
		t.Fatalf("parseExpressCapsule: %v", err)
	}
	if !c.newScan {
		t.Error("newScan = false, want true")
	}
	if c.startAngle != 45 {
		t.Errorf("startAngle = %v, want 45", c.startAngle)
	}
	for i := range dist {
		if c.dist[i] != float64(dist[i]) {
			t.Fatalf("dist[%d] = %v, want %v", i, c.dist[i], dist[i])
		}
		if c.dAngle[i] != float64(off[i])/8.0 {
			t.Fatalf("dAngle[%d] = %v, want %v", i, c.dAngle[i], float64(off[i])/8.0)
		}
	}

	// Flip a payload bit; the checksum must catch it.
	raw[10] ^= 0x04
	if _, err := parseExpressCapsule(raw); err == nil {
		t.Error("corrupted capsule should fail checksum")
	}
}

func TestExpressSamplesInterpolation(t *testing.T) {
	var dist [32]uint16
	for i := range dist {
		dist[i] = 1000
	}
	var off [32]uint8
	prev, err := parseExpressCapsule(makeExpressCapsule(false, 0, dist, off))
	if err != nil {
		t.Fatalf("parse prev: %v", err)
	}
	next, err := parseExpressCapsule(makeExpressCapsule(false, 32*64, dist, off))
	if err != nil {
		t.Fatalf("parse next: %v", err)
	}

	points := prev.samples(next)
	if len(points) != samplesPerCapsule {
		t.Fatalf("samples = %d points, want %d", len(points), samplesPerCapsule)
	}
	// 32 degrees over 32 samples: one degree per sample from 0.
	for k, p := range points {
		if p.Angle != float64(k) {
			t.Errorf("points[%d].Angle = %v, want %d", k, p.Angle, k)
		}
		if p.Distance != 1000 {
			t.Errorf("points[%d].Distance = %v, want 1000", k, p.Distance)
		}
		if p.Quality != nil {
			t.Errorf("points[%d] has quality in express mode", k)
		}
	}
}

func TestDeviceInfo(t *testing.T) {
	fp := &fakePort{}
	scriptDescriptor(fp, infoLen, true, rspTypeInfo)
	payload := make([]byte, infoLen)
	payload[0] = 24   // model
	payload[1] = 29   // fw minor
	payload[2] = 1    // fw major
	payload[3] = 7    // hardware
	payload[4] = 0xAB // serial head
	fp.reads.Write(payload)

	d := testDevice(fp)
	info, err := d.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Model != 24 || info.Hardware != 7 {
		t.Errorf("info = %+v, want model 24 hardware 7", info)
	}
	if got := info.FirmwareString(); got != "1.29" {
		t.Errorf("FirmwareString() = %q, want 1.29", got)
	}
	if !bytes.Equal(fp.writes.Bytes(), []byte{0xA5, cmdGetInfo}) {
		t.Errorf("request = %x, want a550", fp.writes.Bytes())
	}
}

func TestDeviceHealth(t *testing.T) {
	fp := &fakePort{}
	scriptDescriptor(fp, healthLen, true, rspTypeHealth)
	fp.reads.Write([]byte{HealthWarning, 0x34, 0x12})

	d := testDevice(fp)
	h, err := d.Health()
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != HealthWarning || h.ErrorCode != 0x1234 {
		t.Errorf("health = %+v, want warning/0x1234", h)
	}
	if !h.OK() {
		t.Error("warning status should still be OK")
	}
}

func TestDeviceReadTimeout(t *testing.T) {
	fp := &fakePort{} // no scripted response
	d := testDevice(fp)
	if _, err := d.Info(); err == nil {
		t.Error("Info with silent device should fail")
	}
}

func TestStandardScanRevolutions(t *testing.T) {
	fp := &fakePort{}
	scriptDescriptor(fp, scanNodeLen, false, rspTypeScan)

	// Two full revolutions of 8 points each, then the start of a third.
	for rev := 0; rev < 2; rev++ {
		for i := 0; i < 8; i++ {
			angleQ6 := uint16(i) * 45 * 64
			fp.reads.Write(makeScanNode(i == 0, 10, angleQ6, uint16(1000+rev)*4))
		}
	}
	fp.reads.Write(makeScanNode(true, 10, 0, 4000))

	d := testDevice(fp)
	stream, err := d.StartScan(scan.ModeStandard)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	rev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rev.Mode != scan.ModeStandard {
		t.Errorf("Mode = %v, want standard", rev.Mode)
	}
	if len(rev.Points) != 8 {
		t.Fatalf("first revolution has %d points, want 8", len(rev.Points))
	}
	if rev.Points[0].Distance != 1000 {
		t.Errorf("first revolution distance = %v, want 1000", rev.Points[0].Distance)
	}

	rev, err = stream.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if len(rev.Points) != 8 {
		t.Fatalf("second revolution has %d points, want 8", len(rev.Points))
	}
	if rev.Points[0].Distance != 1001 {
		t.Errorf("second revolution distance = %v, want 1001", rev.Points[0].Distance)
	}

	// Motor toggled on for the scan.
	if len(fp.dtr) == 0 || fp.dtr[len(fp.dtr)-1] != false {
		t.Errorf("DTR history = %v, want trailing false (motor on)", fp.dtr)
	}
}

func TestStandardScanDesync(t *testing.T) {
	fp := &fakePort{}
	scriptDescriptor(fp, scanNodeLen, false, rspTypeScan)
	fp.reads.Write([]byte{0x03, 0x00, 0x00, 0x00, 0x00}) // both start flags set

	d := testDevice(fp)
	stream, err := d.StartScan(scan.ModeStandard)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if _, err := stream.Next(); !errors.Is(err, ErrDesynced) {
		t.Errorf("Next = %v, want ErrDesynced", err)
	}
}

func TestStartScanWhileScanning(t *testing.T) {
	fp := &fakePort{}
	scriptDescriptor(fp, scanNodeLen, false, rspTypeScan)
	d := testDevice(fp)
	if _, err := d.StartScan(scan.ModeStandard); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if _, err := d.StartScan(scan.ModeStandard); !errors.Is(err, ErrScanActive) {
		t.Errorf("second StartScan = %v, want ErrScanActive", err)
	}
	if err := d.StopScan(); err != nil {
		t.Fatalf("StopScan: %v", err)
	}
	// Stop request went out and the motor is off (DTR high).
	if !bytes.Contains(fp.writes.Bytes(), []byte{0xA5, cmdStop}) {
		t.Error("stop request never written")
	}
	if fp.dtr[len(fp.dtr)-1] != true {
		t.Errorf("DTR history = %v, want trailing true (motor off)", fp.dtr)
	}
}

func TestExpressScanRevolutions(t *testing.T) {
	fp := &fakePort{}
	scriptDescriptor(fp, expressCapsuleLen, false, rspTypeExpressScan)

	var dist [32]uint16
	for i := range dist {
		dist[i] = 800
	}
	var off [32]uint8
	// Capsules sweep 32 degrees each; a new-scan flag every 4th capsule
	// would be unrealistic, so mark revolution starts explicitly.
	for i := 0; i < 10; i++ {
		start := uint16(i%4) * 90 * 64
		fp.reads.Write(makeExpressCapsule(i%4 == 0 && i > 0, start, dist, off))
	}

	d := testDevice(fp)
	stream, err := d.StartScan(scan.ModeExpress)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	rev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rev.Mode != scan.ModeExpress {
		t.Errorf("Mode = %v, want express", rev.Mode)
	}
	if len(rev.Points)%samplesPerCapsule != 0 || len(rev.Points) == 0 {
		t.Errorf("revolution has %d points, want a positive multiple of %d", len(rev.Points), samplesPerCapsule)
	}
	for _, p := range rev.Points {
		if p.Quality != nil {
			t.Fatal("express point carries quality")
		}
	}
}

func TestSimRevolutions(t *testing.T) {
	sim := NewSim(SimOptions{Seed: 42, Interval: time.Millisecond}, log.Noop{})
	stream, err := sim.StartScan(scan.ModeStandard)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	rev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(rev.Points) < 200 {
		t.Errorf("standard sim revolution has %d points, want >= 200", len(rev.Points))
	}
	var sawQuality bool
	for _, p := range rev.Points {
		if p.Quality != nil {
			sawQuality = true
			break
		}
	}
	if !sawQuality {
		t.Error("standard sim revolution has no quality values")
	}

	if err := sim.StopScan(); err != nil {
		t.Fatalf("StopScan: %v", err)
	}
	if _, err := stream.Next(); !errors.Is(err, ErrSimStopped) {
		t.Errorf("Next after stop = %v, want ErrSimStopped", err)
	}
}

func TestSimExpressDensity(t *testing.T) {
	sim := NewSim(SimOptions{Seed: 7, Interval: time.Millisecond}, log.Noop{})
	stream, err := sim.StartScan(scan.ModeExpress)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	defer sim.StopScan()

	rev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(rev.Points) < 700 {
		t.Errorf("express sim revolution has %d points, want >= 700", len(rev.Points))
	}
	for _, p := range rev.Points {
		if p.Quality != nil {
			t.Fatal("express sim point carries quality")
		}
	}
}
