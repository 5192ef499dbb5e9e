package driver

import (
	"fmt"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// RPLIDAR A1 serial protocol subset. Requests are [0xA5, cmd] or, with a
// payload, [0xA5, cmd, len, payload..., xor-checksum]. Responses to
// commands begin with a 7-byte descriptor; scan data then arrives as a
// stream of fixed-size nodes (standard) or capsules (express).

const (
	syncByte       = 0xA5
	syncByteRsp    = 0x5A
	expressSync1Hi = 0xA0
	expressSync2Hi = 0x50
)

const (
	cmdStop        = 0x25
	cmdReset       = 0x40
	cmdScan        = 0x20
	cmdExpressScan = 0x82
	cmdGetInfo     = 0x50
	cmdGetHealth   = 0x52
)

const (
	rspTypeInfo        = 0x04
	rspTypeHealth      = 0x06
	rspTypeScan        = 0x81
	rspTypeExpressScan = 0x82
)

const (
	descriptorLen     = 7
	infoLen           = 20
	healthLen         = 3
	scanNodeLen       = 5
	expressCapsuleLen = 84
	cabinsPerCapsule  = 16
	samplesPerCapsule = 2 * cabinsPerCapsule
)

// Health status codes reported by the sensor.
const (
	HealthGood    = 0
	HealthWarning = 1
	HealthError   = 2
)

// buildRequest assembles a command packet. Payload may be nil.
func buildRequest(cmd byte, payload []byte) []byte {
	req := []byte{syncByte, cmd}
	if len(payload) == 0 {
		return req
	}
	req = append(req, byte(len(payload)))
	req = append(req, payload...)
	var sum byte
	for _, b := range req {
		sum ^= b
	}
	return append(req, sum)
}

// descriptor is the 7-byte header preceding every command response.
type descriptor struct {
	length   uint32 // single response length, or node size for streams
	single   bool
	dataType byte
}

func parseDescriptor(b []byte) (descriptor, error) {
	if len(b) != descriptorLen {
		return descriptor{}, fmt.Errorf("descriptor is %d bytes, want %d", len(b), descriptorLen)
	}
	if b[0] != syncByte || b[1] != syncByteRsp {
		return descriptor{}, fmt.Errorf("bad descriptor sync %02x %02x", b[0], b[1])
	}
	size := uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16 | uint32(b[5])<<24
	return descriptor{
		length:   size & 0x3FFFFFFF,
		single:   size>>30 == 0,
		dataType: b[6],
	}, nil
}

// Info describes the connected sensor.
type Info struct {
	Model    byte
	Firmware [2]byte // minor, major
	Hardware byte
	Serial   [16]byte
}

func (i Info) FirmwareString() string {
	return fmt.Sprintf("%d.%d", i.Firmware[1], i.Firmware[0])
}

func (i Info) SerialString() string {
	return fmt.Sprintf("%X", i.Serial)
}

func parseInfo(b []byte) (Info, error) {
	if len(b) != infoLen {
		return Info{}, fmt.Errorf("info payload is %d bytes, want %d", len(b), infoLen)
	}
	info := Info{Model: b[0], Firmware: [2]byte{b[1], b[2]}, Hardware: b[3]}
	copy(info.Serial[:], b[4:])
	return info, nil
}

// Health is the sensor's self-reported state.
type Health struct {
	Status    byte
	ErrorCode uint16
}

func (h Health) OK() bool { return h.Status != HealthError }

func parseHealth(b []byte) (Health, error) {
	if len(b) != healthLen {
		return Health{}, fmt.Errorf("health payload is %d bytes, want %d", len(b), healthLen)
	}
	return Health{Status: b[0], ErrorCode: uint16(b[1]) | uint16(b[2])<<8}, nil
}

// scanNode is one standard-mode measurement.
type scanNode struct {
	newScan bool
	point   scan.Point
}

// parseScanNode decodes a 5-byte standard measurement. The start flag
// and its inverted copy must disagree and the check bit must be set;
// anything else means the byte stream has lost alignment.
func parseScanNode(b []byte) (scanNode, error) {
	if len(b) != scanNodeLen {
		return scanNode{}, fmt.Errorf("scan node is %d bytes, want %d", len(b), scanNodeLen)
	}
	start := b[0]&0x01 != 0
	notStart := b[0]&0x02 != 0
	if start == notStart {
		return scanNode{}, fmt.Errorf("scan node start flags agree (%02x)", b[0])
	}
	if b[1]&0x01 == 0 {
		return scanNode{}, fmt.Errorf("scan node check bit clear (%02x)", b[1])
	}
	quality := b[0] >> 2
	angleQ6 := uint16(b[2])<<7 | uint16(b[1])>>1
	distQ2 := uint16(b[3]) | uint16(b[4])<<8
	return scanNode{
		newScan: start,
		point: scan.Point{
			Quality:  scan.Q(quality),
			Angle:    scan.NormalizeAngle(float64(angleQ6) / 64.0),
			Distance: float64(distQ2) / 4.0,
		},
	}, nil
}

// expressCapsule is one 84-byte express-mode packet carrying 32
// distance samples and their angular offsets. Per-sample angles are
// interpolated between this capsule's start angle and the next one's,
// so samples are only emitted once the following capsule arrives.
type expressCapsule struct {
	newScan    bool
	startAngle float64
	dist       [samplesPerCapsule]float64
	dAngle     [samplesPerCapsule]float64 // offset in degrees, subtracted
}

func parseExpressCapsule(b []byte) (expressCapsule, error) {
	if len(b) != expressCapsuleLen {
		return expressCapsule{}, fmt.Errorf("capsule is %d bytes, want %d", len(b), expressCapsuleLen)
	}
	if b[0]&0xF0 != expressSync1Hi || b[1]&0xF0 != expressSync2Hi {
		return expressCapsule{}, fmt.Errorf("bad capsule sync %02x %02x", b[0], b[1])
	}
	var sum byte
	for _, x := range b[2:] {
		sum ^= x
	}
	if want := b[0]&0x0F | (b[1]&0x0F)<<4; sum != want {
		return expressCapsule{}, fmt.Errorf("capsule checksum %02x, want %02x", sum, want)
	}

	var c expressCapsule
	c.newScan = b[3]&0x80 != 0
	c.startAngle = float64(uint16(b[2])|uint16(b[3]&0x7F)<<8) / 64.0

	for cabin := 0; cabin < cabinsPerCapsule; cabin++ {
		cb := b[4+cabin*5 : 4+cabin*5+5]
		d1 := (uint16(cb[0]) | uint16(cb[1])<<8) >> 2
		d2 := (uint16(cb[2]) | uint16(cb[3])<<8) >> 2
		off1 := uint8(cb[0]&0x03)<<4 | cb[4]&0x0F
		off2 := uint8(cb[2]&0x03)<<4 | cb[4]>>4

		c.dist[2*cabin] = float64(d1)
		c.dist[2*cabin+1] = float64(d2)
		c.dAngle[2*cabin] = float64(off1) / 8.0
		c.dAngle[2*cabin+1] = float64(off2) / 8.0
	}
	return c, nil
}

// samples expands a capsule into points, interpolating sample angles
// toward the start angle of the capsule that followed it.
func (c expressCapsule) samples(next expressCapsule) []scan.Point {
	span := scan.NormalizeAngle(next.startAngle - c.startAngle)
	step := span / samplesPerCapsule
	points := make([]scan.Point, samplesPerCapsule)
	for k := 0; k < samplesPerCapsule; k++ {
		angle := c.startAngle + step*float64(k) - c.dAngle[k]
		points[k] = scan.Point{
			Angle:    scan.NormalizeAngle(angle),
			Distance: c.dist[k],
		}
	}
	return points
}
