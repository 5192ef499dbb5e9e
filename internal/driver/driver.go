// Package driver speaks the RPLIDAR A1 serial protocol and assembles
// raw measurements into whole revolutions. The server only depends on
// the Sensor interface, so it can run against the real device or the
// simulator in sim.go.
package driver

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// ErrScanActive is returned by StartScan while a scan is running.
var ErrScanActive = errors.New("driver: scan already active")

// ErrDesynced is returned when the measurement stream loses byte
// alignment and cannot be trusted.
var ErrDesynced = errors.New("driver: measurement stream desynchronized")

// Sensor is the surface the server needs from a LIDAR.
type Sensor interface {
	// StartScan spins up the motor and begins sampling in the given
	// mode. Only one scan may be active at a time.
	StartScan(mode scan.Mode) (Stream, error)

	// StopScan halts sampling and stops the motor. Safe to call when
	// no scan is active.
	StopScan() error

	// Close releases the underlying device.
	Close() error
}

// Stream yields successive revolutions of an active scan.
type Stream interface {
	// Next blocks until a full revolution has been assembled.
	Next() (scan.Revolution, error)
}

// port is the subset of go.bug.st/serial.Port the driver uses; tests
// substitute an in-memory implementation.
type port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Options configures a Device.
type Options struct {
	// Path is the serial device, e.g. /dev/ttyUSB0.
	Path string

	// Baud defaults to 115200, the A1 rate.
	Baud int

	// ReadTimeout bounds each serial read during scanning.
	ReadTimeout time.Duration

	// SpinupDelay is how long to let the motor stabilize before
	// sampling begins.
	SpinupDelay time.Duration
}

func (o *Options) setDefaults() {
	if o.Baud <= 0 {
		o.Baud = 115200
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * time.Second
	}
	if o.SpinupDelay <= 0 {
		o.SpinupDelay = 2 * time.Second
	}
}

// Device is a serial-attached RPLIDAR A1.
type Device struct {
	port     port
	opts     Options
	log      log.Logger
	scanning bool
}

// Open connects to the sensor without starting the motor or a scan.
func Open(opts Options, logger log.Logger) (*Device, error) {
	opts.setDefaults()
	if logger == nil {
		logger = log.Noop{}
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("driver: serial path is required")
	}
	p, err := serial.Open(opts.Path, &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("driver: open %s: %w", opts.Path, err)
	}
	d := newDevice(p, opts, logger)
	// Keep the motor off until a client asks for data.
	if err := d.stopMotor(); err != nil {
		p.Close()
		return nil, err
	}
	return d, nil
}

// newDevice wires a Device to an already-open port.
func newDevice(p port, opts Options, logger log.Logger) *Device {
	opts.setDefaults()
	return &Device{port: p, opts: opts, log: logger}
}

// Info queries the device identification block.
func (d *Device) Info() (Info, error) {
	payload, err := d.request(cmdGetInfo, nil, rspTypeInfo, infoLen)
	if err != nil {
		return Info{}, err
	}
	return parseInfo(payload)
}

// Health queries the sensor's self-test state.
func (d *Device) Health() (Health, error) {
	payload, err := d.request(cmdGetHealth, nil, rspTypeHealth, healthLen)
	if err != nil {
		return Health{}, err
	}
	return parseHealth(payload)
}

// StartScan implements Sensor.
func (d *Device) StartScan(mode scan.Mode) (Stream, error) {
	if d.scanning {
		return nil, ErrScanActive
	}
	if err := d.startMotor(); err != nil {
		return nil, err
	}
	time.Sleep(d.opts.SpinupDelay)
	if err := d.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("driver: flush input: %w", err)
	}

	var (
		cmd      byte
		payload  []byte
		wantType byte
		wantLen  uint32
	)
	if mode == scan.ModeExpress {
		cmd, wantType, wantLen = cmdExpressScan, rspTypeExpressScan, expressCapsuleLen
		payload = make([]byte, 5) // working mode 0, reserved
	} else {
		cmd, wantType, wantLen = cmdScan, rspTypeScan, scanNodeLen
	}

	if _, err := d.port.Write(buildRequest(cmd, payload)); err != nil {
		return nil, fmt.Errorf("driver: start scan: %w", err)
	}
	desc, err := d.readDescriptor()
	if err != nil {
		d.stopMotor()
		return nil, err
	}
	if desc.dataType != wantType || desc.length != wantLen || desc.single {
		d.stopMotor()
		return nil, fmt.Errorf("driver: unexpected scan descriptor type=%02x len=%d", desc.dataType, desc.length)
	}

	if err := d.port.SetReadTimeout(d.opts.ReadTimeout); err != nil {
		d.stopMotor()
		return nil, fmt.Errorf("driver: set read timeout: %w", err)
	}
	d.scanning = true
	d.log.Info("scan started", log.String("mode", string(mode)))
	if mode == scan.ModeExpress {
		return newExpressStream(d), nil
	}
	return newStandardStream(d), nil
}

// StopScan implements Sensor.
func (d *Device) StopScan() error {
	if _, err := d.port.Write(buildRequest(cmdStop, nil)); err != nil {
		return fmt.Errorf("driver: stop scan: %w", err)
	}
	// The protocol requires a short pause before the next request.
	time.Sleep(10 * time.Millisecond)
	if err := d.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("driver: flush input: %w", err)
	}
	d.scanning = false
	if err := d.stopMotor(); err != nil {
		return err
	}
	d.log.Info("scan stopped")
	return nil
}

// Close implements Sensor.
func (d *Device) Close() error {
	if d.scanning {
		_ = d.StopScan()
	}
	return d.port.Close()
}

// The A1 has no motor command; the adapter ties motor power to DTR,
// active low.
func (d *Device) startMotor() error {
	if err := d.port.SetDTR(false); err != nil {
		return fmt.Errorf("driver: start motor: %w", err)
	}
	return nil
}

func (d *Device) stopMotor() error {
	if err := d.port.SetDTR(true); err != nil {
		return fmt.Errorf("driver: stop motor: %w", err)
	}
	return nil
}

// request sends a command and reads its single fixed-length response.
func (d *Device) request(cmd byte, payload []byte, wantType byte, wantLen uint32) ([]byte, error) {
	if d.scanning {
		return nil, ErrScanActive
	}
	if err := d.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("driver: flush input: %w", err)
	}
	if _, err := d.port.Write(buildRequest(cmd, payload)); err != nil {
		return nil, fmt.Errorf("driver: send %02x: %w", cmd, err)
	}
	desc, err := d.readDescriptor()
	if err != nil {
		return nil, err
	}
	if desc.dataType != wantType || desc.length != wantLen || !desc.single {
		return nil, fmt.Errorf("driver: unexpected descriptor type=%02x len=%d", desc.dataType, desc.length)
	}
	buf := make([]byte, wantLen)
	if err := d.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Device) readDescriptor() (descriptor, error) {
	buf := make([]byte, descriptorLen)
	if err := d.readFull(buf); err != nil {
		return descriptor{}, err
	}
	return parseDescriptor(buf)
}

// readFull fills buf from the serial port. go.bug.st returns n==0
// without error on timeout, which is mapped to a timeout error here.
func (d *Device) readFull(buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := d.port.Read(buf[off:])
		if err != nil {
			return fmt.Errorf("driver: read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("driver: read timeout after %d/%d bytes", off, len(buf))
		}
		off += n
	}
	return nil
}
