// Package wire implements the length-prefixed frame protocol spoken
// between the LIDAR server and its clients.
//
// A session starts with the client sending a short ASCII mode token
// ("STANDARD", "NORMAL" or "EXPRESS"). After that the server streams
// revolutions, each framed as a 4-byte big-endian payload length
// followed by a CBOR-encoded array of points.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

const (
	// MaxPayload bounds a frame before any allocation happens. An express
	// revolution of ~800 points encodes to well under 32 KiB; anything
	// near the cap indicates stream corruption.
	MaxPayload = 256 << 10

	// MinPayload is the smallest payload a well-formed revolution can
	// produce; a single encoded point is ~20 bytes, and the server never
	// emits an empty revolution.
	MinPayload = 16

	// MaxTokenLen bounds the mode token read on connect.
	MaxTokenLen = 10
)

var (
	// ErrPayloadSize is returned when a frame length is outside
	// [MinPayload, MaxPayload]; the payload is not read.
	ErrPayloadSize = errors.New("wire: payload size out of bounds")

	// ErrBadPayload is returned when a payload cannot be decoded.
	ErrBadPayload = errors.New("wire: malformed payload")
)

// point is the wire shape of scan.Point: a 3-element CBOR array
// [quality, angle, distance], with quality null in express mode.
type point struct {
	_        struct{} `cbor:",toarray"`
	Quality  *uint8
	Angle    float64
	Distance float64
}

// EncodeRevolution serializes points to the CBOR payload format.
func EncodeRevolution(points []scan.Point) ([]byte, error) {
	wp := make([]point, len(points))
	for i, p := range points {
		wp[i] = point{Quality: p.Quality, Angle: p.Angle, Distance: p.Distance}
	}
	return cbor.Marshal(wp)
}

// DecodeRevolution parses a CBOR payload back into points.
func DecodeRevolution(payload []byte) ([]scan.Point, error) {
	var wp []point
	if err := cbor.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	points := make([]scan.Point, len(wp))
	for i, p := range wp {
		if p.Quality != nil && *p.Quality > 15 {
			return nil, fmt.Errorf("%w: quality %d out of range", ErrBadPayload, *p.Quality)
		}
		points[i] = scan.Point{Quality: p.Quality, Angle: p.Angle, Distance: p.Distance}
	}
	return points, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) < MinPayload || len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadSize, len(payload))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame, rejecting out-of-bounds
// sizes before reading the payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n < MinPayload || n > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadSize, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteRevolution encodes and frames one revolution.
func WriteRevolution(w io.Writer, points []scan.Point) error {
	payload, err := EncodeRevolution(points)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadRevolution reads and decodes one framed revolution.
func ReadRevolution(r io.Reader) ([]scan.Point, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeRevolution(payload)
}

// WriteModeToken sends the session mode token.
func WriteModeToken(w io.Writer, m scan.Mode) error {
	_, err := io.WriteString(w, m.Token())
	return err
}

// ReadModeToken reads a single mode token with one short read, the way
// the server greets a new client. An empty read (client sent nothing
// yet) surfaces the underlying error so the caller can apply its
// default mode on timeout.
func ReadModeToken(r io.Reader) (scan.Mode, error) {
	buf := make([]byte, MaxTokenLen)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return "", err
	}
	return scan.ParseMode(string(buf[:n]))
}
