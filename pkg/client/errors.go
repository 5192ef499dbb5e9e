package client

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for misuse of the client lifecycle.
var (
	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("lidarstream: already connected")

	// ErrNotConnected is returned by Recv before Connect or after the
	// connection has been lost.
	ErrNotConnected = errors.New("lidarstream: not connected")
)

// ConnError reports a failure to establish or keep the TCP connection.
type ConnError struct {
	Addr string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("lidarstream: connection to %s: %v", e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// TimeoutError reports that an operation exceeded its deadline.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lidarstream: %s timed out after %s", e.Op, e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout implements the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// DataError reports a frame that was rejected before or during
// deserialization.
type DataError struct {
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lidarstream: bad data: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("lidarstream: bad data: %s", e.Reason)
}

func (e *DataError) Unwrap() error { return e.Err }
