// Package client implements the TCP client for a lidarstream server.
//
// A Client connects, announces its scan mode, and then receives one
// revolution per Recv call. Connection, timeout, and data errors are
// distinguishable with errors.As so callers can decide what is
// retryable.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
	"github.com/uie-robotics/lidarstream/pkg/wire"
)

// Config holds client settings.
type Config struct {
	// Addr is the server address as host:port.
	Addr string

	// Mode is the scan mode requested on connect.
	Mode scan.Mode

	// Timeout applies to dialing and to each receive.
	Timeout time.Duration

	// MaxRetries is the number of additional connection attempts made
	// by ConnectWithRetry. Zero means a single attempt.
	MaxRetries int

	// RetryDelay is the fixed pause between connection attempts.
	RetryDelay time.Duration
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = scan.DefaultMode
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if _, err := scan.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// Option configures optional client behavior.
type Option func(*Client)

// WithLogger sets a structured logger. Default is no output.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithDialer replaces the TCP dialer, mainly for tests.
func WithDialer(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// Client receives LIDAR revolutions from a lidarstream server.
// Methods are safe for use from a single goroutine; guard concurrent
// use externally.
type Client struct {
	cfg  Config
	log  log.Logger
	dial func(ctx context.Context, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

// New creates a Client. The connection is not opened until Connect.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, log: log.Noop{}}
	c.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.Timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the server and sends the mode token.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx, c.cfg.Addr)
	if err != nil {
		return c.classifyDialErr(err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		conn.Close()
		return &ConnError{Addr: c.cfg.Addr, Err: err}
	}
	if err := wire.WriteModeToken(conn, c.cfg.Mode); err != nil {
		conn.Close()
		return &ConnError{Addr: c.cfg.Addr, Err: err}
	}
	conn.SetWriteDeadline(time.Time{})

	c.conn = conn
	c.log.Info("connected",
		log.String("addr", c.cfg.Addr),
		log.String("mode", string(c.cfg.Mode)))
	return nil
}

// ConnectWithRetry dials with a bounded number of attempts, pausing a
// fixed RetryDelay between them. With MaxRetries zero it is identical
// to Connect.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAlreadyConnected) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		c.log.Warn("connect failed, retrying",
			log.Int("attempt", attempt),
			log.Int("attempts", attempts),
			log.Duration("delay", c.cfg.RetryDelay),
			log.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	c.log.Error("connect failed", log.Int("attempts", attempts), log.Err(lastErr))
	return lastErr
}

// Recv reads the next revolution from the stream. The configured
// Timeout bounds the whole receive; a slow or stalled server surfaces
// as a TimeoutError.
func (c *Client) Recv() (scan.Revolution, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return scan.Revolution{}, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return scan.Revolution{}, c.dropConn(err)
	}
	points, err := wire.ReadRevolution(conn)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrPayloadSize):
			// Framing is no longer trustworthy after a bad length.
			c.dropConn(err)
			return scan.Revolution{}, &DataError{Reason: "frame size out of bounds", Err: err}
		case errors.Is(err, wire.ErrBadPayload):
			return scan.Revolution{}, &DataError{Reason: "undecodable revolution", Err: err}
		case isTimeout(err):
			return scan.Revolution{}, &TimeoutError{Op: "recv", Duration: c.cfg.Timeout, Err: err}
		default:
			return scan.Revolution{}, c.dropConn(err)
		}
	}

	return scan.Revolution{
		Mode:     c.cfg.Mode,
		Captured: time.Now().UTC(),
		Points:   points,
	}, nil
}

// Stream receives revolutions until ctx is canceled or fn returns an
// error, reconnecting (with the configured retry policy) whenever the
// connection drops. Decode errors on an otherwise healthy stream skip
// the revolution.
func (c *Client) Stream(ctx context.Context, fn func(scan.Revolution) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		connected := c.conn != nil
		c.mu.Unlock()
		if !connected {
			if err := c.ConnectWithRetry(ctx); err != nil {
				return err
			}
		}

		rev, err := c.Recv()
		if err != nil {
			var dataErr *DataError
			if errors.As(err, &dataErr) {
				c.mu.Lock()
				stillConnected := c.conn != nil
				c.mu.Unlock()
				if stillConnected {
					c.log.Warn("skipping undecodable revolution", log.Err(err))
					continue
				}
			}
			c.log.Warn("stream interrupted, reconnecting", log.Err(err))
			c.Close()
			continue
		}
		if err := fn(rev); err != nil {
			return err
		}
	}
}

// Close disconnects from the server. It is safe to call when already
// disconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.log.Info("disconnected", log.String("addr", c.cfg.Addr))
	return err
}

// dropConn closes the connection after a fatal stream error and wraps
// the cause as a ConnError.
func (c *Client) dropConn(cause error) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	if errors.Is(cause, io.EOF) || errors.Is(cause, io.ErrUnexpectedEOF) {
		return &ConnError{Addr: c.cfg.Addr, Err: fmt.Errorf("server closed the connection: %w", cause)}
	}
	return &ConnError{Addr: c.cfg.Addr, Err: cause}
}

func (c *Client) classifyDialErr(err error) error {
	if isTimeout(err) {
		return &TimeoutError{Op: "connect", Duration: c.cfg.Timeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ConnError{Addr: c.cfg.Addr, Err: err}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
