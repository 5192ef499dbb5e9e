// Package server implements the one-client-at-a-time TCP streaming
// server. The sensor idles until a client connects; the client's first
// bytes pick the scan mode; revolutions are then streamed until the
// client goes away, at which point the scan stops and the server goes
// back to waiting.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/uie-robotics/lidarstream/internal/driver"
	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
	"github.com/uie-robotics/lidarstream/pkg/wire"
)

// Config holds server settings.
type Config struct {
	// ListenAddr is the TCP address to bind, e.g. ":5000".
	ListenAddr string

	// TokenTimeout is how long to wait for the client's mode token
	// before falling back to the default mode.
	TokenTimeout time.Duration

	// WriteTimeout bounds each revolution write; a client that stops
	// reading is treated as disconnected.
	WriteTimeout time.Duration
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":5000"
	}
	if c.TokenTimeout <= 0 {
		c.TokenTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Server accepts one client at a time and streams revolutions to it.
type Server struct {
	cfg    Config
	sensor driver.Sensor
	log    log.Logger
}

// New creates a Server around an opened sensor.
func New(cfg Config, sensor driver.Sensor, logger log.Logger) *Server {
	cfg.SetDefaults()
	if logger == nil {
		logger = log.Noop{}
	}
	return &Server{cfg: cfg, sensor: sensor, log: logger}
}

// Run listens on the configured address and serves until ctx is
// canceled. Client disconnects and per-session errors are logged, not
// returned.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	// Unblock Accept when the context ends.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("listening", log.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		s.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Info("waiting for client")
	}
}

// serve handles one client session synchronously.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.log.Info("client connected", log.String("remote", remote))

	mode := s.readMode(conn, remote)

	stream, err := s.sensor.StartScan(mode)
	if err != nil {
		s.log.Error("start scan failed", log.Err(err))
		return
	}
	defer func() {
		if err := s.sensor.StopScan(); err != nil {
			s.log.Warn("stop scan failed", log.Err(err))
		}
	}()

	revs := 0
	defer func() {
		s.log.Info("client disconnected",
			log.String("remote", remote),
			log.Int("revolutions", revs))
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		rev, err := stream.Next()
		if err != nil {
			s.log.Error("sensor read failed", log.Err(err))
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return
		}
		if err := wire.WriteRevolution(conn, rev.Points); err != nil {
			// Client hung up or stalled; end the session quietly.
			s.log.Debug("write failed", log.String("remote", remote), log.Err(err))
			return
		}
		revs++
		s.log.Debug("revolution sent",
			log.Int("rev", revs),
			log.Int("points", len(rev.Points)),
			log.String("mode", string(mode)))
	}
}

// readMode reads the client's mode token, falling back to the default
// mode on timeout or garbage.
func (s *Server) readMode(conn net.Conn, remote string) scan.Mode {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.TokenTimeout)); err != nil {
		return scan.DefaultMode
	}
	defer conn.SetReadDeadline(time.Time{})

	mode, err := wire.ReadModeToken(conn)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.log.Warn("no mode token, using default",
				log.String("remote", remote),
				log.String("mode", string(scan.DefaultMode)))
		} else {
			s.log.Warn("bad mode token, using default",
				log.String("remote", remote),
				log.Err(err))
		}
		return scan.DefaultMode
	}
	s.log.Info("scan mode set", log.String("remote", remote), log.String("mode", string(mode)))
	return mode
}
