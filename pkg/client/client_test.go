package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/uie-robotics/lidarstream/pkg/scan"
	"github.com/uie-robotics/lidarstream/pkg/wire"
)

// pipeDialer returns a dialer whose connections are served by srv on
// the other end of a net.Pipe.
func pipeDialer(srv func(conn net.Conn)) func(ctx context.Context, addr string) (net.Conn, error) {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		clientEnd, serverEnd := net.Pipe()
		go srv(serverEnd)
		return clientEnd, nil
	}
}

func testConfig() Config {
	return Config{Addr: "sensor:5000", Mode: scan.ModeStandard, Timeout: 500 * time.Millisecond}
}

func readToken(conn net.Conn) (string, error) {
	buf := make([]byte, wire.MaxTokenLen)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func TestConnectSendsModeToken(t *testing.T) {
	tokenCh := make(chan string, 1)
	c, err := New(testConfig(), WithDialer(pipeDialer(func(conn net.Conn) {
		tok, _ := readToken(conn)
		tokenCh <- tok
		conn.Close()
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case tok := <-tokenCh:
		if tok != "STANDARD" {
			t.Errorf("mode token = %q, want STANDARD", tok)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the mode token")
	}

	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestRecvRevolution(t *testing.T) {
	sent := []scan.Point{
		{Quality: scan.Q(12), Angle: 1.5, Distance: 820.25},
		{Quality: scan.Q(9), Angle: 2.25, Distance: 0},
		{Quality: scan.Q(14), Angle: 3.0, Distance: 815.5},
	}
	c, err := New(testConfig(), WithDialer(pipeDialer(func(conn net.Conn) {
		if _, err := readToken(conn); err != nil {
			return
		}
		_ = wire.WriteRevolution(conn, sent)
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	rev, err := c.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if rev.Mode != scan.ModeStandard {
		t.Errorf("Mode = %v, want standard", rev.Mode)
	}
	if rev.Captured.IsZero() {
		t.Error("Captured timestamp not set")
	}
	if diff := cmp.Diff(sent, rev.Points); diff != "" {
		t.Errorf("points mismatch (-sent +received):\n%s", diff)
	}
}

func TestRecvNotConnected(t *testing.T) {
	c, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Recv(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Recv = %v, want ErrNotConnected", err)
	}
}

func TestRecvTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	c, err := New(cfg, WithDialer(pipeDialer(func(conn net.Conn) {
		readToken(conn)
		// Never send anything.
		time.Sleep(time.Second)
		conn.Close()
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err = c.Recv()
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Recv = %v, want TimeoutError", err)
	}
	if te.Op != "recv" {
		t.Errorf("TimeoutError.Op = %q, want recv", te.Op)
	}
}

func TestRecvServerClosed(t *testing.T) {
	c, err := New(testConfig(), WithDialer(pipeDialer(func(conn net.Conn) {
		readToken(conn)
		conn.Close()
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err = c.Recv()
	var ce *ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("Recv = %v, want ConnError", err)
	}
	// Connection is dropped; further receives report not connected.
	if _, err := c.Recv(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Recv after drop = %v, want ErrNotConnected", err)
	}
}

func TestRecvOversizedFrame(t *testing.T) {
	c, err := New(testConfig(), WithDialer(pipeDialer(func(conn net.Conn) {
		readToken(conn)
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], wire.MaxPayload+1)
		conn.Write(hdr[:])
	})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err = c.Recv()
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("Recv = %v, want DataError", err)
	}
	// A bogus length desynchronizes framing, so the client must drop
	// the connection rather than try to resync.
	if _, err := c.Recv(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Recv after oversized frame = %v, want ErrNotConnected", err)
	}
}

func TestConnectWithRetry(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = 10 * time.Millisecond

	var attempts int
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("connection refused")
		}
		clientEnd, serverEnd := net.Pipe()
		go func() {
			readToken(serverEnd)
		}()
		return clientEnd, nil
	}

	c, err := New(cfg, WithDialer(dial))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.ConnectWithRetry(context.Background()); err != nil {
		t.Fatalf("ConnectWithRetry: %v", err)
	}
	defer c.Close()
	if attempts != 3 {
		t.Errorf("dial attempts = %d, want 3", attempts)
	}
}

func TestConnectWithRetryExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond

	var attempts int
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		attempts++
		return nil, fmt.Errorf("connection refused")
	}
	c, err := New(cfg, WithDialer(dial))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.ConnectWithRetry(context.Background())
	var ce *ConnError
	if !errors.As(err, &ce) {
		t.Fatalf("ConnectWithRetry = %v, want ConnError", err)
	}
	if attempts != 3 {
		t.Errorf("dial attempts = %d, want 3 (1 + 2 retries)", attempts)
	}
}

func TestConnectWithRetryCanceled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 50
	cfg.RetryDelay = 20 * time.Millisecond

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}
	c, err := New(cfg, WithDialer(dial))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := c.ConnectWithRetry(ctx); err == nil {
		t.Fatal("ConnectWithRetry should fail once the context is canceled")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ConnectWithRetry kept retrying for %v after cancellation", elapsed)
	}
}

func TestStreamReconnects(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = scan.ModeExpress
	cfg.RetryDelay = time.Millisecond

	points := []scan.Point{
		{Angle: 10, Distance: 1000},
		{Angle: 20, Distance: 1010},
	}
	var conns int
	dial := pipeDialer(func(conn net.Conn) {
		defer conn.Close()
		if _, err := readToken(conn); err != nil {
			return
		}
		// One revolution per connection, then hang up.
		_ = wire.WriteRevolution(conn, points)
	})
	c, err := New(cfg, WithDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		conns++
		return dial(ctx, addr)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var got int
	stop := errors.New("enough")
	err = c.Stream(context.Background(), func(rev scan.Revolution) error {
		if len(rev.Points) != 2 {
			t.Errorf("revolution has %d points, want 2", len(rev.Points))
		}
		got++
		if got == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Stream = %v, want handler sentinel", err)
	}
	if got != 3 {
		t.Errorf("received %d revolutions, want 3", got)
	}
	if conns < 3 {
		t.Errorf("dialed %d times, want at least 3 (one per revolution)", conns)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing addr", func(c *Config) { c.Addr = "" }, true},
		{"bad mode", func(c *Config) { c.Mode = "turbo" }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			cfg.SetDefaults()
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
