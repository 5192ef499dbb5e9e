package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uie-robotics/lidarstream/internal/cliconfig"
	"github.com/uie-robotics/lidarstream/pkg/log"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	if err := os.WriteFile(path, []byte("[server]\nlog_level = \"info\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changes := make(chan cliconfig.ServerFileConfig, 4)
	w := New(path, log.Noop{}, func(fc cliconfig.ServerFileConfig) {
		changes <- fc
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// Give the watcher a moment to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[server]\nlog_level = \"debug\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case fc := <-changes:
		if fc.Server.LogLevel != "debug" {
			t.Errorf("reloaded log level = %q, want debug", fc.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config write")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	if err := os.WriteFile(path, []byte("[server]\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	changes := make(chan cliconfig.ServerFileConfig, 4)
	w := New(path, log.Noop{}, func(fc cliconfig.ServerFileConfig) {
		changes <- fc
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}

	select {
	case <-changes:
		t.Error("reload fired for an unrelated file")
	case <-time.After(400 * time.Millisecond):
	}
}
