// Package watcher reloads the server config file while the daemon is
// running. Only live-applicable settings (currently the log level) take
// effect; anything else logs a restart-required notice.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/uie-robotics/lidarstream/internal/cliconfig"
	"github.com/uie-robotics/lidarstream/pkg/log"
)

// Watcher monitors one TOML config file for changes.
type Watcher struct {
	path     string
	debounce time.Duration
	log      log.Logger
	onChange func(cliconfig.ServerFileConfig)

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a Watcher. onChange is called with the re-parsed file
// after each (debounced) change.
func New(path string, logger log.Logger, onChange func(cliconfig.ServerFileConfig)) *Watcher {
	if logger == nil {
		logger = log.Noop{}
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: 100 * time.Millisecond,
		log:      logger,
		onChange: onChange,
	}
}

// Run watches until ctx is canceled. The parent directory is watched
// rather than the file itself, since editors and provisioning tools
// replace config files instead of rewriting them.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Info("watching config", log.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", log.Err(err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	fc, err := cliconfig.LoadServerFileConfig(w.path)
	if err != nil {
		w.log.Warn("config reload failed", log.Err(err))
		return
	}
	w.log.Info("config file changed", log.String("path", w.path))
	w.onChange(fc)
}
