package routing

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/eyes/internal/config"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
)

// DefaultDebounce collapses the burst of events editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-applies the routing section of the config file whenever it changes.
type Watcher struct {
	path     string
	applier  Applier
	debounce time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	reloads int
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, applier Applier) *Watcher {
	return &Watcher{
		path:     path,
		applier:  applier,
		debounce: DefaultDebounce,
		logger:   xlog.WithComponent("routing"),
	}
}

// WithDebounce overrides the debounce window.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Reload reads the file and applies its routing seeds.
func (w *Watcher) Reload(ctx context.Context) error {
	file, err := config.LoadFile(w.path)
	if err != nil {
		return err
	}
	applied, err := Apply(ctx, w.applier, file.Routing)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Info().
		Str("path", w.path).
		Int("applied", applied).
		Int("seeds", len(file.Routing)).
		Msg("routing reloaded")
	return err
}

// Reloads reports how many reloads have run.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Run watches the file until ctx is done. The parent directory is watched so
// that editors replacing the file by rename are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info().Str("path", w.path).Msg("watching routing file")

	target := filepath.Clean(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("routing watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if err := w.Reload(ctx); err != nil {
					w.logger.Error().Err(err).Str("path", w.path).Msg("routing reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("routing watcher error")
		}
	}
}
