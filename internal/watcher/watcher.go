// Package watcher reports changes to the settings file so a running server
// can restart with the new configuration.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce collapses the burst of events editors produce on save.
const DefaultDebounce = 200 * time.Millisecond

// Change describes what happened to the watched file.
type Change int

const (
	Modified Change = iota
	Deleted
)

func (c Change) String() string {
	if c == Deleted {
		return "deleted"
	}
	return "modified"
}

// Watcher monitors a single file. It watches the parent directory, since
// fsnotify cannot follow a file that is replaced or removed.
type Watcher struct {
	onChange   func(Change)
	fsw        *fsnotify.Watcher
	targetPath string
	parentPath string
	debounce   time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher for targetPath. The parent directory must exist.
func New(targetPath string, onChange func(Change), opts ...Option) (*Watcher, error) {
	parent := filepath.Dir(filepath.Clean(targetPath))
	if _, err := os.Stat(parent); err != nil {
		return nil, fmt.Errorf("watch %s: %w", parent, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(parent); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", parent, err)
	}

	w := &Watcher{
		targetPath: filepath.Clean(targetPath),
		parentPath: parent,
		onChange:   onChange,
		fsw:        fsw,
		debounce:   DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run delivers debounced changes until ctx is done. The callback runs on
// the Run goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.targetPath || !relevant(event.Op) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			// The final state decides: a remove followed by a create is an atomic save.
			change := Modified
			if _, err := os.Stat(w.targetPath); os.IsNotExist(err) {
				change = Deleted
			}
			log.Info().Str("path", w.targetPath).Str("change", change.String()).Msg("Watched file changed")
			if w.onChange != nil {
				w.onChange(change)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("path", w.parentPath).Msg("Watcher error")
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}
