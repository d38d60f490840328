// Package watch implements the filesystem change feed that drives the
// controller's Debouncing state (spec §4.9, §6 CASS_WARM_DEBOUNCE_MS).
// Grounded on fyrsmithlabs-contextd/pkg/prefetch/detector.go's
// fsnotify.Watcher-plus-select-loop idiom (Start(ctx)/Stop()/event
// channel shape), generalized from a single-file git-HEAD watch into a
// recursive, debounced, multi-root watch over arbitrary source trees.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cass-dev/cass/internal/casserr"
)

// DefaultDebounce is used when CASS_WARM_DEBOUNCE_MS is unset (spec §6).
const DefaultDebounce = 2 * time.Second

// Watcher watches a set of directory trees and coalesces filesystem
// events into two signals: Debouncing fires the instant an event breaks
// a quiet period, Fire fires once the debounce window has elapsed with
// no further events (spec §5, "watcher coalesces events into eventually
// consistent within debounce window").
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	debouncing chan struct{}
	fire       chan struct{}

	closeOnce sync.Once
}

// New creates a Watcher with the given debounce window. Call AddRoots
// before Run to register directories, and Run to start processing.
func New(debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, casserr.Wrap(casserr.KindIO, err, "initializing filesystem watcher")
	}
	return &Watcher{
		fsw:        fsw,
		debounce:   debounce,
		logger:     logger,
		debouncing: make(chan struct{}, 1),
		fire:       make(chan struct{}, 1),
	}, nil
}

// AddRoots recursively registers every directory under each root with
// the underlying watcher. fsnotify only reports events for directories
// explicitly added, so a root's whole subtree must be walked up front;
// directories created later are picked up lazily the next time AddRoots
// is called (a full re-scan naturally calls it again).
func (w *Watcher) AddRoots(roots []string) error {
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// A missing/unreadable root is not fatal to the whole
				// watch session; skip it and keep walking siblings.
				if d == nil {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			if addErr := w.fsw.Add(path); addErr != nil {
				w.logger.Debug("failed to watch directory", zap.String("path", path), zap.Error(addErr))
			}
			return nil
		})
		if err != nil {
			return casserr.Wrap(casserr.KindIO, err, "walking watch root "+root)
		}
	}
	return nil
}

// Debouncing signals once per quiet-to-active transition: the first
// relevant event after a period with no pending timer.
func (w *Watcher) Debouncing() <-chan struct{} { return w.debouncing }

// Fire signals once the debounce window elapses with no intervening
// events, meaning the caller should run an incremental index pass.
func (w *Watcher) Fire() <-chan struct{} { return w.fire }

// Run processes filesystem events until ctx is cancelled or Close is
// called. It is meant to be run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			if timer == nil {
				nonBlockingSend(w.debouncing)
			} else {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			timer = nil
			timerC = nil
			nonBlockingSend(w.fire)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("filesystem watch error", zap.Error(err))
		}
	}
}

// Close releases the underlying OS watch handles. Safe to call more than
// once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// relevant filters out pure-metadata events (permission/attribute
// changes) that shouldn't trigger a re-scan.
func relevant(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
