package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watcher signals every change of one state file.
//
// The state directory is watched rather than the file, because saves replace the
// file by renaming a temporary one over it. When the directory does not exist yet
// its parent is watched until the directory appears.
type Watcher struct {
	stateFile string
	stateDir  string
	watcher   *fsnotify.Watcher
	changes   chan struct{}
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for stateFile.
func NewWatcher(stateFile string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	abs := filepath.Clean(stateFile)
	return &Watcher{
		stateFile: abs,
		stateDir:  filepath.Dir(abs),
		watcher:   fw,
		changes:   make(chan struct{}, 1),
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Call Close to release it.
func (w *Watcher) Start(ctx context.Context) error {
	target := w.stateDir
	if _, err := os.Stat(w.stateDir); errors.Is(err, os.ErrNotExist) {
		target = filepath.Dir(w.stateDir)
	}
	if err := w.watcher.Add(target); err != nil {
		return fmt.Errorf("watching %s: %w", target, err)
	}
	go w.loop(ctx)
	return nil
}

// Changes delivers one value per burst of changes to the state file.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("state watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if name == w.stateDir && event.Has(fsnotify.Create) {
		if err := w.watcher.Add(w.stateDir); err != nil {
			w.logger.Warn("failed to watch state directory", zap.String("dir", w.stateDir), zap.Error(err))
			return
		}
		// the file may have been written before the directory was added
		w.notify()
		return
	}
	if name == w.stateFile {
		w.notify()
	}
}

// notify coalesces signals the consumer has not picked up yet.
func (w *Watcher) notify() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}
