package credstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of file events into one callback.
const DefaultWatchDebounce = 150 * time.Millisecond

// Watch calls onChange whenever another process rewrites the providers
// file. Writes made through this Store are ignored. It blocks until ctx is
// done and returns nil, or returns an error if the watch cannot be set up.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The file is replaced by rename, so watch the directory rather than the inode.
	if err := watcher.Add(dir); err != nil {
		return err
	}
	s.log.Debug("watching providers file", "path", s.path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	fire := func() {
		if s.changedExternally() {
			s.log.Info("providers file changed on disk")
			onChange()
		}
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fire)
			timerMu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("providers watcher error", "error", err)
		}
	}
}

// changedExternally reports whether the file on disk differs from our own last write.
func (s *Store) changedExternally() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		// removed by someone else
		return !s.lastWriteMod.IsZero() || !os.IsNotExist(err)
	}
	return !info.ModTime().Equal(s.lastWriteMod)
}
