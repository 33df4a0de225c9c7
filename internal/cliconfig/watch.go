package cliconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logsink/pkg/log"
)

// DefaultWatchDebounce is how long WatchFile waits for writes to settle.
const DefaultWatchDebounce = 200 * time.Millisecond

// WatchFile calls onChange after the file at path is written, created or
// replaced, once no further change has been seen for debounce. It blocks
// until ctx is canceled. onChange never runs concurrently with itself.
func WatchFile(ctx context.Context, path string, debounce time.Duration, logger log.Logger, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = log.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		mu      sync.Mutex
		timer   *time.Timer
		running sync.Mutex
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		running.Lock()
		defer running.Unlock()
		onChange()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fire)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", log.String("path", abs), log.Err(err))
		}
	}
}
