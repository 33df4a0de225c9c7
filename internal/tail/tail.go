// Package tail follows growing log files and yields complete lines.
// Files are watched through their parent directories so that rotation
// (rename + create) and truncation are picked up.
package tail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/logsink/pkg/log"
)

// Line is one complete line read from a followed file.
type Line struct {
	Path string
	Text string
}

// Config controls where reading starts and whether to keep following.
type Config struct {
	// FromStart reads existing content; otherwise only appended lines are yielded.
	FromStart bool

	// Once reads up to the current end of every file and returns.
	Once bool

	// PollInterval rechecks files in case a notification was missed.
	// Default: 1 second
	PollInterval time.Duration
}

// Follower reads lines from a set of files.
type Follower struct {
	cfg    Config
	paths  []string
	logger log.Logger

	mu    sync.Mutex
	files map[string]*followed
}

type followed struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial []byte
}

// New creates a follower for paths.
func New(cfg Config, paths []string, logger log.Logger) *Follower {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	clean := make([]string, len(paths))
	for i, p := range paths {
		clean[i] = filepath.Clean(p)
	}
	return &Follower{
		cfg:    cfg,
		paths:  clean,
		logger: logger,
		files:  make(map[string]*followed),
	}
}

// Run yields lines to emit until ctx is canceled, or until every file has
// been read to its end when Once is set.
func (f *Follower) Run(ctx context.Context, emit func(Line)) error {
	defer f.closeAll()

	for _, p := range f.paths {
		if err := f.open(p, f.cfg.FromStart || f.cfg.Once); err != nil {
			if f.cfg.Once || !errors.Is(err, os.ErrNotExist) {
				return err
			}
			f.logger.Warn("file does not exist yet, waiting for it", log.String("path", p))
		}
	}

	if f.cfg.Once {
		for _, p := range f.paths {
			f.drain(p, emit, true)
		}
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dirs := make(map[string]bool)
	for _, p := range f.paths {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	for _, p := range f.paths {
		f.drain(p, emit, false)
	}

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p := filepath.Clean(ev.Name)
			if !f.watched(p) {
				continue
			}
			switch {
			case ev.Op&fsnotify.Create != 0 && f.current(p):
				f.drain(p, emit, false)
			case ev.Op&fsnotify.Create != 0:
				f.logger.Info("file created, reopening", log.String("path", p))
				f.drain(p, emit, true)
				f.close(p)
				if err := f.open(p, true); err != nil {
					f.logger.Warn("reopen failed", log.String("path", p), log.Err(err))
					continue
				}
				f.drain(p, emit, false)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// read what the old handle still has, then wait for a new file
				f.drain(p, emit, true)
				f.close(p)
			case ev.Op&fsnotify.Write != 0:
				f.drain(p, emit, false)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("watcher error", log.Err(err))

		case <-ticker.C:
			for _, p := range f.paths {
				if !f.isOpen(p) {
					if err := f.open(p, true); err == nil {
						f.logger.Info("file appeared", log.String("path", p))
					}
				}
				f.drain(p, emit, false)
			}
		}
	}
}

func (f *Follower) watched(p string) bool {
	for _, w := range f.paths {
		if w == p {
			return true
		}
	}
	return false
}

func (f *Follower) isOpen(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

// current reports whether the open handle for p still refers to the file at p.
func (f *Follower) current(p string) bool {
	f.mu.Lock()
	fl, ok := f.files[p]
	f.mu.Unlock()
	if !ok {
		return false
	}
	held, err := fl.file.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(p)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

func (f *Follower) open(p string, fromStart bool) error {
	file, err := os.Open(p)
	if err != nil {
		return err
	}

	var offset int64
	if !fromStart {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return fmt.Errorf("seek %s: %w", p, err)
		}
	}

	f.mu.Lock()
	f.files[p] = &followed{path: p, file: file, reader: bufio.NewReader(file), offset: offset}
	f.mu.Unlock()
	return nil
}

func (f *Follower) close(p string) {
	f.mu.Lock()
	fl, ok := f.files[p]
	delete(f.files, p)
	f.mu.Unlock()
	if ok {
		fl.file.Close()
	}
}

func (f *Follower) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, fl := range f.files {
		fl.file.Close()
		delete(f.files, p)
	}
}

// drain reads complete lines up to the current end of the file. With flush
// set, a trailing line without newline is emitted too.
func (f *Follower) drain(p string, emit func(Line), flush bool) {
	f.mu.Lock()
	fl, ok := f.files[p]
	f.mu.Unlock()
	if !ok {
		return
	}

	if info, err := fl.file.Stat(); err == nil && info.Size() < fl.offset {
		f.logger.Info("file truncated, reading from start", log.String("path", p))
		if _, err := fl.file.Seek(0, io.SeekStart); err != nil {
			f.logger.Error("seek failed", log.String("path", p), log.Err(err))
			return
		}
		fl.reader.Reset(fl.file)
		fl.offset = 0
		fl.partial = nil
	}

	for {
		chunk, err := fl.reader.ReadBytes('\n')
		fl.offset += int64(len(chunk))
		if err == nil {
			line := append(fl.partial, chunk...)
			fl.partial = nil
			emit(Line{Path: p, Text: string(bytes.TrimRight(line, "\r\n"))})
			continue
		}

		fl.partial = append(fl.partial, chunk...)
		if !errors.Is(err, io.EOF) {
			f.logger.Error("read failed", log.String("path", p), log.Err(err))
		}
		if flush && len(fl.partial) > 0 {
			emit(Line{Path: p, Text: string(bytes.TrimRight(fl.partial, "\r\n"))})
			fl.partial = nil
		}
		return
	}
}

// ReadLines yields every line of r until EOF or ctx is canceled.
func ReadLines(ctx context.Context, r io.Reader, emit func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		emit(sc.Text())
	}
	return sc.Err()
}
