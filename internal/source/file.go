package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/logsentinel/logsentinel/internal/normalize"
	"github.com/logsentinel/logsentinel/internal/types"
)

// DefaultPattern selects the files a FileSource reads when Pattern is empty.
const DefaultPattern = "*.log"

// FileSource watches a directory and emits one Event per complete line
// appended to any file matching Pattern. Rotated or truncated files are
// re-read from the start; a line without its trailing newline is left for
// the next change.
type FileSource struct {
	Dir          string
	Pattern      string
	ReadExisting bool // consume files already present at start
	SourceID     string
	Logger       *zap.Logger

	counters
	offsets   map[string]int64
	readyOnce sync.Once
	ready     chan struct{}
	closeOnce sync.Once
}

// ID implements Source.
func (f *FileSource) ID() string {
	if f.SourceID != "" {
		return f.SourceID
	}
	return "file:" + f.Dir
}

// Ready is closed once the directory is watched and files present at start
// have been handled.
func (f *FileSource) Ready() <-chan struct{} {
	f.readyOnce.Do(func() { f.ready = make(chan struct{}) })
	return f.ready
}

// Stats returns the adapter counters.
func (f *FileSource) Stats() Stats {
	return f.snapshot(StatusRunning)
}

// Stream implements Source.
func (f *FileSource) Stream(ctx context.Context, out Sink) error {
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("source", f.ID()))
	if f.Pattern == "" {
		f.Pattern = DefaultPattern
	}
	if _, err := filepath.Match(f.Pattern, ""); err != nil {
		return fmt.Errorf("file pattern %q: %w", f.Pattern, err)
	}
	f.offsets = make(map[string]int64)

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(f.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", f.Dir, err)
	}

	f.scanExisting(ctx, out, log)
	ready := f.Ready()
	f.closeOnce.Do(func() { close(ready) })
	log.Info("watching directory", zap.String("dir", f.Dir), zap.String("pattern", f.Pattern))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			f.handle(ctx, ev, out, log)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.fail(err)
			log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (f *FileSource) scanExisting(ctx context.Context, out Sink, log *zap.Logger) {
	paths, _ := filepath.Glob(filepath.Join(f.Dir, f.Pattern))
	sort.Strings(paths)
	for _, p := range paths {
		if f.ReadExisting {
			f.consume(ctx, p, out, log)
			continue
		}
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			f.offsets[p] = info.Size()
		}
	}
}

func (f *FileSource) handle(ctx context.Context, ev fsnotify.Event, out Sink, log *zap.Logger) {
	if ok, _ := filepath.Match(f.Pattern, filepath.Base(ev.Name)); !ok {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(f.offsets, ev.Name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		f.consume(ctx, ev.Name, out, log)
	}
}

// consume reads path from its last offset up to the last complete line.
func (f *FileSource) consume(ctx context.Context, path string, out Sink, log *zap.Logger) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			delete(f.offsets, path)
			return
		}
		f.fail(err)
		log.Warn("open failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	off := f.offsets[path]
	if info.Size() < off {
		log.Info("file truncated, reading from start", zap.String("path", path))
		off = 0
	}
	if _, err := file.Seek(off, io.SeekStart); err != nil {
		f.fail(err)
		return
	}

	r := bufio.NewReader(file)
	for ctx.Err() == nil {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.fail(err)
				log.Warn("read failed", zap.String("path", path), zap.Error(err))
			}
			break
		}
		off += int64(len(line))
		f.offsets[path] = off
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		f.deliver(ctx, out, normalize.Line(text, time.Now(), types.SourceFile))
	}
	f.offsets[path] = off
}
