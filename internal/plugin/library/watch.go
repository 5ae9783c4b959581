package library

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used by Watch when debounce is not positive.
const DefaultDebounce = 250 * time.Millisecond

// Watch reports changes to installed packages to update listeners until
// ctx is done. Bursts of events under one package are collapsed into a
// single notification after debounce of quiet time.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("library: create watcher: %w", err)
	}
	defer w.Close()

	if err := addRecursive(w, l.dir); err != nil {
		return fmt.Errorf("library: watch %s: %w", l.dir, err)
	}
	l.log.Info().Str("path", l.dir).Msg("Library watcher started")

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[id]; ok {
			t.Stop()
		}
		timers[id] = time.AfterFunc(debounce, func() {
			mu.Lock()
			delete(timers, id)
			mu.Unlock()
			if ctx.Err() != nil || !l.IsInstalled(id) {
				return
			}
			l.log.Debug().Str("plugin", id).Msg("Package changed on disk")
			l.notify(id)
		})
	}

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("Library watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			id := l.packageOf(ev.Name)
			if id == "" {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				_ = addRecursive(w, ev.Name)
			}
			schedule(id)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// packageOf returns the plugin id owning path, or "" for paths outside a
// package directory (the index file, staging dirs).
func (l *Library) packageOf(path string) string {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	id := parts[0]
	if strings.HasPrefix(id, ".") || strings.HasSuffix(id, ".old") {
		return ""
	}
	for _, p := range parts[1:] {
		if strings.HasPrefix(p, ".") {
			return ""
		}
	}
	return id
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
