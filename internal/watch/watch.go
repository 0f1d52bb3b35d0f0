// Package watch surfaces external modifications to a canvas folder.
//
// The engine assumes it is the only writer of an open canvas; this watcher
// exists so a caller can notice edits made behind its back (sync clients,
// manual fixes) and decide what to do about them. Nothing here feeds changes
// back into an open session.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Per-path callback budget. Editors often write the same file several times
// in quick succession; a couple of events per second is plenty for display.
const (
	eventsPerSecond = rate.Limit(2)
	eventBurst      = 1
)

const (
	nodesDir = "nodes"
	edgesDir = "edges"
)

// Event is one filesystem change that survived rate limiting.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watch observes a canvas directory and its nodes/ and edges/ subtrees until
// ctx is done. Entity folders created while watching are picked up as they
// appear. onEvent runs on the watcher goroutine, so it must return promptly
// or events will back up.
func Watch(ctx context.Context, dir string, onEvent func(Event)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := addTree(w, dir); err != nil {
		return err
	}

	limiters := map[string]*rate.Limiter{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && insideEntityTree(dir, event.Name) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					// Children may already exist if the folder was populated
					// faster than the event arrived, so sweep the subtree.
					if err := watchAll(w, event.Name); err != nil {
						slog.WarnContext(ctx, "Failed to watch new folder", "path", event.Name, "err", err)
					}
				}
			}
			l := limiters[event.Name]
			if l == nil {
				l = rate.NewLimiter(eventsPerSecond, eventBurst)
				limiters[event.Name] = l
			}
			if l.Allow() {
				onEvent(Event{Path: event.Name, Op: event.Op})
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Watcher error", "err", err)
		}
	}
}

// addTree registers the canvas root and everything under nodes/ and edges/.
// The node store nests a data/ level inside each entity folder, so the walk
// goes all the way down.
func addTree(w *fsnotify.Watcher, dir string) error {
	if err := w.Add(dir); err != nil {
		return err
	}
	for _, sub := range []string{nodesDir, edgesDir} {
		root := filepath.Join(dir, sub)
		if _, err := os.Stat(root); err != nil {
			// Fresh canvas; the create event registers it later.
			continue
		}
		if err := watchAll(w, root); err != nil {
			return err
		}
	}
	return nil
}

// watchAll registers root and every directory below it.
func watchAll(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return w.Add(path)
	})
}

// insideEntityTree reports whether path sits under dir's nodes/ or edges/
// subtree, the subtree roots included.
func insideEntityTree(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first == nodesDir || first == edgesDir
}
