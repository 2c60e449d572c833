// Package watcher observes the storage root and pushes change notifications
// to every live device session.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tvachon/lanvault/internal/broker"
)

// Watcher broadcasts fs_changed messages when the storage root's top level
// changes. The watch is re-pointed when the root moves via a settings update.
type Watcher struct {
	broker *broker.Broker
	fsw    *fsnotify.Watcher

	mu   sync.Mutex // guards root; Retarget runs on the control-plane goroutine
	root string
}

func New(b *broker.Broker, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{broker: b, fsw: fsw, root: root}, nil
}

// Retarget moves the watch to a new storage root.
func (w *Watcher) Retarget(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if root == w.root {
		return nil
	}
	if err := w.fsw.Add(root); err != nil {
		return err
	}
	if err := w.fsw.Remove(w.root); err != nil {
		slog.Debug("old watch not removed", "root", w.root, "err", err)
	}
	w.root = root
	return nil
}

func (w *Watcher) currentRoot() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Run consumes filesystem events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.currentRoot(), ev.Name)
			if err != nil {
				rel = filepath.Base(ev.Name)
			}
			slog.Debug("storage root changed", "op", ev.Op.String(), "path", rel)
			w.broker.BroadcastAll(ctx, broker.FSChanged(rel))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher error", "err", err)
		}
	}
}
