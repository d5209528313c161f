package extregistry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/dgnsrekt/crx_host/internal/types"
)

// Watcher loads extensions from the subdirectories of a root directory and
// keeps the registry in sync as directories appear and disappear. The
// directory name is the extension ID.
type Watcher struct {
	root     string
	registry *Registry
	fsw      *fsnotify.Watcher
}

// NewWatcher scans root once and begins watching it. Returns an error if the
// root does not exist or the watch cannot be established.
func NewWatcher(root string, registry *Registry) (*Watcher, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("extension root scan: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		registry.Add(types.Extension{
			ID:   types.ExtensionID(e.Name()),
			Name: e.Name(),
			Path: filepath.Join(root, e.Name()),
		})
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("extension watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("extension watcher add %s: %w", root, err)
	}

	return &Watcher{root: root, registry: registry, fsw: fsw}, nil
}

// Run consumes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("extension watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// Only direct children of the root matter.
	if filepath.Dir(event.Name) != filepath.Clean(w.root) {
		return
	}
	id := types.ExtensionID(filepath.Base(event.Name))

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		info, err := os.Stat(event.Name)
		if err != nil || !info.IsDir() {
			return
		}
		w.registry.Add(types.Extension{ID: id, Name: string(id), Path: event.Name})
		slog.Info("extension loaded", "extension", id)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.registry.Remove(id)
		slog.Info("extension unloaded", "extension", id)
	}
}
