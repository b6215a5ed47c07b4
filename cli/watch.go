package cli

// This file contains the --watch loop that reruns tests when the image is
// rebuilt.

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/perfgo/semitest/probe/sim"
)

// watchDebounce collapses the burst of events a linker produces.
const watchDebounce = 200 * time.Millisecond

// isImageEvent reports whether ev may have changed the image at path.
func isImageEvent(ev fsnotify.Event, path string) bool {
	if filepath.Clean(ev.Name) != filepath.Clean(path) {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// watchImage runs run once, then again after every change to the image,
// until ctx is done. The directory is watched since linkers often replace
// the file instead of writing it in place.
func (a *App) watchImage(ctx context.Context, path string, run func(context.Context)) error {
	if strings.HasPrefix(path, sim.ImagePrefix) {
		return fmt.Errorf("cannot watch simulated image %s", path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	run(ctx)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isImageEvent(ev, path) {
				a.logger.Debug().Str("event", ev.String()).Msg("Image changed")
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn().Err(err).Msg("File watcher error")
		case <-debounce:
			debounce = nil
			a.logger.Info().Str("image", path).Msg("Image changed, rerunning tests")
			run(ctx)
		}
	}
}
