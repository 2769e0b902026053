package steam

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of writes Steam makes while
// installing or updating an app.
const DefaultWatchDebounce = 2 * time.Second

// Watch watches the steamapps directories of libs and calls onChange once per
// debounced burst of manifest or library-list changes. It blocks until ctx is
// done. Libraries that cannot be watched are logged and skipped.
func Watch(ctx context.Context, libs []string, debounce time.Duration, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	added := 0
	for _, lib := range libs {
		dir := filepath.Join(lib, "steamapps")
		if err := watcher.Add(dir); err != nil {
			logger.Warn("cannot watch steam library", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		return errors.New("steam: no library directory could be watched")
	}

	// fire is nil while no burst is pending
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("steam library watcher error", "error", err)
		case <-fire:
			fire = nil
			onChange()
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	base := strings.ToLower(filepath.Base(ev.Name))
	if base == "libraryfolders.vdf" {
		return true
	}
	_, ok := AppIDFromFilename(base)
	return ok
}
