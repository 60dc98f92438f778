package controller

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// WatchFilesystem backs GET /reload's "catalog changed" signal with an
// actual filesystem watch (SPEC_FULL.md §2: fsnotify, the same library the
// teacher's config package uses for config-file hot reload), so a
// deployment that drops a new experience directory on disk doesn't have to
// wait for an operator to hit /reload manually. Debounced by debounce since
// a single file write often fires several fsnotify events in a row.
func (c *Controller) WatchFilesystem(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, path := range []string{c.cfg.DataPath, c.cfg.ConfigPath} {
		if err := watcher.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("controller: failed to watch path for catalog changes")
		}
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("controller: filesystem watch error")
		case <-reload:
			if err := c.ReloadFromFS(ctx); err != nil {
				log.Warn().Err(err).Msg("controller: catalog reload triggered by filesystem watch failed")
			}
		}
	}
}
