package config

import (
	"context"
	"fmt"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch loads path once, sends the result on the returned channel, then
// watches path for writes and re-loads/pushes on every change until ctx
// is cancelled. Parse errors are logged and skipped rather than closing
// the channel, so a transient bad write to the config file never takes
// down a running device.
func Watch(ctx context.Context, path string) (<-chan Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %q: %w", path, err)
	}

	out := make(chan Config, 1)

	initial, err := Load(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	out <- initial

	go func() {
		defer watcher.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Printf("config: reload of %q failed, keeping previous config: %v", path, err)
					continue
				}
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watcher error on %q: %v", path, err)
			}
		}
	}()

	return out, nil
}
