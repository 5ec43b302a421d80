package annotation

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const configReloadDelay = 250 * time.Millisecond

// WatchConfig calls onChange with the reloaded config every time filename
// changes, until ctx ends. The directory is watched since editors often
// replace the file instead of writing it. Invalid configs are logged and
// skipped, and so are events that leave the contents unchanged.
func WatchConfig(ctx context.Context, filename string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("while creating config watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(filename)
	if err != nil {
		return fmt.Errorf("while resolving config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("while watching %s: %w", filepath.Dir(target), err)
	}

	lastHash, err := HashFile(target)
	if err != nil {
		log.Printf("watch: %s", err)
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				reload = time.After(configReloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %s", err)
		case <-reload:
			reload = nil
			hash, err := HashFile(target)
			if err != nil {
				log.Printf("watch: %s", err)
				continue
			}
			if hash == lastHash {
				continue
			}
			lastHash = hash
			cfg, err := LoadConfig(filename)
			if err != nil {
				log.Printf("watch: ignoring invalid config %s: %s", filename, err)
				continue
			}
			log.Printf("watch: config %s changed", filename)
			onChange(cfg)
		}
	}
}
