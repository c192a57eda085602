package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"reminder-dispatcher/internal/logx"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads path when it changes and hands every valid, changed config to
// apply. Invalid files are logged and ignored; the previous config stays. It
// returns when ctx is done.
func Watch(ctx context.Context, path string, current *Config, log logx.Logger, apply func(*Config)) error {
	if path == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()
	// Editors replace files by rename, so watch the directory.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	log.Debug("config watcher started", logx.String("path", path))

	var (
		mu    sync.Mutex
		last  = current
		timer *time.Timer
	)
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn("config reload rejected", logx.String("path", path), logx.Err(err))
			return
		}
		mu.Lock()
		unchanged := last != nil && reflect.DeepEqual(*last, *cfg)
		if !unchanged {
			last = cfg
		}
		mu.Unlock()
		if unchanged {
			log.Debug("config unchanged; skipping apply", logx.String("path", path))
			return
		}
		apply(cfg)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", logx.Err(err))
		}
	}
}
