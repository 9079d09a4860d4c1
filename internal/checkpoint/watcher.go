package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses event bursts from copies and editors into one
// directory rescan.
const debounceWindow = 500 * time.Millisecond

// WatchFiles re-ingests checkpoint backups dropped into the checkpoint
// directory while the server runs: a chk-*.json file with no matching row
// becomes a read-only artifact served by GetByID. Blocks until ctx ends.
func (e *Engine) WatchFiles(ctx context.Context) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start checkpoint watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(e.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", e.dir, err)
	}

	var mu sync.Mutex
	var pending *time.Timer
	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounceWindow, func() { e.RescanFiles(ctx) })
	}
	defer func() {
		mu.Lock()
		if pending != nil {
			pending.Stop()
		}
		mu.Unlock()
	}()

	e.RescanFiles(ctx)
	e.lg.Debug().Str("dir", e.dir).Msg("checkpoint file watcher started")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isCheckpointFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.lg.Warn().Err(err).Msg("checkpoint watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

// RescanFiles sweeps the checkpoint directory once: every valid backup
// whose row is missing is cached, and cache entries whose row exists are
// dropped. Safe to call concurrently with the watcher.
func (e *Engine) RescanFiles(ctx context.Context) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.lg.Warn().Err(err).Msg("checkpoint dir scan failed")
		}
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isCheckpointFile(name) {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		exists, err := e.rowExists(ctx, id)
		if err != nil {
			e.lg.Warn().Err(err).Str("checkpoint_id", id).Msg("checkpoint probe failed")
			continue
		}
		if exists {
			e.cacheDelete(id)
			continue
		}
		cp, err := e.loadFile(filepath.Join(e.dir, name))
		if err != nil {
			e.lg.Warn().Err(err).Str("file", name).Msg("checkpoint file rejected")
			continue
		}
		if cp.ID != id {
			e.lg.Warn().Str("file", name).Str("checkpoint_id", cp.ID).
				Msg("checkpoint file name does not match its id")
			continue
		}
		e.cachePut(cp)
		e.lg.Info().Str("checkpoint_id", id).Msg("checkpoint file re-ingested as read-only artifact")
	}
}
