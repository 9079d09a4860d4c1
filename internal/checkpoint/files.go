package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/v1truv1us/fleettools-sub002/internal/ident"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

const latestName = "latest.json"

// FilePath returns where a checkpoint's JSON backup lives.
func (e *Engine) FilePath(checkpointID string) string {
	return filepath.Join(e.dir, checkpointID+".json")
}

// persistFile writes the post-commit file artifacts. Failures log loudly;
// the committed row is authoritative either way.
func (e *Engine) persistFile(cp *types.Checkpoint) {
	if err := e.writeFile(cp); err != nil {
		e.lg.Error().Err(err).Str("checkpoint_id", cp.ID).Msg("checkpoint file backup failed")
		return
	}
	if err := e.updateLatest(cp.ID); err != nil {
		e.lg.Error().Err(err).Str("checkpoint_id", cp.ID).Msg("latest pointer update failed")
	}
}

// writeFile serializes the checkpoint to <dir>/<id>.json via temp file and
// rename, so a crash never leaves a half-written backup behind.
func (e *Engine) writeFile(cp *types.Checkpoint) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %s: %w", cp.ID, err)
	}
	return replaceFile(e.dir, e.FilePath(cp.ID), raw)
}

// updateLatest repoints latest.json at the newest checkpoint. A relative
// symlink keeps the directory relocatable; filesystems without symlink
// support get a rename-replaced copy instead.
func (e *Engine) updateLatest(checkpointID string) error {
	latest := filepath.Join(e.dir, latestName)
	tmpLink := filepath.Join(e.dir, ".latest-"+checkpointID)
	if err := os.Symlink(checkpointID+".json", tmpLink); err == nil {
		if err := os.Rename(tmpLink, latest); err != nil {
			os.Remove(tmpLink)
			return fmt.Errorf("failed to replace latest pointer: %w", err)
		}
		return nil
	}
	raw, err := os.ReadFile(e.FilePath(checkpointID))
	if err != nil {
		return fmt.Errorf("failed to read checkpoint for latest copy: %w", err)
	}
	return replaceFile(e.dir, latest, raw)
}

// replaceFile atomically installs content at path via a temp file in dir.
func replaceFile(dir, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadFile reads and validates one checkpoint backup.
func (e *Engine) loadFile(path string) (*types.Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var cp types.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, types.WrapError(types.KindValidation, err, "checkpoint file %s does not parse", filepath.Base(path))
	}
	if cp.Version != types.CheckpointVersion {
		return nil, types.Validationf("unsupported checkpoint version %d in %s", cp.Version, filepath.Base(path))
	}
	if cp.ID == "" || cp.MissionID == "" {
		return nil, types.Validationf("checkpoint file %s is missing identity fields", filepath.Base(path))
	}
	return &cp, nil
}

// isCheckpointFile reports whether name looks like a checkpoint backup
// (chk-<suffix>.json), excluding the latest pointer and temp files.
func isCheckpointFile(name string) bool {
	return strings.HasPrefix(name, ident.PrefixCheckpoint+"-") && strings.HasSuffix(name, ".json")
}

func (e *Engine) cacheGet(checkpointID string) *types.Checkpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fileCache[checkpointID]
}

func (e *Engine) cachePut(cp *types.Checkpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fileCache[cp.ID] = cp
}

func (e *Engine) cacheDelete(checkpointID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fileCache, checkpointID)
}
