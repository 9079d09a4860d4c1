// Package serverinfo maintains the registration file a running fleet server
// leaves in its data dir. Other commands read it to find the server's listen
// address and probe it over HTTP instead of scanning the filesystem.
package serverinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/v1truv1us/fleettools-sub002/internal/config"
)

// Info describes the process serving one data dir.
type Info struct {
	PID        int       `json:"pid"`
	Version    string    `json:"version"`
	ListenAddr string    `json:"listen_addr"`
	DataDir    string    `json:"data_dir"`
	DBPath     string    `json:"db_path"`
	StartedAt  time.Time `json:"started_at"`
}

// withFileLock serializes registration updates across processes. The CLI and
// the server race only briefly, but a torn server.json would strand status
// probes until the next restart.
func withFileLock(cfg *config.Config, fn func() error) error {
	fl := flock.New(cfg.ServerInfoPath() + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock server registration: %w", err)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// Write records the running server. The file is written to a temp name and
// renamed into place so readers never observe a partial document.
func Write(cfg *config.Config, info Info) error {
	return withFileLock(cfg, func() error {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal server registration: %w", err)
		}

		dir := filepath.Dir(cfg.ServerInfoPath())
		tmp, err := os.CreateTemp(dir, "server-*.json.tmp")
		if err != nil {
			return fmt.Errorf("failed to create temp registration: %w", err)
		}
		tmpPath := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to write registration: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to sync registration: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to close registration: %w", err)
		}
		if err := os.Rename(tmpPath, cfg.ServerInfoPath()); err != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to publish registration: %w", err)
		}
		return nil
	})
}

// Read returns the recorded server, or nil when none is registered. A
// corrupted file reads as missing; the next serve rewrites it.
func Read(cfg *config.Config) (*Info, error) {
	var info *Info
	err := withFileLock(cfg, func() error {
		data, err := os.ReadFile(cfg.ServerInfoPath())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to read server registration: %w", err)
		}
		var parsed Info
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil
		}
		info = &parsed
		return nil
	})
	return info, err
}

// Remove clears the registration if it still belongs to pid. A newer server
// that re-registered the directory keeps its own entry.
func Remove(cfg *config.Config, pid int) error {
	return withFileLock(cfg, func() error {
		data, err := os.ReadFile(cfg.ServerInfoPath())
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to read server registration: %w", err)
		}
		var parsed Info
		if err := json.Unmarshal(data, &parsed); err == nil && parsed.PID != pid {
			return nil
		}
		if err := os.Remove(cfg.ServerInfoPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove server registration: %w", err)
		}
		return nil
	})
}
