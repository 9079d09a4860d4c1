package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// DirName is the per-project state directory the core owns.
const DirName = ".flightline"

// Path case policies for lock normalization. The policy is decided once,
// when the store is created, and recorded in its metadata; every later open
// must resolve to the same policy.
const (
	PolicyFold     = "fold"
	PolicyPreserve = "preserve"
)

// Config carries every tunable the core reads. Only two values may come
// from the environment: FLEET_DATA_DIR and FLEET_LOG_LEVEL. Everything else
// comes from <data-dir>/config.yaml or defaults.
type Config struct {
	DataDir  string `mapstructure:"-"`
	LogLevel string `mapstructure:"log_level"`

	ListenAddr string `mapstructure:"listen_addr"`

	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	HeartbeatThreshold time.Duration `mapstructure:"heartbeat_threshold"`
	ActivityThreshold  time.Duration `mapstructure:"activity_threshold"`

	WALWarnBytes       int64         `mapstructure:"wal_warn_bytes"`
	WALCheckpointEvery int           `mapstructure:"wal_checkpoint_every"`
	VacuumIdleAfter    time.Duration `mapstructure:"vacuum_idle_after"`
	BusyTimeout        time.Duration `mapstructure:"busy_timeout"`

	CheckpointWatch bool   `mapstructure:"checkpoint_watch"`
	CaseFoldPaths   string `mapstructure:"case_fold_paths"`

	Retention Retention `mapstructure:"retention"`
}

// Retention bounds how many checkpoints survive a prune pass.
type Retention struct {
	KeepPerMission int `mapstructure:"keep_per_mission"`
	OlderThanDays  int `mapstructure:"older_than_days"`
}

// Load resolves the data directory and reads configuration.
//
// Data directory precedence: explicit flag > FLEET_DATA_DIR > nearest
// .flightline/ walking up from CWD > ./.flightline. The directory is not
// created here; callers create it when they are prepared to own it.
func Load(dataDirFlag string) (*Config, error) {
	dataDir, err := ResolveDataDir(dataDirFlag)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", "127.0.0.1:4170")
	v.SetDefault("sweep_interval", 5*time.Second)
	v.SetDefault("heartbeat_threshold", 90*time.Second)
	v.SetDefault("activity_threshold", 10*time.Minute)
	v.SetDefault("wal_warn_bytes", int64(64*1024*1024))
	v.SetDefault("wal_checkpoint_every", 512)
	v.SetDefault("vacuum_idle_after", 10*time.Minute)
	v.SetDefault("busy_timeout", 5*time.Second)
	v.SetDefault("checkpoint_watch", true)
	v.SetDefault("case_fold_paths", "auto")
	v.SetDefault("retention.keep_per_mission", 5)
	v.SetDefault("retention.older_than_days", 14)

	configPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.DataDir = dataDir

	// FLEET_LOG_LEVEL overrides the file. This and FLEET_DATA_DIR are the
	// only environment variables the core consults.
	if lvl := os.Getenv("FLEET_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q (want debug, info, warn, or error)", cfg.LogLevel)
	}

	switch cfg.CaseFoldPaths {
	case "auto", PolicyFold, PolicyPreserve:
	default:
		return nil, fmt.Errorf("invalid case_fold_paths %q (want auto, fold, or preserve)", cfg.CaseFoldPaths)
	}

	return cfg, nil
}

// ResolveDataDir applies the data directory precedence without reading any
// other configuration.
func ResolveDataDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv("FLEET_DATA_DIR"); env != "" {
		return filepath.Abs(env)
	}

	// Walk up from CWD so commands work from project subdirectories.
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return filepath.Join(cwd, DirName), nil
}

// PathPolicy resolves the configured case policy for this platform.
// "auto" folds on case-insensitive filesystems (darwin, windows) and
// preserves elsewhere.
func (c *Config) PathPolicy() string {
	switch c.CaseFoldPaths {
	case PolicyFold:
		return PolicyFold
	case PolicyPreserve:
		return PolicyPreserve
	}
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return PolicyFold
	}
	return PolicyPreserve
}

// DBPath is the embedded database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// CheckpointsDir holds one JSON file per checkpoint plus the latest pointer.
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// LogsDir holds rotated server logs.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// FlockPath is the advisory lock file that marks the directory as owned by
// a running server.
func (c *Config) FlockPath() string {
	return filepath.Join(c.DataDir, "flightline.lock")
}

// ServerInfoPath is the registration file a running server leaves behind so
// other commands can find and probe it.
func (c *Config) ServerInfoPath() string {
	return filepath.Join(c.DataDir, "server.json")
}

// EnsureLayout creates the data directory tree.
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{c.DataDir, c.CheckpointsDir(), c.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
