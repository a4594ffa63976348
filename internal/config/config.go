package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Validate.
const (
	DefaultBackend           = "notify"
	DefaultPollIntervalMS    = 1000
	DefaultRenameTimeoutMS   = 2000
	DefaultCollisionAttempts = 5
	DefaultChecksum          = "sha256"
	DefaultLogLevel          = "info"
	DefaultUploadPattern     = "*.upload-in-progress"
)

// Config represents the main configuration for hyper.
type Config struct {
	HostID    string          `toml:"host_id"`
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	LogLevel  string          `toml:"log_level"` // "debug", "info", "warn" or "error"
	Watch     WatchConfig     `toml:"watch"`
	Names     NamesConfig     `toml:"names"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Database  DatabaseConfig  `toml:"database"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// WatchConfig selects the watched root and how changes below it are observed.
// This uses a tagged union pattern - Backend determines which other fields are relevant.
type WatchConfig struct {
	Root            string   `toml:"root"`
	Backend         string   `toml:"backend"`                    // "notify" or "poll"
	PollIntervalMS  int      `toml:"poll_interval_ms,omitempty"` // only used for backend=poll
	RenameTimeoutMS int      `toml:"rename_timeout_ms"`
	Ignore          []string `toml:"ignore"` // glob patterns matched against entry names
}

// PollInterval returns the poll interval as a duration.
func (w WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// RenameTimeout returns how long a removed path may wait for the other half of a rename.
func (w WatchConfig) RenameTimeout() time.Duration {
	return time.Duration(w.RenameTimeoutMS) * time.Millisecond
}

// NamesConfig controls naming of stored objects.
type NamesConfig struct {
	CollisionAttempts int    `toml:"collision_attempts"`
	Checksum          string `toml:"checksum"` // "sha256" or "blake3"
	RandomizePhysical bool   `toml:"randomize_physical"`
}

// ReconcileConfig controls periodic reconciliation while watching.
type ReconcileConfig struct {
	IntervalMS int `toml:"interval_ms"` // 0 disables periodic runs
}

// Interval returns the reconciliation interval as a duration.
func (r ReconcileConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

// DatabaseConfig represents configuration for the backing store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr,omitempty"` // empty disables the endpoint
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(hostID, baseDir, root string) *Config {
	cfg := &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: DefaultLogLevel,
		Watch: WatchConfig{
			Root:            root,
			Backend:         DefaultBackend,
			RenameTimeoutMS: DefaultRenameTimeoutMS,
			Ignore:          []string{DefaultUploadPattern},
		},
		Names: NamesConfig{
			CollisionAttempts: DefaultCollisionAttempts,
			Checksum:          DefaultChecksum,
			RandomizePhysical: true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
	}
	return cfg
}

// Validate fills in defaults for unset fields and rejects invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.HostID == "" {
		errs = append(errs, errors.New("host_id is required"))
	}
	if c.Watch.Root == "" {
		errs = append(errs, errors.New("watch.root is required"))
	}

	switch c.LogLevel = strings.ToLower(c.LogLevel); c.LogLevel {
	case "":
		c.LogLevel = DefaultLogLevel
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level: %s", c.LogLevel))
	}

	switch c.Watch.Backend {
	case "":
		c.Watch.Backend = DefaultBackend
	case "notify", "poll":
	default:
		errs = append(errs, fmt.Errorf("unknown watch.backend: %s", c.Watch.Backend))
	}
	if c.Watch.PollIntervalMS < 0 || c.Watch.RenameTimeoutMS < 0 {
		errs = append(errs, errors.New("watch intervals must not be negative"))
	}
	if c.Watch.PollIntervalMS == 0 {
		c.Watch.PollIntervalMS = DefaultPollIntervalMS
	}
	if c.Watch.RenameTimeoutMS == 0 {
		c.Watch.RenameTimeoutMS = DefaultRenameTimeoutMS
	}
	for _, p := range c.Watch.Ignore {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("invalid ignore pattern %q: %w", p, err))
		}
	}

	if c.Names.CollisionAttempts < 0 {
		errs = append(errs, errors.New("names.collision_attempts must not be negative"))
	}
	if c.Names.CollisionAttempts == 0 {
		c.Names.CollisionAttempts = DefaultCollisionAttempts
	}
	switch c.Names.Checksum {
	case "":
		c.Names.Checksum = DefaultChecksum
	case "sha256", "blake3":
	default:
		errs = append(errs, fmt.Errorf("unknown names.checksum: %s", c.Names.Checksum))
	}

	if c.Reconcile.IntervalMS < 0 {
		errs = append(errs, errors.New("reconcile.interval_ms must not be negative"))
	}

	switch c.Database.Type {
	case "":
		c.Database.Type = "sqlite"
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.type: %s", c.Database.Type))
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" {
		if c.BaseDir == "" {
			errs = append(errs, errors.New("database.data_dir required for sqlite database"))
		} else {
			c.Database.DataDir = filepath.Join(c.BaseDir, "data")
		}
	}
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
