package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:   "test-host-abc",
		BaseDir:  "/home/user/.local/share/hyper",
		LogDir:   "/home/user/.local/share/hyper/log",
		LogLevel: "debug",
		Watch: WatchConfig{
			Root:            "/srv/media",
			Backend:         "poll",
			PollIntervalMS:  500,
			RenameTimeoutMS: 1500,
			Ignore:          []string{"*.upload-in-progress", ".DS_Store"},
		},
		Names:     NamesConfig{CollisionAttempts: 3, Checksum: "blake3", RandomizePhysical: true},
		Reconcile: ReconcileConfig{IntervalMS: 60000},
		Database:  DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/hyper/db"},
		Metrics:   MetricsConfig{ListenAddr: ":9102"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", got.LogLevel, "debug")
	}
	if got.Watch.Root != "/srv/media" || got.Watch.Backend != "poll" {
		t.Errorf("Watch = %+v, want root /srv/media backend poll", got.Watch)
	}
	if got.Watch.PollIntervalMS != 500 || got.Watch.RenameTimeoutMS != 1500 {
		t.Errorf("Watch intervals = %d/%d, want 500/1500", got.Watch.PollIntervalMS, got.Watch.RenameTimeoutMS)
	}
	if len(got.Watch.Ignore) != 2 {
		t.Fatalf("len(Watch.Ignore) = %d, want 2", len(got.Watch.Ignore))
	}
	if got.Names != original.Names {
		t.Errorf("Names = %+v, want %+v", got.Names, original.Names)
	}
	if got.Reconcile.IntervalMS != 60000 {
		t.Errorf("Reconcile.IntervalMS = %d, want 60000", got.Reconcile.IntervalMS)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Metrics.ListenAddr != ":9102" {
		t.Errorf("Metrics.ListenAddr = %q, want %q", got.Metrics.ListenAddr, ":9102")
	}
}

func TestManager_Read_UnknownKey(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("host_id = \"h\"\nvaults = []\n"))
	if err == nil {
		t.Fatal("Read() expected error for unknown key")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/hyper", "/srv/media")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != filepath.Join("/data/hyper", "log") {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, filepath.Join("/data/hyper", "log"))
	}
	if cfg.Watch.Root != "/srv/media" {
		t.Errorf("Watch.Root = %q, want %q", cfg.Watch.Root, "/srv/media")
	}
	if cfg.Watch.RenameTimeoutMS != DefaultRenameTimeoutMS {
		t.Errorf("Watch.RenameTimeoutMS = %d, want %d", cfg.Watch.RenameTimeoutMS, DefaultRenameTimeoutMS)
	}
	if len(cfg.Watch.Ignore) != 1 || cfg.Watch.Ignore[0] != DefaultUploadPattern {
		t.Errorf("Watch.Ignore = %v, want [%s]", cfg.Watch.Ignore, DefaultUploadPattern)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on new config error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg := &Config{HostID: "h", BaseDir: "/base", Watch: WatchConfig{Root: "/srv"}}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if cfg.Watch.Backend != DefaultBackend {
			t.Errorf("Backend = %q, want %q", cfg.Watch.Backend, DefaultBackend)
		}
		if cfg.Watch.PollIntervalMS != DefaultPollIntervalMS {
			t.Errorf("PollIntervalMS = %d, want %d", cfg.Watch.PollIntervalMS, DefaultPollIntervalMS)
		}
		if cfg.Watch.RenameTimeoutMS != DefaultRenameTimeoutMS {
			t.Errorf("RenameTimeoutMS = %d, want %d", cfg.Watch.RenameTimeoutMS, DefaultRenameTimeoutMS)
		}
		if cfg.Names.CollisionAttempts != DefaultCollisionAttempts {
			t.Errorf("CollisionAttempts = %d, want %d", cfg.Names.CollisionAttempts, DefaultCollisionAttempts)
		}
		if cfg.Names.Checksum != DefaultChecksum {
			t.Errorf("Checksum = %q, want %q", cfg.Names.Checksum, DefaultChecksum)
		}
		if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != filepath.Join("/base", "data") {
			t.Errorf("Database = %+v, want sqlite in /base/data", cfg.Database)
		}
		if cfg.LogDir != filepath.Join("/base", "log") {
			t.Errorf("LogDir = %q, want %q", cfg.LogDir, filepath.Join("/base", "log"))
		}
		if cfg.LogLevel != DefaultLogLevel {
			t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
		}
	})

	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"missing host id", func(c *Config) { c.HostID = "" }},
		{"missing root", func(c *Config) { c.Watch.Root = "" }},
		{"unknown backend", func(c *Config) { c.Watch.Backend = "kqueue" }},
		{"negative timeout", func(c *Config) { c.Watch.RenameTimeoutMS = -1 }},
		{"bad ignore pattern", func(c *Config) { c.Watch.Ignore = []string{"["} }},
		{"negative attempts", func(c *Config) { c.Names.CollisionAttempts = -2 }},
		{"unknown checksum", func(c *Config) { c.Names.Checksum = "md5" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown database", func(c *Config) { c.Database.Type = "postgres" }},
		{"sqlite without dirs", func(c *Config) { c.BaseDir = ""; c.Database = DatabaseConfig{Type: "sqlite"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("h", "/base", "/srv")
			tt.mod(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sub", "config.toml")

		if err := Init(path, NewConfig("host-1", dir, "/srv")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "host-1" {
			t.Errorf("HostID = %q, want %q", got.HostID, "host-1")
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("host_id = \"x\"\n"), 0644); err != nil {
			t.Fatal(err)
		}

		if err := Init(path, NewConfig("host-2", "/tmp", "/srv")); err == nil {
			t.Error("Init() expected error for existing file")
		}
	})
}

func TestReadFromFile_Missing(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("ReadFromFile() expected error for missing file")
	}
}
