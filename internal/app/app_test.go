package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hyper-go/internal/config"
	"hyper-go/internal/database"
	"hyper-go/internal/hyper"
	"hyper-go/internal/testutil"
)

func newTestConfig(t *testing.T, files map[string]string) *config.Config {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, files)

	cfg := config.NewConfig("test-host", t.TempDir(), root)
	cfg.Database.Type = "memory"
	cfg.Names.RandomizePhysical = false
	cfg.Watch.Backend = "poll"
	cfg.Watch.PollIntervalMS = 20
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *HyperApp {
	t.Helper()
	a, err := NewHyperApp(cfg, operation)
	if err != nil {
		t.Fatalf("NewHyperApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// migrate prepares the on-disk database of cfg the way "db migrate" does.
func migrate(t *testing.T, cfg *config.Config) {
	t.Helper()
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		t.Fatalf("NewDatabaseFromConfig() error = %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
}

func TestNewHyperApp_Errors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		cfg := newTestConfig(t, nil)
		cfg.Watch.Root = filepath.Join(cfg.Watch.Root, "missing")
		if _, err := NewHyperApp(cfg, "Scan"); err == nil {
			t.Error("NewHyperApp() expected error for missing root")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		cfg := newTestConfig(t, map[string]string{"file.txt": "x"})
		cfg.Watch.Root = filepath.Join(cfg.Watch.Root, "file.txt")
		if _, err := NewHyperApp(cfg, "Scan"); err == nil {
			t.Error("NewHyperApp() expected error for file root")
		}
	})

	t.Run("unmigrated sqlite database", func(t *testing.T) {
		cfg := newTestConfig(t, nil)
		cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
		if _, err := NewHyperApp(cfg, "Scan"); err == nil {
			t.Error("NewHyperApp() expected schema error")
		}
	})
}

func TestHyperApp_ScanAndList(t *testing.T) {
	cfg := newTestConfig(t, map[string]string{
		"news/a.mp4":       "a",
		"news/today/b.mp4": "b",
		"sport/":           "",
	})
	a := newTestApp(t, cfg, "Scan")
	ctx := context.Background()

	report, err := a.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if report.Total() != 0 {
		t.Errorf("Scan() report = %+v, want nothing deleted", report)
	}

	all, err := a.List(ctx, "", "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var objects int
	for _, rec := range all {
		if rec.Object != nil {
			objects++
		}
	}
	if objects != 2 {
		t.Errorf("List() objects = %d, want 2 (records %v)", objects, all)
	}

	today, err := a.List(ctx, "news", "today")
	if err != nil {
		t.Fatalf("List(news, today) error = %v", err)
	}
	if len(today) != 1 || today[0].Object == nil || today[0].Object.Name != "b.mp4" {
		t.Errorf("List(news, today) = %v", today)
	}

	sport, err := a.List(ctx, "sport", "")
	if err != nil {
		t.Fatalf("List(sport) error = %v", err)
	}
	if len(sport) != 1 || sport[0].Key != hyper.RootKey || sport[0].Object != nil {
		t.Errorf("List(sport) = %v, want the empty root key", sport)
	}

	ops, err := a.GetHistory(ctx, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "Scan" {
		t.Errorf("GetHistory() = %v, want the running scan", ops)
	}
}

func TestHyperApp_ListRejectsBadPaths(t *testing.T) {
	a := newTestApp(t, newTestConfig(t, nil), "List")
	if _, err := a.List(context.Background(), "a/../b", ""); err == nil {
		t.Error("List() expected error for invalid bucket")
	}
}

func TestHyperApp_Backup(t *testing.T) {
	cfg := newTestConfig(t, map[string]string{"news/a.mp4": "a"})
	a := newTestApp(t, cfg, "Backup")
	ctx := context.Background()

	if _, err := a.Scan(ctx); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := a.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if info, err := os.Stat(dest); err != nil || info.Size() == 0 {
		t.Errorf("backup file missing or empty: %v", err)
	}
}

func TestHyperApp_CloseFinishesOperation(t *testing.T) {
	cfg := newTestConfig(t, nil)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
	migrate(t, cfg)

	a, err := NewHyperApp(cfg, "Scan")
	if err != nil {
		t.Fatalf("NewHyperApp() error = %v", err)
	}
	if _, err := a.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newTestApp(t, cfg, "History")
	ops, err := b.GetHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Status != StatusSuccess || !ops[0].FinishedAt.Valid {
		t.Errorf("GetHistory() = %+v, want one finished scan", ops)
	}
}

func TestHyperApp_Watch(t *testing.T) {
	cfg := newTestConfig(t, map[string]string{"news/a.mp4": "a"})
	a := newTestApp(t, cfg, "Watch")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()

	testutil.WriteTree(t, cfg.Watch.Root, map[string]string{"sport/": ""})

	deadline := time.Now().Add(5 * time.Second)
	for !a.syncer.Index().HasBucket("/sport/") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("new bucket never reached the index")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !a.syncer.Index().HasBucket("/news/") {
		t.Error("scanned bucket missing from the index")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
	if a.op.Status != StatusSuccess {
		t.Errorf("operation status = %q, want success", a.op.Status)
	}
}
