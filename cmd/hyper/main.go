package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hyper-go/internal/app"
	"hyper-go/internal/config"
	"hyper-go/internal/database"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	loc, err := app.DefaultLocations()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(loc.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a HyperApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Scan", "Watch").
func newApp(operation string) (*app.HyperApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewHyperApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "hyper",
	Short:        "Keep a bucket/key/object index in sync with a directory tree",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [ROOT]",
	Short: "Initialize configuration for a watched root (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := app.DefaultLocations()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		root, err = filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolving root: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, loc.BaseDir, root)

		if err := config.Init(loc.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", loc.ConfigFile)
		fmt.Printf("Host ID:  %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", loc.BaseDir)
		fmt.Printf("Root:     %s\n", root)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := app.DefaultLocations()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(loc.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", loc.ConfigFile)
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Root:      %s\n", cfg.Watch.Root)
		fmt.Printf("Backend:   %s\n", cfg.Watch.Backend)
		fmt.Printf("Checksum:  %s\n", cfg.Names.Checksum)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		if cfg.Metrics.ListenAddr != "" {
			fmt.Printf("Metrics:   %s\n", cfg.Metrics.ListenAddr)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a consistent copy of the database to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Backup(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index the watched root once and drop stale records",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Scan(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Scan complete; removed %d stale bucket(s), %d key(s), %d object(s)\n",
			report.Buckets, report.Keys, report.Objects)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Index the watched root and follow changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp("Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Watch(ctx)
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [BUCKET [KEY]]",
	Short: "List stored buckets, keys and objects",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var bucket, key string
		if len(args) > 0 {
			bucket = args[0]
		}
		if len(args) > 1 {
			key = args[1]
		}

		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.List(cmd.Context(), bucket, key)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No records.")
			return nil
		}

		for _, r := range records {
			if r.Object == nil {
				fmt.Printf("%s  %s/\n", r.Bucket, r.Key)
				continue
			}
			o := r.Object
			fmt.Printf("%s  %s/%s  %s  %d  %s  %s\n",
				r.Bucket,
				r.Key,
				o.Name,
				o.FileName,
				o.Size,
				shortSum(o.Checksum),
				o.Modified.Time.Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

func shortSum(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
