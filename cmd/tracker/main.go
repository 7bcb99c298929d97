package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/cache"
	serverrun "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/cmd/server"
	cfgpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/config"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

func main() {
	// Respect TRACKER_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("TRACKER_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Vehicle tracking cache and stream server",
		Long:  "tracker fuses live position pushes and REST polls into cached vehicle state, and serves it over HTTP and SSE.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the tracker server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			serverURL, _ := cmd.Flags().GetString("server-url")
			token, _ := cmd.Flags().GetString("token")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg := cfgpkg.Default()
			if configPath != "" {
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			cfgpkg.FromEnv(&cfg)
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if token != "" {
				cfg.Token = token
			}
			if cfg.ServerURL == "" {
				return fmt.Errorf("missing upstream server URL; set --server-url or TRACKER_SERVER_URL")
			}
			if logLevel != "" {
				_ = os.Setenv("TRACKER_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("TRACKER_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "data directory (default: OS-specific)")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("server-url", "", "upstream server base URL")
	serverStartCmd.Flags().String("token", "", "upstream API token")
	serverStartCmd.Flags().String("config", "", "path to JSON config file")
	serverStartCmd.Flags().String("fsync", "always", "fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 0, "fsync interval when --fsync=interval")
	serverStartCmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// cache inspect (offline)
	cacheCmd := &cobra.Command{Use: "cache", Short: "Cache maintenance (server must be stopped)"}
	cacheInspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Dump cached snapshots from the cold tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			prefix, _ := cmd.Flags().GetString("prefix")
			if dataDir == "" {
				dataDir = cfgpkg.DefaultDataDir()
			}
			db, err := pebblestore.Open(pebblestore.Options{
				DataDir: filepath.Join(dataDir, "store"),
				Fsync:   pebblestore.FsyncModeNever,
			})
			if err != nil {
				return err
			}
			defer db.Close()
			c, err := cache.New(cache.Options{DB: db, Prefix: prefix, Logger: logger})
			if err != nil {
				return err
			}
			defer c.Close()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(c.LoadAll())
		},
	}
	cacheInspectCmd.Flags().String("data-dir", "", "data directory (default: OS-specific)")
	cacheInspectCmd.Flags().String("prefix", "tracker", "cold-tier key prefix")
	cacheCmd.AddCommand(cacheInspectCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
