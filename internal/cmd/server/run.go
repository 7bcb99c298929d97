package serverrun

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/config"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/runtime"
	httpserver "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/server/http"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts the pipeline and the HTTP read API and blocks until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	cfg := &logpkg.Config{
		Level:  getenvDefault("TRACKER_LOG_LEVEL", "info"),
		Format: getenvDefault("TRACKER_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting tracker server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("upstream", opts.Config.ServerURL),
		logpkg.Str("level", cfg.Level),
		logpkg.Str("format", cfg.Format),
	)

	rt.Start(sctx)
	hsrv := httpserver.New(rt.Repo(), rt.History())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			log.Printf("http error: %v", err)
		}
	}()

	<-sctx.Done()
	// Shut the server down before the runtime/DB to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
