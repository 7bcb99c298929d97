package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/cache"
	cfgpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/config"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/history"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/repo"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        logpkg.Logger
}

// Runtime wires storage, cache, history, the network clients and the
// repository for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	cache  *cache.Cache
	hist   *history.Log
	repo   *repo.Repository
	config cfgpkg.Config
	logger logpkg.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Open initializes storage and the full pipeline. Start must be called to
// begin consuming the push channel.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.Options{
		DB:     db,
		Prefix: opts.Config.CachePrefix,
		MaxAge: opts.Config.MaxAge(),
		Logger: logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	hist := history.Open(db)

	client := traccar.NewClient(traccar.ClientOptions{
		BaseURL: opts.Config.ServerURL,
		Token:   opts.Config.Token,
	})
	socket := traccar.NewSocket(traccar.SocketOptions{
		BaseURL: opts.Config.ServerURL,
		Token:   opts.Config.Token,
		Logger:  logger,
	})

	rt := &Runtime{
		db:     db,
		cache:  c,
		hist:   hist,
		config: opts.Config,
		logger: logger.WithComponent("runtime"),
		done:   make(chan struct{}),
	}
	rt.repo = repo.New(repo.Options{
		Config:  opts.Config,
		Logger:  logger,
		Client:  client,
		Socket:  socket,
		Cache:   c,
		History: hist,
	})
	return rt, nil
}

// Start launches the repository pipeline and the history retention loop.
func (r *Runtime) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.repo.Start(ctx)
	go r.retentionLoop(ctx)
}

// retentionLoop trims per-device history past the retention horizon.
func (r *Runtime) retentionLoop(ctx context.Context) {
	defer close(r.done)
	retention := time.Duration(r.config.History.RetentionHours) * time.Hour
	if retention <= 0 {
		return
	}
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cutoff := time.Now().Add(-retention)
			ids, err := r.hist.Devices()
			if err != nil {
				r.logger.Warn("history device scan failed", logpkg.Err(err))
				continue
			}
			total := 0
			for _, id := range ids {
				n, err := r.hist.TrimOlderThan(ctx, id, cutoff, 0)
				if err != nil {
					r.logger.Warn("history trim failed",
						logpkg.Int64("device", id), logpkg.Err(err))
					continue
				}
				total += n
			}
			if total > 0 {
				r.logger.Info("history trimmed", logpkg.Int("entries", total))
			}
		}
	}
}

// Close tears everything down in dependency order.
func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	r.repo.Dispose()
	r.cache.Close()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Repo returns the repository facade.
func (r *Runtime) Repo() *repo.Repository { return r.repo }

// History returns the position history log.
func (r *Runtime) History() *history.Log { return r.hist }

// DB exposes the underlying store for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
