package repo

import (
	"context"
	"sync"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/backfill"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/broadcast"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/cache"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/coalesce"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/config"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/dedup"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/fetch"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/history"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Repository is the orchestrator: it owns the push-channel subscription and
// the REST fallback timer, runs every incoming update through the
// dedup → merge+cache → history → debounce → broadcast pipeline, and exposes
// the read API the server surfaces sit on.
//
// Connectivity state machine:
//   - online + connected:     live pipeline, fallback polling suppressed
//   - online + disconnected:  fallback polling every FallbackInterval
//   - offline:                cache-only, fallback timer cancelled
//
// The cache write always lands before any listener is notified, so a
// subscriber that reads the latest value at subscribe time is never behind
// an update it is about to receive.
type Repository struct {
	cfg    config.Config
	logger logpkg.Logger

	client   *traccar.Client
	socket   *traccar.Socket
	cache    *cache.Cache
	filter   *dedup.Filter
	debounce *coalesce.Scheduler
	streams  *broadcast.Manager
	events   *broadcast.EventBus
	hist     *history.Log // nil disables history
	fetcher  *fetch.Coordinator
	backfill *backfill.Coordinator

	mu             sync.Mutex
	online         bool
	connected      bool
	everConnected  bool
	justReconnect  bool
	fallbackCancel context.CancelFunc

	runCancel context.CancelFunc
	wg        sync.WaitGroup
	disposed  bool
}

// Options wires a Repository. Cache, Client and Socket are required; History
// is optional.
type Options struct {
	Config  config.Config
	Logger  logpkg.Logger
	Client  *traccar.Client
	Socket  *traccar.Socket
	Cache   *cache.Cache
	History *history.Log
}

// New builds the repository and its pipeline stages. Call Start to begin
// consuming the push channel.
func New(opts Options) *Repository {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	cfg := opts.Config

	r := &Repository{
		cfg:    cfg,
		logger: logger.WithComponent("repo"),
		client: opts.Client,
		socket: opts.Socket,
		cache:  opts.Cache,
		filter: dedup.New(),
		hist:   opts.History,
		events: broadcast.NewEventBus(),
		online: true,
	}
	r.streams = broadcast.NewManager(broadcast.Options{
		MaxStreams:    cfg.Streams.MaxStreams,
		IdleTimeout:   time.Duration(cfg.Streams.IdleTimeoutSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.Streams.SweepIntervalSeconds) * time.Second,
		Quality:       broadcast.ParseQuality(cfg.Streams.Quality),
		Logger:        logger,
	})
	r.debounce = coalesce.New(cfg.Debounce(), r.publish)
	r.fetcher = fetch.New(fetch.Options{
		Client:      opts.Client,
		Online:      r.isOnline,
		MinInterval: time.Duration(cfg.Fetch.MinIntervalSeconds) * time.Second,
		Logger:      logger,
	})
	r.backfill = backfill.New(backfill.Options{
		Client:        opts.Client,
		Logger:        logger,
		DefaultWindow: time.Duration(cfg.Backfill.DefaultWindowMinutes) * time.Minute,
		SkewWindow:    time.Duration(cfg.Backfill.SkewWindowMinutes) * time.Minute,
		MaxWindow:     time.Duration(cfg.Backfill.MaxWindowHours) * time.Hour,
		Margin:        time.Duration(cfg.Backfill.MarginMinutes) * time.Minute,
		Throttle:      time.Duration(cfg.Backfill.ThrottleSeconds) * time.Second,
	})
	return r
}

// Start launches the push-channel reader and the fallback timer.
func (r *Repository) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.runCancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.socket.Run(ctx)
	}()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(ctx)
	}()
	r.startFallback(ctx)
}

func (r *Repository) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.socket.Messages():
			if !ok {
				return
			}
			r.Apply(ctx, msg)
		}
	}
}

// Apply runs one push-channel message through the pipeline. The consume loop
// calls it for every frame; it is also the ingestion point for callers that
// already hold parsed frames.
func (r *Repository) Apply(ctx context.Context, msg traccar.Message) {
	switch {
	case msg.Connected:
		r.onConnected(ctx)
	case msg.Disconnected:
		r.onDisconnected()
	}
	for _, p := range msg.Positions {
		r.handlePosition(ctx, p)
	}
	for _, d := range msg.Devices {
		r.handleDevice(d)
	}
	for _, ev := range msg.Events {
		r.backfill.SetAnchor(ev.EventTime)
		r.events.Publish(ev)
	}
}

func (r *Repository) onConnected(ctx context.Context) {
	r.mu.Lock()
	r.connected = true
	reconnect := r.everConnected
	r.everConnected = true
	r.justReconnect = true
	r.mu.Unlock()

	r.logger.Info("push channel connected", logpkg.Bool("reconnect", reconnect))
	if !reconnect {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runBackfill(ctx)
	}()
}

func (r *Repository) onDisconnected() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	r.logger.Info("push channel disconnected")
}

// runBackfill executes one catch-up pass and replays its result: one
// recovered-count notification, then the events in fetch order.
func (r *Repository) runBackfill(ctx context.Context) {
	res, err := r.backfill.Run(ctx, r.trackedDevices(), r.lastKnownTimestamp())
	if err != nil {
		r.logger.Warn("backfill failed", logpkg.Err(err))
		return
	}
	if res.Skipped || len(res.Events) == 0 {
		return
	}
	r.events.PublishRecovered(len(res.Events))
	for _, ev := range res.Events {
		r.events.Publish(ev)
	}
}

// trackedDevices lists the devices currently worth refreshing: everything the
// cache knows. An empty result makes the coordinators fall back to the full
// device list.
func (r *Repository) trackedDevices() []int64 {
	snaps := r.cache.LoadAll()
	ids := make([]int64, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	return ids
}

// lastKnownTimestamp seeds the backfill window: the freshest cached snapshot
// time, falling back to the durable history log when the cache is cold (a
// restart loses the hot tier but not the log).
func (r *Repository) lastKnownTimestamp() time.Time {
	if ts := r.cache.LatestTimestamp(); !ts.IsZero() {
		return ts
	}
	if r.hist == nil {
		return time.Time{}
	}
	ids, err := r.hist.Devices()
	if err != nil {
		return time.Time{}
	}
	var latest time.Time
	for _, id := range ids {
		ts, err := r.hist.LatestTimestamp(id)
		if err != nil {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

// handlePosition runs one live position through the pipeline.
func (r *Repository) handlePosition(ctx context.Context, p traccar.Position) {
	if r.filter.IsDuplicatePosition(p) {
		return
	}
	snap := p.Snapshot()
	if snap == nil {
		return
	}
	merged, changed := r.cache.Put(snap)
	if !changed {
		return
	}
	if r.hist != nil && merged.Position != nil {
		if _, err := r.hist.Append(ctx, merged.DeviceID, merged.Position); err != nil {
			r.logger.Warn("history append failed",
				logpkg.Int64("device", merged.DeviceID), logpkg.Err(err))
		}
	}
	r.debounce.Schedule(merged)
}

func (r *Repository) handleDevice(d traccar.Device) {
	if r.filter.IsDuplicateDevice(d) {
		return
	}
	snap := d.Snapshot()
	if snap == nil {
		return
	}
	merged, changed := r.cache.Put(snap)
	if !changed {
		return
	}
	r.debounce.Schedule(merged)
}

// publish is the debounce sink: deliver the settled snapshot's position to
// the device's stream.
func (r *Repository) publish(snap *model.VehicleSnapshot) {
	if snap.Position == nil {
		return
	}
	r.streams.Publish(snap.DeviceID, snap.Position)
}

// applyFetched runs a fetched snapshot through merge+cache and broadcast,
// bypassing dedup (REST results carry no wire-level duplicates worth
// tracking) but never the write-before-notify ordering.
func (r *Repository) applyFetched(ctx context.Context, snap *model.VehicleSnapshot) *model.VehicleSnapshot {
	merged, changed := r.cache.Put(snap)
	if changed {
		if r.hist != nil && merged.Position != nil {
			if _, err := r.hist.Append(ctx, merged.DeviceID, merged.Position); err != nil {
				r.logger.Warn("history append failed",
					logpkg.Int64("device", merged.DeviceID), logpkg.Err(err))
			}
		}
		r.debounce.Schedule(merged)
	}
	return merged
}

// startFallback (re)starts the fallback polling loop.
func (r *Repository) startFallback(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallbackCancel != nil {
		return
	}
	fbCtx, cancel := context.WithCancel(ctx)
	r.fallbackCancel = cancel

	interval := time.Duration(r.cfg.Fetch.FallbackIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-fbCtx.Done():
				return
			case <-t.C:
				r.fallbackTick(fbCtx)
			}
		}
	}()
}

// fallbackTick polls REST when the push channel is down. A tick immediately
// after a reconnect is suppressed once; the reconnect backfill covers it.
func (r *Repository) fallbackTick(ctx context.Context) {
	r.mu.Lock()
	run := r.online && !r.connected
	if run && r.justReconnect {
		// consume the flag only on the tick it suppresses
		r.justReconnect = false
		run = false
	}
	r.mu.Unlock()
	if !run {
		return
	}
	snaps, err := r.fetcher.FetchMany(ctx, r.trackedDevices())
	if err != nil {
		r.logger.Warn("fallback fetch failed", logpkg.Err(err))
		return
	}
	for _, snap := range snaps {
		r.applyFetched(ctx, snap)
	}
}

func (r *Repository) isOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// SetOnline feeds external connectivity signals into the state machine.
// Going offline cancels fallback polling; coming back online restarts it and
// triggers an immediate full refresh.
func (r *Repository) SetOnline(ctx context.Context, online bool) {
	r.mu.Lock()
	if r.disposed || r.online == online {
		r.mu.Unlock()
		return
	}
	r.online = online
	cancel := r.fallbackCancel
	if !online {
		r.fallbackCancel = nil
	}
	r.mu.Unlock()

	if !online {
		if cancel != nil {
			cancel()
		}
		r.logger.Info("connectivity lost, cache-only mode")
		return
	}
	r.logger.Info("connectivity restored")
	r.startFallback(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		snaps, err := r.fetcher.FetchMany(ctx, r.trackedDevices())
		if err != nil {
			r.logger.Warn("refresh after reconnect failed", logpkg.Err(err))
			return
		}
		for _, snap := range snaps {
			r.applyFetched(ctx, snap)
		}
	}()
}

// Subscribe returns a live position stream for the device, primed with the
// cached latest position (or an explicit nil when none is known).
func (r *Repository) Subscribe(deviceID int64) *broadcast.Subscription {
	var initial *model.Position
	if snap := r.cache.Get(deviceID); snap != nil {
		initial = snap.Position
	}
	return r.streams.Subscribe(deviceID, initial)
}

// GetLatest returns the freshest snapshot for the device: the cache when it
// has one, otherwise a coordinated REST fetch whose result is merged into
// the cache before returning. A nil snapshot with nil error means unknown
// (offline with a cold cache).
func (r *Repository) GetLatest(ctx context.Context, deviceID int64) (*model.VehicleSnapshot, error) {
	if snap := r.cache.Get(deviceID); snap != nil {
		return snap, nil
	}
	snap, err := r.fetcher.FetchOne(ctx, deviceID)
	if err != nil {
		r.logger.Warn("fetch failed", logpkg.Int64("device", deviceID), logpkg.Err(err))
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	return r.applyFetched(ctx, snap), nil
}

// GetAllLatest returns the cached snapshot of every known device.
func (r *Repository) GetAllLatest() map[int64]*model.VehicleSnapshot {
	return r.cache.LoadAll()
}

// SubscribeEvents returns a raw event stream, optionally filtered by a CEL
// expression over deviceId, eventType, positionId, ts_ms and attributes.
func (r *Repository) SubscribeEvents(filter string) (*broadcast.EventSub, error) {
	return r.events.Subscribe(filter)
}

// RecoveredCounts streams the event count of each completed backfill pass.
func (r *Repository) RecoveredCounts() *broadcast.RecoveredSub {
	return r.events.SubscribeRecovered()
}

// CacheStats exposes hot-tier hit/miss counters.
func (r *Repository) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// SetQuality adjusts the stream emit gap at runtime.
func (r *Repository) SetQuality(q broadcast.Quality) {
	r.streams.SetQuality(q)
}

// Dispose tears the repository down: push channel, timers, debounce,
// streams, event bus. Idempotent; the cache is closed by its owner.
func (r *Repository) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	cancelRun := r.runCancel
	cancelFb := r.fallbackCancel
	r.fallbackCancel = nil
	r.mu.Unlock()

	if cancelFb != nil {
		cancelFb()
	}
	if cancelRun != nil {
		cancelRun()
	}
	r.debounce.Stop()
	r.streams.Close()
	r.events.Close()
	r.wg.Wait()
	r.logger.Info("repository disposed")
}
