package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Client is the REST surface a backfill pass needs. *traccar.Client
// satisfies it.
type Client interface {
	Devices(ctx context.Context) ([]traccar.Device, error)
	Events(ctx context.Context, deviceID int64, from, to time.Time) ([]traccar.Event, error)
}

// Coordinator recovers events missed while the push channel was down. It is
// triggered on reconnect, computes a bounded catch-up window, fetches event
// history per device, and hands the recovered batch to the caller's sink.
type Coordinator struct {
	client Client
	logger logpkg.Logger

	defaultWindow time.Duration // from = to - defaultWindow when nothing better is known
	skewWindow    time.Duration // fallback width when the anchor sits in the future
	maxWindow     time.Duration // hard clamp on window width
	margin        time.Duration // safety margin subtracted from the lower bound
	throttle      time.Duration // min spacing between passes

	now func() time.Time

	mu      sync.Mutex
	anchor  time.Time // newest event time seen over the push channel
	lastRun time.Time
}

// Options configures a Coordinator. Zero durations take the defaults:
// 30m window, 15m skew fallback, 12h clamp, 5m margin, 5s throttle.
type Options struct {
	Client        Client
	Logger        logpkg.Logger
	DefaultWindow time.Duration
	SkewWindow    time.Duration
	MaxWindow     time.Duration
	Margin        time.Duration
	Throttle      time.Duration
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		client:        opts.Client,
		logger:        logpkg.NewLogger().WithComponent("backfill"),
		defaultWindow: opts.DefaultWindow,
		skewWindow:    opts.SkewWindow,
		maxWindow:     opts.MaxWindow,
		margin:        opts.Margin,
		throttle:      opts.Throttle,
		now:           time.Now,
	}
	if opts.Logger != nil {
		c.logger = opts.Logger.WithComponent("backfill")
	}
	if c.defaultWindow <= 0 {
		c.defaultWindow = 30 * time.Minute
	}
	if c.skewWindow <= 0 {
		c.skewWindow = 15 * time.Minute
	}
	if c.maxWindow <= 0 {
		c.maxWindow = 12 * time.Hour
	}
	if c.margin <= 0 {
		c.margin = 5 * time.Minute
	}
	if c.throttle <= 0 {
		c.throttle = 5 * time.Second
	}
	return c
}

// SetAnchor records the newest event time observed on the live channel. The
// next pass resumes from it instead of a blind lookback.
func (c *Coordinator) SetAnchor(t time.Time) {
	c.mu.Lock()
	if t.After(c.anchor) {
		c.anchor = t
	}
	c.mu.Unlock()
}

// Window computes the catch-up range ending now. cachedTs is the newest
// persisted timestamp, used when no live anchor exists; zero means unknown.
func (c *Coordinator) Window(cachedTs time.Time) (from, to time.Time) {
	to = c.now()

	c.mu.Lock()
	anchor := c.anchor
	c.mu.Unlock()

	switch {
	case !anchor.IsZero():
		from = anchor
	case !cachedTs.IsZero():
		from = cachedTs
	default:
		from = to.Add(-c.defaultWindow)
	}
	// A future lower bound means clock skew between us and the server.
	if !from.Before(to) {
		from = to.Add(-c.skewWindow)
	}
	if to.Sub(from) > c.maxWindow {
		from = to.Add(-c.maxWindow)
	}
	from = from.Add(-c.margin)
	return from, to
}

// Result is one completed backfill pass.
type Result struct {
	Events []traccar.Event
	From   time.Time
	To     time.Time
	// Skipped is true when the pass was throttled away.
	Skipped bool
}

// Run performs one pass: compute the window, fetch event history for the
// tracked devices (or every known device when none are tracked), and return
// the aggregate in fetch order. Passes closer together than the throttle
// interval are skipped. Per-device fetch failures are logged and skipped.
func (c *Coordinator) Run(ctx context.Context, tracked []int64, cachedTs time.Time) (Result, error) {
	c.mu.Lock()
	if !c.lastRun.IsZero() && c.now().Sub(c.lastRun) < c.throttle {
		c.mu.Unlock()
		return Result{Skipped: true}, nil
	}
	c.lastRun = c.now()
	c.mu.Unlock()

	from, to := c.Window(cachedTs)

	ids := tracked
	if len(ids) == 0 {
		devices, err := c.client.Devices(ctx)
		if err != nil {
			return Result{From: from, To: to}, err
		}
		ids = make([]int64, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID)
		}
	}

	var events []traccar.Event
	for _, id := range ids {
		evs, err := c.client.Events(ctx, id, from, to)
		if err != nil {
			c.logger.Warn("event history fetch failed",
				logpkg.Int64("device", id), logpkg.Err(err))
			continue
		}
		events = append(events, evs...)
	}

	c.mu.Lock()
	for _, ev := range events {
		if ev.EventTime.After(c.anchor) {
			c.anchor = ev.EventTime
		}
	}
	c.mu.Unlock()

	if len(events) > 0 {
		c.logger.Info("events recovered",
			logpkg.Int("count", len(events)),
			logpkg.Time("from", from), logpkg.Time("to", to))
	}
	return Result{Events: events, From: from, To: to}, nil
}
