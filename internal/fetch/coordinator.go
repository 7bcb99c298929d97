package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Client is the REST surface the coordinator needs. *traccar.Client
// satisfies it; tests substitute a fake.
type Client interface {
	Devices(ctx context.Context) ([]traccar.Device, error)
	Positions(ctx context.Context, deviceIDs []int64) ([]traccar.Position, error)
}

// Coordinator serializes on-demand REST fetches. Concurrent and closely
// spaced requests for the same device collapse onto one network call: a
// fetch result is reused for the per-device min interval (default 5s).
// While offline every fetch is a silent no-op; absence of an update, not an
// error.
type Coordinator struct {
	client      Client
	online      func() bool
	minInterval time.Duration
	logger      logpkg.Logger

	mu    sync.Mutex
	calls map[int64]*call
}

type call struct {
	done chan struct{}
	snap *model.VehicleSnapshot
	err  error
	at   time.Time // completion time, zero while in flight
}

// Options configures a Coordinator.
type Options struct {
	Client Client
	// Online reports current connectivity. Nil means always online.
	Online func() bool
	// MinInterval is the per-device memoization window (default 5s).
	MinInterval time.Duration
	Logger      logpkg.Logger
}

func New(opts Options) *Coordinator {
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}
	online := opts.Online
	if online == nil {
		online = func() bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Coordinator{
		client:      opts.Client,
		online:      online,
		minInterval: minInterval,
		logger:      logger.WithComponent("fetch"),
		calls:       make(map[int64]*call),
	}
}

// FetchOne returns the freshest snapshot for one device. Returns (nil, nil)
// while offline. Calls within the min interval of a completed fetch get the
// memoized result; calls while a fetch is in flight wait for it.
func (c *Coordinator) FetchOne(ctx context.Context, deviceID int64) (*model.VehicleSnapshot, error) {
	if !c.online() {
		return nil, nil
	}

	c.mu.Lock()
	if cl, ok := c.calls[deviceID]; ok {
		if cl.at.IsZero() || time.Since(cl.at) < c.minInterval {
			c.mu.Unlock()
			select {
			case <-cl.done:
				return cl.snap, cl.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	cl := &call{done: make(chan struct{})}
	c.calls[deviceID] = cl
	c.mu.Unlock()

	snap, err := c.fetchOne(ctx, deviceID)

	c.mu.Lock()
	cl.snap, cl.err = snap, err
	cl.at = time.Now()
	c.mu.Unlock()
	close(cl.done)
	return snap, err
}

func (c *Coordinator) fetchOne(ctx context.Context, deviceID int64) (*model.VehicleSnapshot, error) {
	positions, err := c.client.Positions(ctx, []int64{deviceID})
	if err != nil {
		return nil, err
	}
	var newest *model.VehicleSnapshot
	for i := range positions {
		snap := positions[i].Snapshot()
		if snap == nil || snap.DeviceID != deviceID {
			continue
		}
		if newest == nil || snap.Timestamp.After(newest.Timestamp) {
			newest = snap
		}
	}
	if newest != nil {
		inferEngineState(newest)
	}
	return newest, nil
}

// FetchMany refreshes all devices with two batched calls: the device list,
// then latest positions for every listed device. Returns (nil, nil) offline.
// Invalid entries inside either batch are skipped, never fatal.
func (c *Coordinator) FetchMany(ctx context.Context, deviceIDs []int64) (map[int64]*model.VehicleSnapshot, error) {
	if !c.online() {
		return nil, nil
	}

	devices, err := c.client.Devices(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*model.VehicleSnapshot, len(devices))
	want := make(map[int64]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		want[id] = true
	}
	ids := make([]int64, 0, len(devices))
	for i := range devices {
		snap := devices[i].Snapshot()
		if snap == nil {
			continue
		}
		if len(want) > 0 && !want[snap.DeviceID] {
			continue
		}
		out[snap.DeviceID] = snap
		ids = append(ids, snap.DeviceID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	positions, err := c.client.Positions(ctx, ids)
	if err != nil {
		// device-level state is still usable
		c.logger.Warn("batched position fetch failed", logpkg.Err(err))
		return out, nil
	}
	for i := range positions {
		snap := positions[i].Snapshot()
		if snap == nil {
			continue
		}
		if base, ok := out[snap.DeviceID]; ok {
			out[snap.DeviceID] = model.Merge(base, snap)
		} else if len(want) == 0 || want[snap.DeviceID] {
			out[snap.DeviceID] = snap
		}
	}
	for _, snap := range out {
		inferEngineState(snap)
	}
	return out, nil
}

// inferEngineState fills a missing engine state from the motion flag. The
// 1ms bump makes the inferred snapshot strictly newer than the raw one so a
// monotonic merge against previously cached state picks it up.
func inferEngineState(snap *model.VehicleSnapshot) {
	if snap.EngineState != nil || snap.Motion == nil {
		return
	}
	state := model.EngineOff
	if *snap.Motion {
		state = model.EngineOn
	}
	snap.EngineState = model.EnginePtr(state)
	snap.Timestamp = snap.Timestamp.Add(time.Millisecond)
}
