package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
)

type fakeClient struct {
	mu        sync.Mutex
	devices   []traccar.Device
	positions []traccar.Position
	posCalls  int32
	devCalls  int32
	delay     time.Duration
}

func (f *fakeClient) Devices(ctx context.Context) ([]traccar.Device, error) {
	atomic.AddInt32(&f.devCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]traccar.Device(nil), f.devices...), nil
}

func (f *fakeClient) Positions(ctx context.Context, deviceIDs []int64) ([]traccar.Position, error) {
	atomic.AddInt32(&f.posCalls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range deviceIDs {
		want[id] = true
	}
	var out []traccar.Position
	for _, p := range f.positions {
		if want[p.DeviceID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestFetchOneOfflineIsNoop(t *testing.T) {
	fc := &fakeClient{positions: []traccar.Position{{ID: 1, DeviceID: 1, FixTime: time.Now()}}}
	c := New(Options{Client: fc, Online: func() bool { return false }})
	snap, err := c.FetchOne(context.Background(), 1)
	if err != nil {
		t.Fatalf("offline fetch errored: %v", err)
	}
	if snap != nil {
		t.Fatalf("offline fetch returned data")
	}
	if atomic.LoadInt32(&fc.posCalls) != 0 {
		t.Fatalf("offline fetch hit the network")
	}
}

func TestFetchOneMemoized(t *testing.T) {
	fc := &fakeClient{positions: []traccar.Position{{ID: 1, DeviceID: 1, Latitude: 48.85, FixTime: time.Now()}}}
	c := New(Options{Client: fc, MinInterval: time.Hour})
	ctx := context.Background()

	s1, err := c.FetchOne(ctx, 1)
	if err != nil || s1 == nil {
		t.Fatalf("fetch: %v %v", s1, err)
	}
	s2, err := c.FetchOne(ctx, 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if atomic.LoadInt32(&fc.posCalls) != 1 {
		t.Fatalf("memoized fetch hit the network %d times", fc.posCalls)
	}
	if s1 != s2 {
		t.Fatalf("memoized fetch returned a different result")
	}
}

func TestFetchOneCollapsesConcurrentCalls(t *testing.T) {
	fc := &fakeClient{
		positions: []traccar.Position{{ID: 1, DeviceID: 1, FixTime: time.Now()}},
		delay:     50 * time.Millisecond,
	}
	c := New(Options{Client: fc, MinInterval: time.Hour})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FetchOne(ctx, 1); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&fc.posCalls); got != 1 {
		t.Fatalf("concurrent fetches made %d network calls, want 1", got)
	}
}

func TestFetchOneExpiresMemoization(t *testing.T) {
	fc := &fakeClient{positions: []traccar.Position{{ID: 1, DeviceID: 1, FixTime: time.Now()}}}
	c := New(Options{Client: fc, MinInterval: 20 * time.Millisecond})
	ctx := context.Background()

	c.FetchOne(ctx, 1)
	time.Sleep(40 * time.Millisecond)
	c.FetchOne(ctx, 1)
	if got := atomic.LoadInt32(&fc.posCalls); got != 2 {
		t.Fatalf("expired memoization reused, calls=%d", got)
	}
}

func TestEngineStateInferredFromMotion(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	fc := &fakeClient{positions: []traccar.Position{{
		ID: 1, DeviceID: 1, FixTime: now,
		Attributes: map[string]interface{}{"motion": true},
	}}}
	c := New(Options{Client: fc})
	snap, err := c.FetchOne(context.Background(), 1)
	if err != nil || snap == nil {
		t.Fatalf("fetch: %v %v", snap, err)
	}
	if snap.EngineState == nil || *snap.EngineState != model.EngineOn {
		t.Fatalf("engine state not inferred from motion")
	}
	if !snap.Timestamp.Equal(now.Add(time.Millisecond)) {
		t.Fatalf("inferred snapshot not bumped: %v", snap.Timestamp)
	}
}

func TestIgnitionBeatsInference(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	fc := &fakeClient{positions: []traccar.Position{{
		ID: 1, DeviceID: 1, FixTime: now,
		Attributes: map[string]interface{}{"ignition": false, "motion": true},
	}}}
	c := New(Options{Client: fc})
	snap, _ := c.FetchOne(context.Background(), 1)
	if snap.EngineState == nil || *snap.EngineState != model.EngineOff {
		t.Fatalf("explicit ignition overridden by motion inference")
	}
	if !snap.Timestamp.Equal(now) {
		t.Fatalf("explicit ignition must not bump the timestamp")
	}
}

func TestFetchManyBatches(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	fc := &fakeClient{
		devices: []traccar.Device{
			{ID: 1, Status: "online", LastUpdate: now},
			{ID: 2, Status: "offline", LastUpdate: now},
		},
		positions: []traccar.Position{
			{ID: 10, DeviceID: 1, Latitude: 48.85, FixTime: now.Add(-time.Second)},
		},
	}
	c := New(Options{Client: fc})
	snaps, err := c.FetchMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch many: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("want 2 snapshots, got %d", len(snaps))
	}
	if snaps[1].Position == nil || snaps[1].Position.ID != 10 {
		t.Fatalf("position not merged into device snapshot")
	}
	if atomic.LoadInt32(&fc.devCalls) != 1 || atomic.LoadInt32(&fc.posCalls) != 1 {
		t.Fatalf("want one device and one position call, got %d/%d", fc.devCalls, fc.posCalls)
	}
}

func TestFetchManyKeepsPositionBehindLastUpdate(t *testing.T) {
	// The server's lastUpdate runs ahead of the position fixTime in the
	// common case; the fix must still land on the merged snapshot.
	now := time.Now().UTC().Truncate(time.Millisecond)
	fc := &fakeClient{
		devices: []traccar.Device{{ID: 1, Status: "online", LastUpdate: now}},
		positions: []traccar.Position{
			{ID: 10, DeviceID: 1, Latitude: 48.85, Longitude: 2.35, FixTime: now.Add(-2 * time.Second)},
		},
	}
	c := New(Options{Client: fc})
	snaps, err := c.FetchMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch many: %v", err)
	}
	snap := snaps[1]
	if snap == nil || snap.Position == nil || snap.Position.ID != 10 {
		t.Fatalf("position dropped behind device lastUpdate")
	}
	if !snap.Timestamp.Equal(now) {
		t.Fatalf("snapshot timestamp regressed to the fix time: %v", snap.Timestamp)
	}
}
