package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
)

type fakeClient struct {
	devices []traccar.Device
	events  map[int64][]traccar.Event
	calls   []int64
	froms   []time.Time
	tos     []time.Time
}

func (f *fakeClient) Devices(ctx context.Context) ([]traccar.Device, error) {
	return append([]traccar.Device(nil), f.devices...), nil
}

func (f *fakeClient) Events(ctx context.Context, deviceID int64, from, to time.Time) ([]traccar.Event, error) {
	f.calls = append(f.calls, deviceID)
	f.froms = append(f.froms, from)
	f.tos = append(f.tos, to)
	return f.events[deviceID], nil
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(fc *fakeClient) *Coordinator {
	c := New(Options{Client: fc})
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestWindowDefaultLookback(t *testing.T) {
	c := newTestCoordinator(&fakeClient{})
	from, to := c.Window(time.Time{})
	if !to.Equal(fixedNow) {
		t.Fatalf("to=%v", to)
	}
	// 30m default + 5m margin
	if want := fixedNow.Add(-35 * time.Minute); !from.Equal(want) {
		t.Fatalf("from=%v, want %v", from, want)
	}
}

func TestWindowUsesCachedTimestamp(t *testing.T) {
	c := newTestCoordinator(&fakeClient{})
	cached := fixedNow.Add(-10 * time.Minute)
	from, _ := c.Window(cached)
	if want := cached.Add(-5 * time.Minute); !from.Equal(want) {
		t.Fatalf("from=%v, want cached minus margin %v", from, want)
	}
}

func TestWindowAnchorBeatsCached(t *testing.T) {
	c := newTestCoordinator(&fakeClient{})
	anchor := fixedNow.Add(-2 * time.Minute)
	c.SetAnchor(anchor)
	from, _ := c.Window(fixedNow.Add(-20 * time.Minute))
	if want := anchor.Add(-5 * time.Minute); !from.Equal(want) {
		t.Fatalf("from=%v, want anchor minus margin %v", from, want)
	}
}

func TestWindowClockSkewFallback(t *testing.T) {
	c := newTestCoordinator(&fakeClient{})
	c.SetAnchor(fixedNow.Add(time.Hour)) // future anchor
	from, to := c.Window(time.Time{})
	if want := to.Add(-15*time.Minute - 5*time.Minute); !from.Equal(want) {
		t.Fatalf("from=%v, want skew fallback %v", from, want)
	}
}

func TestWindowClampedToMaxWidth(t *testing.T) {
	c := newTestCoordinator(&fakeClient{})
	from, to := c.Window(fixedNow.Add(-48 * time.Hour))
	if want := to.Add(-12*time.Hour - 5*time.Minute); !from.Equal(want) {
		t.Fatalf("from=%v, want clamp %v", from, want)
	}
}

func TestRunThrottled(t *testing.T) {
	fc := &fakeClient{devices: []traccar.Device{{ID: 1}}}
	c := newTestCoordinator(fc)
	ctx := context.Background()

	if _, err := c.Run(ctx, nil, time.Time{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	res, err := c.Run(ctx, nil, time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("second run within the throttle window must be skipped")
	}
	if len(fc.calls) != 1 {
		t.Fatalf("throttled run still fetched: %v", fc.calls)
	}
}

func TestRunAggregatesTrackedDevices(t *testing.T) {
	ev1 := traccar.Event{ID: 1, DeviceID: 1, Type: "alarm", EventTime: fixedNow.Add(-time.Minute)}
	ev2 := traccar.Event{ID: 2, DeviceID: 2, Type: "deviceOnline", EventTime: fixedNow.Add(-30 * time.Second)}
	fc := &fakeClient{events: map[int64][]traccar.Event{1: {ev1}, 2: {ev2}}}
	c := newTestCoordinator(fc)

	res, err := c.Run(context.Background(), []int64{1, 2}, time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("want 2 recovered events, got %d", len(res.Events))
	}
	if res.Events[0].ID != 1 || res.Events[1].ID != 2 {
		t.Fatalf("events not in fetch order: %+v", res.Events)
	}
	// anchor advanced to the newest recovered event
	from, _ := c.Window(time.Time{})
	if want := ev2.EventTime.Add(-5 * time.Minute); !from.Equal(want) {
		t.Fatalf("anchor not advanced: from=%v", from)
	}
}

func TestRunFallsBackToDeviceList(t *testing.T) {
	fc := &fakeClient{
		devices: []traccar.Device{{ID: 7}, {ID: 8}},
		events:  map[int64][]traccar.Event{},
	}
	c := newTestCoordinator(fc)
	if _, err := c.Run(context.Background(), nil, time.Time{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fc.calls) != 2 {
		t.Fatalf("expected event fetch per listed device, got %v", fc.calls)
	}
}
