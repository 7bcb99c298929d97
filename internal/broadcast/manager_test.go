package broadcast

import (
	"testing"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Hour // tests drive Sweep explicitly
	}
	m := NewManager(opts)
	t.Cleanup(m.Close)
	return m
}

func recv(t *testing.T, ch <-chan *model.Position) *model.Position {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a position")
		return nil
	}
}

func pos(id int64, lat float64) *model.Position {
	return &model.Position{ID: id, DeviceID: 1, Latitude: lat, FixTime: time.Now()}
}

func TestSubscribeDeliversExplicitEmptyValue(t *testing.T) {
	m := newTestManager(t, Options{Direct: true})
	sub := m.Subscribe(1, nil)
	defer sub.Cancel()
	if got := recv(t, sub.C()); got != nil {
		t.Fatalf("expected explicit nil for unknown device, got %+v", got)
	}
}

func TestSubscribeDeliversInitialValue(t *testing.T) {
	m := newTestManager(t, Options{Direct: true})
	sub := m.Subscribe(1, pos(5, 48.85))
	defer sub.Cancel()
	got := recv(t, sub.C())
	if got == nil || got.ID != 5 {
		t.Fatalf("initial value not delivered: %+v", got)
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	m := newTestManager(t, Options{Direct: true})
	sub := m.Subscribe(1, nil)
	defer sub.Cancel()
	recv(t, sub.C()) // drain initial

	m.Publish(1, pos(6, 48.86))
	got := recv(t, sub.C())
	if got == nil || got.ID != 6 {
		t.Fatalf("published position not delivered: %+v", got)
	}
}

func TestLateSubscriberSeesLatest(t *testing.T) {
	m := newTestManager(t, Options{Direct: true})
	first := m.Subscribe(1, nil)
	recv(t, first.C())
	m.Publish(1, pos(7, 48.87))
	recv(t, first.C())

	late := m.Subscribe(1, nil)
	defer late.Cancel()
	got := recv(t, late.C())
	if got == nil || got.ID != 7 {
		t.Fatalf("late subscriber did not get latest: %+v", got)
	}
	first.Cancel()
}

func TestCapEvictsIdleLRU(t *testing.T) {
	m := newTestManager(t, Options{Direct: true, MaxStreams: 2, IdleTimeout: time.Hour})
	s1 := m.Subscribe(1, nil)
	s1.Cancel() // idle now
	time.Sleep(time.Millisecond)
	s2 := m.Subscribe(2, nil)
	s2.Cancel()

	s3 := m.Subscribe(3, nil)
	defer s3.Cancel()

	if m.HasStream(1) {
		t.Fatalf("least-recently-active idle stream survived cap eviction")
	}
	if !m.HasStream(2) || !m.HasStream(3) {
		t.Fatalf("wrong stream evicted")
	}
}

func TestCapIsSoftWhenAllActive(t *testing.T) {
	m := newTestManager(t, Options{Direct: true, MaxStreams: 1, IdleTimeout: time.Hour})
	s1 := m.Subscribe(1, nil)
	defer s1.Cancel()
	s2 := m.Subscribe(2, nil)
	defer s2.Cancel()

	if !m.HasStream(1) || !m.HasStream(2) {
		t.Fatalf("stream with an active listener was evicted")
	}
}

func TestSweepEvictsIdleStreams(t *testing.T) {
	m := newTestManager(t, Options{Direct: true, IdleTimeout: 10 * time.Millisecond})
	active := m.Subscribe(1, nil)
	defer active.Cancel()
	idle := m.Subscribe(2, nil)
	idle.Cancel()

	time.Sleep(30 * time.Millisecond)
	m.Sweep()

	if m.HasStream(2) {
		t.Fatalf("idle stream survived sweep")
	}
	if !m.HasStream(1) {
		t.Fatalf("active stream evicted by sweep")
	}
}

func TestEvictionInvalidatesMemoization(t *testing.T) {
	m := newTestManager(t, Options{Direct: true, IdleTimeout: time.Millisecond})
	s := m.Subscribe(1, pos(9, 48.89))
	recv(t, s.C())
	s.Cancel()
	time.Sleep(10 * time.Millisecond)
	m.Sweep()
	if m.Latest(1) != nil {
		t.Fatalf("eviction must drop the latest-value entry")
	}

	// a fresh subscribe gets a working stream, not a closed one
	s2 := m.Subscribe(1, nil)
	defer s2.Cancel()
	if got := recv(t, s2.C()); got != nil {
		t.Fatalf("stale latest value leaked into fresh stream: %+v", got)
	}
	m.Publish(1, pos(10, 48.90))
	got := recv(t, s2.C())
	if got == nil || got.ID != 10 {
		t.Fatalf("fresh stream not live after eviction: %+v", got)
	}
}

func TestBackpressureCoalescesWithinGap(t *testing.T) {
	m := newTestManager(t, Options{Quality: QualityLow}) // 120ms gap
	sub := m.Subscribe(1, nil)
	defer sub.Cancel()
	recv(t, sub.C()) // initial

	// first publish delivers immediately and opens the gap
	m.Publish(1, pos(1, 48.01))
	got := recv(t, sub.C())
	if got.ID != 1 {
		t.Fatalf("gap-opening publish not delivered first: %+v", got)
	}

	// inside the gap only the newest survives
	m.Publish(1, pos(2, 48.02))
	m.Publish(1, pos(3, 48.03))
	got = recv(t, sub.C())
	if got.ID != 3 {
		t.Fatalf("coalescing kept %d, want newest", got.ID)
	}
}

func TestQualityEmitGaps(t *testing.T) {
	if QualityHigh.EmitGap() != 33*time.Millisecond ||
		QualityMedium.EmitGap() != 66*time.Millisecond ||
		QualityLow.EmitGap() != 120*time.Millisecond {
		t.Fatalf("unexpected emit gaps: %v %v %v",
			QualityHigh.EmitGap(), QualityMedium.EmitGap(), QualityLow.EmitGap())
	}
	if ParseQuality("high") != QualityHigh || ParseQuality("") != QualityMedium || ParseQuality("low") != QualityLow {
		t.Fatalf("ParseQuality mapping wrong")
	}
}
