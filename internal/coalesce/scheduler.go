// Package coalesce collapses bursts of distinct per-device updates into one
// delayed publish. This is not deduplication: the inputs differ, only the
// last one scheduled inside the quiet period survives.
package coalesce

import (
	"sync"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
)

// Scheduler owns one pending timer per device. Scheduling replaces any
// pending timer and its snapshot; only the latest scheduled snapshot is ever
// published.
type Scheduler struct {
	quiet   time.Duration
	publish func(*model.VehicleSnapshot)

	mu      sync.Mutex
	pending map[int64]*entry
	stopped bool
}

type entry struct {
	timer *time.Timer
	snap  *model.VehicleSnapshot
}

// New builds a scheduler. quiet <= 0 defaults to 300ms. publish is invoked
// from a timer goroutine after the quiet period elapses with no newer
// schedule for the device.
func New(quiet time.Duration, publish func(*model.VehicleSnapshot)) *Scheduler {
	if quiet <= 0 {
		quiet = 300 * time.Millisecond
	}
	return &Scheduler{
		quiet:   quiet,
		publish: publish,
		pending: make(map[int64]*entry),
	}
}

// Schedule queues snap for delayed publish, discarding any pending snapshot
// for the same device.
func (s *Scheduler) Schedule(snap *model.VehicleSnapshot) {
	if snap == nil {
		return
	}
	deviceID := snap.DeviceID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if e, ok := s.pending[deviceID]; ok {
		e.timer.Stop()
		e.snap = snap
		e.timer.Reset(s.quiet)
		return
	}
	e := &entry{snap: snap}
	e.timer = time.AfterFunc(s.quiet, func() { s.fire(deviceID) })
	s.pending[deviceID] = e
}

func (s *Scheduler) fire(deviceID int64) {
	s.mu.Lock()
	e, ok := s.pending[deviceID]
	if ok {
		delete(s.pending, deviceID)
	}
	stopped := s.stopped
	s.mu.Unlock()
	if !ok || stopped {
		return
	}
	s.publish(e.snap)
}

// Cancel drops any pending publish for the device.
func (s *Scheduler) Cancel(deviceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[deviceID]; ok {
		e.timer.Stop()
		delete(s.pending, deviceID)
	}
}

// Stop cancels all pending timers. Idempotent; Schedule becomes a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}

// PendingCount returns the number of devices with a queued publish.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
