package broadcast

import (
	"sort"
	"sync"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Quality selects the emit gap for backpressured publishing. The gap tracks
// the consumer's realistic redraw rate; publishes inside the gap window are
// coalesced to the newest value, never queued.
type Quality int

const (
	QualityHigh Quality = iota
	QualityMedium
	QualityLow
)

// EmitGap returns the minimum spacing between deliveries for the quality.
func (q Quality) EmitGap() time.Duration {
	switch q {
	case QualityHigh:
		return 33 * time.Millisecond
	case QualityLow:
		return 120 * time.Millisecond
	default:
		return 66 * time.Millisecond
	}
}

// ParseQuality maps a config string to a Quality (default medium).
func ParseQuality(s string) Quality {
	switch s {
	case "high":
		return QualityHigh
	case "low":
		return QualityLow
	default:
		return QualityMedium
	}
}

// subBufLen is the per-subscriber channel capacity. Senders never block: on a
// full buffer the oldest value is dropped so the newest always lands.
const subBufLen = 16

// Manager fans the latest position out to per-device subscribers while
// keeping memory bounded regardless of how many devices have ever been
// observed. Streams with zero listeners are evicted by idle timeout or by an
// LRU pass when the stream cap is reached; a stream with an active listener
// is never evicted.
type Manager struct {
	maxStreams  int
	idleTimeout time.Duration
	sweepEvery  time.Duration
	direct      bool
	logger      logpkg.Logger

	mu      sync.Mutex
	streams map[int64]*stream
	latest  map[int64]*model.Position
	quality Quality

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type stream struct {
	deviceID   int64
	subs       map[*Subscription]struct{}
	lastAccess time.Time

	// gapOpen marks a running emit-gap window; pending holds the value that
	// will flush when it expires.
	gapOpen  bool
	pending  *model.Position
	gapTimer *time.Timer
	closed   bool
}

// Subscription is one listener on a device stream. Values arrive on C();
// Cancel releases the listener slot.
type Subscription struct {
	deviceID int64
	ch       chan *model.Position
	m        *Manager
	once     sync.Once
}

// C returns the receive channel. A nil position is the explicit "no position
// yet" value delivered at subscribe time.
func (s *Subscription) C() <-chan *model.Position { return s.ch }

// Cancel detaches the listener and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.m.mu.Lock()
		if st, ok := s.m.streams[s.deviceID]; ok {
			delete(st.subs, s)
			st.lastAccess = time.Now()
		}
		close(s.ch)
		s.m.mu.Unlock()
	})
}

// Options configures a Manager.
type Options struct {
	// MaxStreams caps concurrently materialized per-device streams
	// (default 500). A soft cap: when every stream has listeners, creation
	// proceeds anyway rather than starving a new subscriber.
	MaxStreams int
	// IdleTimeout evicts listener-less streams idle this long (default 60s).
	IdleTimeout time.Duration
	// SweepInterval is the eviction sweep period (default 30s).
	SweepInterval time.Duration
	// Direct disables emit-gap backpressure; deliveries happen on the next
	// scheduling tick instead.
	Direct  bool
	Quality Quality
	Logger  logpkg.Logger
}

// NewManager builds the manager and starts its eviction sweep.
func NewManager(opts Options) *Manager {
	maxStreams := opts.MaxStreams
	if maxStreams <= 0 {
		maxStreams = 500
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	m := &Manager{
		maxStreams:  maxStreams,
		idleTimeout: idle,
		sweepEvery:  sweep,
		direct:      opts.Direct,
		quality:     opts.Quality,
		logger:      logger.WithComponent("broadcast"),
		streams:     make(map[int64]*stream),
		latest:      make(map[int64]*model.Position),
		stopCh:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// SetQuality changes the emit gap used by subsequent gap windows.
func (m *Manager) SetQuality(q Quality) {
	m.mu.Lock()
	m.quality = q
	m.mu.Unlock()
}

// Subscribe attaches a listener to the device's stream, materializing it if
// needed. The current latest position (or initial, or an explicit nil) is
// delivered immediately so a new subscriber is never behind an in-flight
// publish the caller already applied to its cache.
func (m *Manager) Subscribe(deviceID int64, initial *model.Position) *Subscription {
	m.mu.Lock()
	st := m.streams[deviceID]
	if st == nil || st.closed {
		if len(m.streams) >= m.maxStreams {
			m.evictOneIdleLocked()
		}
		st = &stream{deviceID: deviceID, subs: make(map[*Subscription]struct{})}
		m.streams[deviceID] = st
	}
	st.lastAccess = time.Now()
	sub := &Subscription{deviceID: deviceID, ch: make(chan *model.Position, subBufLen), m: m}
	st.subs[sub] = struct{}{}
	last, ok := m.latest[deviceID]
	if !ok {
		last = initial
		if initial != nil {
			m.latest[deviceID] = initial
		}
	}
	// Explicit empty value when nothing is known yet.
	sub.ch <- last
	m.mu.Unlock()
	return sub
}

// Publish delivers pos to the device's listeners. In the default
// backpressured mode a delivery opens an emit-gap window; publishes inside
// the window retain only the newest value and flush when it expires. In
// direct mode delivery is deferred to the next scheduling tick.
func (m *Manager) Publish(deviceID int64, pos *model.Position) {
	m.mu.Lock()
	st, ok := m.streams[deviceID]
	if !ok || st.closed {
		m.mu.Unlock()
		return
	}
	m.latest[deviceID] = pos
	st.lastAccess = time.Now()

	if m.direct {
		m.mu.Unlock()
		time.AfterFunc(0, func() { m.deliverAsync(deviceID, pos) })
		return
	}

	if st.gapOpen {
		st.pending = pos
		m.mu.Unlock()
		return
	}
	st.gapOpen = true
	deliverLocked(st, pos)
	gap := m.quality.EmitGap()
	st.gapTimer = time.AfterFunc(gap, func() { m.flushGap(deviceID) })
	m.mu.Unlock()
}

// flushGap runs at emit-gap expiry: flush the coalesced value and re-arm, or
// close the window when nothing arrived.
func (m *Manager) flushGap(deviceID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[deviceID]
	if !ok || st.closed {
		return
	}
	if st.pending == nil {
		st.gapOpen = false
		return
	}
	pos := st.pending
	st.pending = nil
	deliverLocked(st, pos)
	st.gapTimer = time.AfterFunc(m.quality.EmitGap(), func() { m.flushGap(deviceID) })
}

func (m *Manager) deliverAsync(deviceID int64, pos *model.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[deviceID]
	if !ok || st.closed {
		return
	}
	deliverLocked(st, pos)
}

// deliverLocked sends to every listener without blocking: on a full buffer
// the oldest value is dropped so the newest lands.
func deliverLocked(st *stream, pos *model.Position) {
	for sub := range st.subs {
		select {
		case sub.ch <- pos:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- pos:
			default:
			}
		}
	}
}

// Latest returns the cached latest position for the device, if any.
func (m *Manager) Latest(deviceID int64) *model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest[deviceID]
}

// StreamCount returns the number of materialized streams.
func (m *Manager) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// ListenerCount returns the number of active listeners for the device.
func (m *Manager) ListenerCount(deviceID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.streams[deviceID]; ok {
		return len(st.subs)
	}
	return 0
}

// HasStream reports whether a stream is materialized for the device.
func (m *Manager) HasStream(deviceID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[deviceID]
	return ok
}

// Sweep runs one eviction pass: drop streams idle past the timeout, then
// trim the oldest idle streams down to the cap. Exposed for tests; the
// background loop calls it periodically.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, st := range m.streams {
		if len(st.subs) == 0 && now.Sub(st.lastAccess) > m.idleTimeout {
			m.evictLocked(id, st)
		}
	}
	if len(m.streams) > m.maxStreams {
		idle := make([]*stream, 0, len(m.streams))
		for _, st := range m.streams {
			if len(st.subs) == 0 {
				idle = append(idle, st)
			}
		}
		sort.Slice(idle, func(i, j int) bool { return idle[i].lastAccess.Before(idle[j].lastAccess) })
		for _, st := range idle {
			if len(m.streams) <= m.maxStreams {
				break
			}
			m.evictLocked(st.deviceID, st)
		}
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}

// evictOneIdleLocked removes the least-recently-active idle stream, if any.
func (m *Manager) evictOneIdleLocked() {
	var victim *stream
	for _, st := range m.streams {
		if len(st.subs) > 0 {
			continue
		}
		if victim == nil || st.lastAccess.Before(victim.lastAccess) {
			victim = st
		}
	}
	if victim != nil {
		m.evictLocked(victim.deviceID, victim)
	}
}

// evictLocked closes the stream and drops its latest-position entry. The
// registry deletion also invalidates subscribe memoization: the next
// Subscribe builds a fresh stream instead of touching a closed one.
func (m *Manager) evictLocked(deviceID int64, st *stream) {
	st.closed = true
	if st.gapTimer != nil {
		st.gapTimer.Stop()
	}
	delete(m.streams, deviceID)
	delete(m.latest, deviceID)
	m.logger.Debug("stream evicted", logpkg.Int64("device", deviceID))
}

// Close stops the sweep loop and cancels every subscription. Idempotent.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.mu.Lock()
		var subs []*Subscription
		for id, st := range m.streams {
			st.closed = true
			if st.gapTimer != nil {
				st.gapTimer.Stop()
			}
			for sub := range st.subs {
				subs = append(subs, sub)
			}
			delete(m.streams, id)
			delete(m.latest, id)
		}
		m.mu.Unlock()
		// Cancel takes the lock itself; never call it while holding it.
		for _, sub := range subs {
			sub.Cancel()
		}
	})
}
