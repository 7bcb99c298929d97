package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Cache is the two-tier snapshot store: a hot in-memory map backed by a
// persistent cold tier. The hot tier is authoritative for the process
// lifetime; cold writes are fire-and-forget on a background job queue and
// their failures are logged, never surfaced.
type Cache struct {
	db     *pebblestore.DB
	prefix string
	maxAge time.Duration
	logger logpkg.Logger

	mu     sync.RWMutex
	hot    map[int64]*model.VehicleSnapshot
	hits   uint64
	misses uint64

	jobs    chan func()
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// Options configures a Cache.
type Options struct {
	DB     *pebblestore.DB
	Prefix string
	// MaxAge evicts entries whose snapshot timestamp is older (default 30m).
	MaxAge time.Duration
	Logger logpkg.Logger
	// JobQueueLen sizes the cold-write queue (default 256).
	JobQueueLen int
}

// Stats summarizes cache effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// New builds the cache and eagerly loads the cold tier into the hot tier,
// purging entries that are already stale or unparsable.
func New(opts Options) (*Cache, error) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	queueLen := opts.JobQueueLen
	if queueLen <= 0 {
		queueLen = 256
	}
	c := &Cache{
		db:     opts.DB,
		prefix: opts.Prefix,
		maxAge: maxAge,
		logger: logger.WithComponent("cache"),
		hot:    make(map[int64]*model.VehicleSnapshot),
		jobs:   make(chan func(), queueLen),
	}
	if err := c.loadColdTier(); err != nil {
		return nil, err
	}
	c.wg.Add(1)
	go c.runJobs()
	return c, nil
}

// runJobs drains the cold-write queue. Job failures are the job's own
// business: each job logs and swallows its error.
func (c *Cache) runJobs() {
	defer c.wg.Done()
	for job := range c.jobs {
		job()
	}
}

func (c *Cache) loadColdTier() error {
	lo := devicePrefix(c.prefix)
	hi := append(append([]byte{}, lo...), 0xFF)
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	var purge [][]byte
	loaded := 0
	for ok := it.First(); ok; ok = it.Next() {
		id, ok := deviceIDFromKey(c.prefix, it.Key())
		if !ok {
			purge = append(purge, append([]byte(nil), it.Key()...))
			continue
		}
		var snap model.VehicleSnapshot
		if err := json.Unmarshal(it.Value(), &snap); err != nil || snap.DeviceID == 0 {
			purge = append(purge, append([]byte(nil), it.Key()...))
			continue
		}
		if c.stale(&snap) {
			purge = append(purge, append([]byte(nil), it.Key()...))
			continue
		}
		c.hot[id] = &snap
		loaded++
	}
	for _, key := range purge {
		if err := c.db.Delete(key); err != nil {
			c.logger.Warn("purge failed", logpkg.Err(err))
		}
	}
	c.logger.Info("cold tier loaded", logpkg.Int("entries", loaded), logpkg.Int("purged", len(purge)))
	return nil
}

func (c *Cache) stale(snap *model.VehicleSnapshot) bool {
	return time.Since(snap.Timestamp) > c.maxAge
}

// Get returns the cached snapshot for a device, or nil. A hot entry older
// than MaxAge is evicted from both tiers and counts as a miss.
func (c *Cache) Get(deviceID int64) *model.VehicleSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.hot[deviceID]
	if !ok {
		c.misses++
		return nil
	}
	if c.stale(snap) {
		delete(c.hot, deviceID)
		c.deleteColdAsync(deviceID)
		c.misses++
		return nil
	}
	c.hits++
	return snap
}

// Put merges the snapshot into the hot tier and schedules the cold write.
// It returns the merged snapshot and whether it differs from the previous
// cached value; callers skip publishing when unchanged.
func (c *Cache) Put(snap *model.VehicleSnapshot) (*model.VehicleSnapshot, bool) {
	if snap == nil {
		return nil, false
	}
	c.mu.Lock()
	prev := c.hot[snap.DeviceID]
	merged := model.Merge(prev, snap)
	c.hot[snap.DeviceID] = merged
	c.mu.Unlock()

	changed := !merged.Equal(prev)
	if changed {
		c.putColdAsync(merged)
	}
	return merged, changed
}

// Remove deletes the device from both tiers.
func (c *Cache) Remove(deviceID int64) {
	c.mu.Lock()
	delete(c.hot, deviceID)
	c.mu.Unlock()
	c.deleteColdAsync(deviceID)
}

// Clear wipes both tiers.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.hot = make(map[int64]*model.VehicleSnapshot)
	c.mu.Unlock()
	c.enqueue(func() {
		lo := devicePrefix(c.prefix)
		hi := append(append([]byte{}, lo...), 0xFF)
		it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if err != nil {
			c.logger.Warn("clear failed", logpkg.Err(err))
			return
		}
		defer func() { _ = it.Close() }()
		for ok := it.First(); ok; ok = it.Next() {
			if err := c.db.Delete(append([]byte(nil), it.Key()...)); err != nil {
				c.logger.Warn("clear delete failed", logpkg.Err(err))
			}
		}
	})
}

// LoadAll returns a copy of the hot tier, excluding stale entries.
func (c *Cache) LoadAll() map[int64]*model.VehicleSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]*model.VehicleSnapshot, len(c.hot))
	for id, snap := range c.hot {
		if c.stale(snap) {
			continue
		}
		out[id] = snap
	}
	return out
}

// LatestTimestamp returns the newest snapshot timestamp across devices,
// used to seed backfill windows. Zero when empty.
func (c *Cache) LatestTimestamp() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest time.Time
	for _, snap := range c.hot {
		if snap.Timestamp.After(latest) {
			latest = snap.Timestamp
		}
	}
	return latest
}

// Stats returns hit/miss counters. HitRate is 0 with no accesses.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Size: len(c.hot), Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Flush blocks until all queued cold writes have drained. Test helper.
func (c *Cache) Flush() {
	done := make(chan struct{})
	c.enqueue(func() { close(done) })
	<-done
}

// Close stops the job queue after draining it. Idempotent.
func (c *Cache) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.jobs)
	c.wg.Wait()
}

func (c *Cache) enqueue(job func()) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.jobs <- job:
	default:
		// Queue full: run inline rather than dropping the write.
		c.closeMu.Unlock()
		job()
		c.closeMu.Lock()
	}
}

func (c *Cache) putColdAsync(snap *model.VehicleSnapshot) {
	key := deviceKey(c.prefix, snap.DeviceID)
	val, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("encode failed", logpkg.Int64("device", snap.DeviceID), logpkg.Err(err))
		return
	}
	c.enqueue(func() {
		if err := c.db.Set(key, val); err != nil {
			c.logger.Warn("cold write failed", logpkg.Int64("device", snap.DeviceID), logpkg.Err(err))
		}
	})
}

func (c *Cache) deleteColdAsync(deviceID int64) {
	key := deviceKey(c.prefix, deviceID)
	c.enqueue(func() {
		if err := c.db.Delete(key); err != nil {
			c.logger.Warn("cold delete failed", logpkg.Int64("device", deviceID), logpkg.Err(err))
		}
	})
}
