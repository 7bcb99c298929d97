package cache

import (
	"testing"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
)

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCache(t *testing.T, db *pebblestore.DB, maxAge time.Duration) *Cache {
	t.Helper()
	c, err := New(Options{DB: db, Prefix: "test", MaxAge: maxAge})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func snap(deviceID int64, at time.Time) *model.VehicleSnapshot {
	return &model.VehicleSnapshot{
		DeviceID:  deviceID,
		Timestamp: at,
		Position:  &model.Position{ID: at.UnixMilli(), DeviceID: deviceID, Latitude: 48.85, Longitude: 2.35, FixTime: at},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t, newTestDB(t), time.Hour)
	now := time.Now().UTC().Truncate(time.Millisecond)

	merged, changed := c.Put(snap(1, now))
	if !changed {
		t.Fatalf("first put must report a change")
	}
	got := c.Get(1)
	if got == nil || !got.Timestamp.Equal(merged.Timestamp) {
		t.Fatalf("get after put: %+v", got)
	}
}

func TestPutMergesMonotonically(t *testing.T) {
	c := newTestCache(t, newTestDB(t), time.Hour)
	now := time.Now().UTC().Truncate(time.Millisecond)

	c.Put(snap(1, now))
	_, changed := c.Put(snap(1, now.Add(-time.Minute)))
	if changed {
		t.Fatalf("stale put must not report a change")
	}
	got := c.Get(1)
	if !got.Timestamp.Equal(now) {
		t.Fatalf("stale put overwrote cache: %v", got.Timestamp)
	}
}

func TestPutIdenticalIsNoChange(t *testing.T) {
	c := newTestCache(t, newTestDB(t), time.Hour)
	now := time.Now().UTC().Truncate(time.Millisecond)

	s := snap(1, now)
	c.Put(s)
	_, changed := c.Put(snap(1, now))
	if changed {
		t.Fatalf("identical put must not report a change")
	}
}

func TestColdTierSurvivesReopen(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	c, err := New(Options{DB: db, Prefix: "test", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	c.Put(snap(7, now))
	c.Flush()
	c.Close()

	c2 := newTestCache(t, db, time.Hour)
	got := c2.Get(7)
	if got == nil || got.DeviceID != 7 || !got.Timestamp.Equal(now) {
		t.Fatalf("cold tier did not restore snapshot: %+v", got)
	}
}

func TestStaleEntriesEvictedOnGet(t *testing.T) {
	c := newTestCache(t, newTestDB(t), 50*time.Millisecond)
	c.Put(snap(1, time.Now().UTC()))
	time.Sleep(80 * time.Millisecond)

	if got := c.Get(1); got != nil {
		t.Fatalf("stale snapshot served: %+v", got)
	}
	st := c.Stats()
	if st.Misses == 0 {
		t.Fatalf("stale read must count as a miss")
	}
}

func TestStaleEntriesSkippedOnReload(t *testing.T) {
	db := newTestDB(t)
	c, err := New(Options{DB: db, Prefix: "test", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	c.Put(snap(1, time.Now().UTC().Add(-2*time.Hour)))
	c.Put(snap(2, time.Now().UTC()))
	c.Flush()
	c.Close()

	c2 := newTestCache(t, db, 30*time.Minute)
	all := c2.LoadAll()
	if _, ok := all[1]; ok {
		t.Fatalf("stale entry loaded from cold tier")
	}
	if _, ok := all[2]; !ok {
		t.Fatalf("fresh entry missing after reload")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t, newTestDB(t), time.Hour)
	st := c.Stats()
	if st.HitRate != 0 {
		t.Fatalf("hit rate with no accesses must be 0, got %v", st.HitRate)
	}
	c.Put(snap(1, time.Now().UTC()))
	c.Get(1)
	c.Get(2)
	st = c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("hits=%d misses=%d", st.Hits, st.Misses)
	}
	if st.Size != 1 {
		t.Fatalf("size=%d", st.Size)
	}
}

func TestLatestTimestamp(t *testing.T) {
	c := newTestCache(t, newTestDB(t), time.Hour)
	if !c.LatestTimestamp().IsZero() {
		t.Fatalf("empty cache must report zero latest timestamp")
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	c.Put(snap(1, now.Add(-time.Minute)))
	c.Put(snap(2, now))
	if !c.LatestTimestamp().Equal(now) {
		t.Fatalf("latest timestamp: %v", c.LatestTimestamp())
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache(t, newTestDB(t), time.Hour)
	c.Put(snap(1, time.Now().UTC()))
	c.Remove(1)
	if c.Get(1) != nil {
		t.Fatalf("snapshot survived Remove")
	}
}
