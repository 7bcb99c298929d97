// Package dedup short-circuits redundant pushes with per-device last-seen
// fingerprints: a server-assigned position id when present, content hashes
// otherwise. Purely advisory; fingerprints are never persisted.
package dedup

import (
	"hash/fnv"
	"math"
	"strconv"
	"sync"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/traccar"
)

// Filter tracks per-device fingerprints. Safe for concurrent use.
type Filter struct {
	mu         sync.Mutex
	lastPosID  map[int64]int64
	lastPosSum map[int64]uint64
	lastDevSum map[int64]uint64
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{
		lastPosID:  make(map[int64]int64),
		lastPosSum: make(map[int64]uint64),
		lastDevSum: make(map[int64]uint64),
	}
}

// IsDuplicatePosition reports whether the position repeats the last one seen
// for its device, recording its fingerprint when it does not. The id check is
// authoritative and skips hashing; the content hash is the fallback for
// sources that omit ids and tolerates float jitter via fixed-precision
// rounding.
func (f *Filter) IsDuplicatePosition(p traccar.Position) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID != 0 {
		if last, ok := f.lastPosID[p.DeviceID]; ok && last == p.ID {
			return true
		}
		f.lastPosID[p.DeviceID] = p.ID
		// Keep the hash fingerprint in step so a later id-less push of the
		// same fix is still caught.
		f.lastPosSum[p.DeviceID] = positionHash(p)
		return false
	}
	sum := positionHash(p)
	if last, ok := f.lastPosSum[p.DeviceID]; ok && last == sum {
		return true
	}
	f.lastPosSum[p.DeviceID] = sum
	return false
}

// IsDuplicateDevice reports whether the device payload repeats the last one
// seen, recording its fingerprint when it does not.
func (f *Filter) IsDuplicateDevice(d traccar.Device) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := deviceHash(d)
	if last, ok := f.lastDevSum[d.ID]; ok && last == sum {
		return true
	}
	f.lastDevSum[d.ID] = sum
	return false
}

// Forget drops all fingerprints for a device.
func (f *Filter) Forget(deviceID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lastPosID, deviceID)
	delete(f.lastPosSum, deviceID)
	delete(f.lastDevSum, deviceID)
}

func positionHash(p traccar.Position) uint64 {
	h := fnv.New64a()
	writeInt(h, p.DeviceID)
	writeInt(h, p.Timestamp().UnixMilli())
	writeInt(h, round(p.Latitude, 1e6))
	writeInt(h, round(p.Longitude, 1e6))
	writeInt(h, round(p.Speed, 10))
	return h.Sum64()
}

func deviceHash(d traccar.Device) uint64 {
	h := fnv.New64a()
	writeInt(h, d.ID)
	writeInt(h, d.PositionID)
	writeInt(h, d.LastUpdate.UnixMilli())
	_, _ = h.Write([]byte(d.Status))
	if v, ok := d.Ignition(); ok {
		writeBool(h, v)
	}
	if v, ok := d.Motion(); ok {
		writeBool(h, v)
	}
	return h.Sum64()
}

func round(v float64, scale float64) int64 {
	return int64(math.Round(v * scale))
}

func writeInt(h interface{ Write([]byte) (int, error) }, v int64) {
	_, _ = h.Write([]byte(strconv.FormatInt(v, 10)))
	_, _ = h.Write([]byte{'|'})
}

func writeBool(h interface{ Write([]byte) (int, error) }, v bool) {
	if v {
		_, _ = h.Write([]byte{'1', '|'})
	} else {
		_, _ = h.Write([]byte{'0', '|'})
	}
}
