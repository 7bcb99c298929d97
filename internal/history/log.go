package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
	pebblestore "github.com/zouhayral/gps-tracker-app-version1-sub012/internal/storage/pebble"
)

// Log is an append-only per-device position history on Pebble. Appends are
// best effort from the caller's point of view: the live pipeline treats a
// failed append as a logged warning, never a dropped update.
type Log struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq map[int64]uint64
}

// Open initializes the log. Last sequences are loaded lazily per device.
func Open(db *pebblestore.DB) *Log {
	return &Log{db: db, lastSeq: make(map[int64]uint64)}
}

// lastSeqLocked returns the device's last assigned sequence, loading it from
// metadata on first touch.
func (l *Log) lastSeqLocked(deviceID int64) uint64 {
	if seq, ok := l.lastSeq[deviceID]; ok {
		return seq
	}
	var seq uint64
	if meta, err := l.db.Get(keyMeta(deviceID)); err == nil && len(meta) >= 8 {
		seq = binary.BigEndian.Uint64(meta[:8])
	}
	l.lastSeq[deviceID] = seq
	return seq
}

// Append writes one position to the device's history as an atomic batch.
func (l *Log) Append(ctx context.Context, deviceID int64, pos *model.Position) (uint64, error) {
	payload, err := json.Marshal(pos)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.lastSeqLocked(deviceID) + 1
	b := l.db.NewBatch()
	defer b.Close()

	val := encodeRecord(pos.FixTime.UnixMilli(), payload)
	if err := b.Set(keyEntry(deviceID, seq), val, nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(keyMeta(deviceID), meta[:], nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	l.lastSeq[deviceID] = seq
	return seq, nil
}

// Entry is one decoded history record.
type Entry struct {
	Seq      uint64
	Position *model.Position
}

// Range returns entries whose fix time falls in [from, to], oldest first.
// A zero limit means no limit. Corrupt records are skipped.
func (l *Log) Range(deviceID int64, from, to time.Time, limit int) ([]Entry, error) {
	low := keyEntry(deviceID, 0)
	hi := keyEntry(deviceID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	fromMs := from.UnixMilli()
	toMs := to.UnixMilli()
	var out []Entry
	for ok := iter.First(); ok; ok = iter.Next() {
		tsMs, payload, okDec := decodeRecord(iter.Value())
		if !okDec {
			continue
		}
		if tsMs < fromMs {
			continue
		}
		if tsMs > toMs {
			break
		}
		var pos model.Position
		if err := json.Unmarshal(payload, &pos); err != nil {
			continue
		}
		out = append(out, Entry{Seq: entrySeq(iter.Key()), Position: &pos})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LatestTimestamp returns the fix time of the device's newest history entry,
// or a zero time when the device has no history.
func (l *Log) LatestTimestamp(deviceID int64) (time.Time, error) {
	low := keyEntry(deviceID, 0)
	hi := keyEntry(deviceID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return time.Time{}, err
	}
	defer iter.Close()

	if !iter.Last() {
		return time.Time{}, nil
	}
	tsMs, _, ok := decodeRecord(iter.Value())
	if !ok {
		return time.Time{}, nil
	}
	return time.UnixMilli(tsMs).UTC(), nil
}

// TrimOlderThan deletes entries with fix time before cutoff, batched up to
// batchLimit keys per commit. Returns the number of deleted entries.
func (l *Log) TrimOlderThan(ctx context.Context, deviceID int64, cutoff time.Time, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	cutoffMs := cutoff.UnixMilli()

	low := keyEntry(deviceID, 0)
	hi := keyEntry(deviceID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			tsMs, _, okDec := decodeRecord(iter.Value())
			if okDec && tsMs >= cutoffMs {
				// entries are appended in arrival order; stop at the first keeper
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n > 0 {
			if err := l.db.CommitBatch(ctx, b); err != nil {
				b.Close()
				return deleted, err
			}
		}
		b.Close()
	}
	return deleted, nil
}

// Devices returns the IDs of every device with history, from metadata keys.
func (l *Log) Devices() ([]int64, error) {
	low := append([]byte(nil), histPrefix...)
	hi := append(append([]byte(nil), histPrefix...), 0xFF)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []int64
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) != len(histPrefix)+8+len(metaSuffix) {
			continue
		}
		id := int64(binary.BigEndian.Uint64(key[len(histPrefix) : len(histPrefix)+8]))
		out = append(out, id)
	}
	return out, nil
}
