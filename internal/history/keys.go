package history

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - hist/{device_be8}/m
// - hist/{device_be8}/e/{seq_be8}

var (
	histPrefix = []byte("hist/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyMeta builds the per-device metadata key.
func keyMeta(deviceID int64) []byte {
	k := make([]byte, 0, len(histPrefix)+8+len(metaSuffix))
	k = append(k, histPrefix...)
	k = appendBE8(k, uint64(deviceID))
	k = append(k, metaSuffix...)
	return k
}

// keyEntry builds the entry key with a big-endian sequence for proper ordering.
func keyEntry(deviceID int64, seq uint64) []byte {
	k := make([]byte, 0, len(histPrefix)+8+len(entrySeg)+8)
	k = append(k, histPrefix...)
	k = appendBE8(k, uint64(deviceID))
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// entrySeq extracts the sequence from an entry key.
func entrySeq(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
