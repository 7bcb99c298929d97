package cache

import "encoding/binary"

// Keyspace (prefix-scoped):
// - {prefix}/device/{id_be8}

var deviceSeg = []byte("/device/")

func deviceKey(prefix string, deviceID int64) []byte {
	b := make([]byte, 0, len(prefix)+len(deviceSeg)+8)
	b = append(b, prefix...)
	b = append(b, deviceSeg...)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(deviceID))
	b = append(b, id[:]...)
	return b
}

func devicePrefix(prefix string) []byte {
	b := make([]byte, 0, len(prefix)+len(deviceSeg))
	b = append(b, prefix...)
	b = append(b, deviceSeg...)
	return b
}

func deviceIDFromKey(prefix string, key []byte) (int64, bool) {
	p := devicePrefix(prefix)
	if len(key) != len(p)+8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(key[len(p):])), true
}
