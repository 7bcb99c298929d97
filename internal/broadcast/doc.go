// Package broadcast fans merged vehicle state out to listeners. Per-device
// position streams are bounded by an LRU-idle eviction policy and paced by a
// quality-mode emit gap; a separate bus carries raw server events with
// optional CEL filtering.
package broadcast
