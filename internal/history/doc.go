// Package history keeps an append-only per-device log of accepted positions
// in Pebble, with CRC-checked records and big-endian sequence keys so range
// scans come back in append order.
package history
