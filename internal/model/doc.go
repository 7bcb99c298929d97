// Package model defines the fused telemetry value types and the merge
// algorithm that combines overlapping, out-of-order, partially-populated
// updates into one authoritative snapshot per device.
package model
