package model

import "time"

// EngineState is a definite engine observation. Absence (a nil pointer on the
// snapshot) is distinct from EngineOff: once a state has been observed it can
// only be replaced by another observation, never erased.
type EngineState int

const (
	EngineUnknown EngineState = iota
	EngineOn
	EngineOff
)

// String returns the wire name of the state.
func (s EngineState) String() string {
	switch s {
	case EngineOn:
		return "on"
	case EngineOff:
		return "off"
	default:
		return "unknown"
	}
}

// Position is a single GPS fix.
type Position struct {
	ID        int64     `json:"id,omitempty"`
	DeviceID  int64     `json:"deviceId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Course    float64   `json:"course,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	FixTime   time.Time `json:"fixTime"`
}

// VehicleSnapshot is the fused per-device telemetry state at a point in time.
// Optional fields are pointers so that "absent" and zero are distinguishable
// under merge.
type VehicleSnapshot struct {
	DeviceID  int64     `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`

	Position    *Position    `json:"position,omitempty"`
	EngineState *EngineState `json:"engineState,omitempty"`
	Motion      *bool        `json:"motion,omitempty"`

	Distance      *float64 `json:"distance,omitempty"`
	TotalDistance *float64 `json:"totalDistance,omitempty"`
	Hours         *float64 `json:"hours,omitempty"`

	Battery    *float64 `json:"battery,omitempty"`
	Power      *float64 `json:"power,omitempty"`
	Signal     *int     `json:"signal,omitempty"`
	RSSI       *int     `json:"rssi,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`

	LastUpdate time.Time `json:"lastUpdate,omitempty"`
	Blocked    *bool     `json:"blocked,omitempty"`
	Alarm      string    `json:"alarm,omitempty"`
}

// Merge fuses incoming into base under the monotonic policy: a stale incoming
// snapshot is discarded entirely, even if it carries more fields. Otherwise
// the result keeps the later of the two timestamps and, per field, incoming's
// value when populated, falling back to base's. A definite engine state
// (including "off") always replaces the previous one.
//
// Staleness is judged per payload. A position-bearing snapshot competes on
// the fix time of the position itself: device-level timestamps (lastUpdate)
// routinely run ahead of fix times, so ordering a position by the snapshot
// timestamp would drop valid fixes. An attribute-only snapshot is ordered by
// the snapshot timestamp, and a position always beats a position-less base.
//
// Both arguments are left untouched; the result is a fresh value.
func Merge(base, incoming *VehicleSnapshot) *VehicleSnapshot {
	if incoming == nil {
		return base
	}
	if base == nil {
		out := *incoming
		return &out
	}
	if staleIncoming(base, incoming) {
		return base
	}

	out := *base
	out.Timestamp = incoming.Timestamp
	if base.Timestamp.After(out.Timestamp) {
		out.Timestamp = base.Timestamp
	}

	if incoming.Position != nil {
		p := *incoming.Position
		out.Position = &p
	}
	if incoming.EngineState != nil {
		s := *incoming.EngineState
		out.EngineState = &s
	}
	if incoming.Motion != nil {
		v := *incoming.Motion
		out.Motion = &v
	}
	if incoming.Distance != nil {
		v := *incoming.Distance
		out.Distance = &v
	}
	if incoming.TotalDistance != nil {
		v := *incoming.TotalDistance
		out.TotalDistance = &v
	}
	if incoming.Hours != nil {
		v := *incoming.Hours
		out.Hours = &v
	}
	if incoming.Battery != nil {
		v := *incoming.Battery
		out.Battery = &v
	}
	if incoming.Power != nil {
		v := *incoming.Power
		out.Power = &v
	}
	if incoming.Signal != nil {
		v := *incoming.Signal
		out.Signal = &v
	}
	if incoming.RSSI != nil {
		v := *incoming.RSSI
		out.RSSI = &v
	}
	if incoming.Satellites != nil {
		v := *incoming.Satellites
		out.Satellites = &v
	}
	if incoming.HDOP != nil {
		v := *incoming.HDOP
		out.HDOP = &v
	}
	if !incoming.LastUpdate.IsZero() {
		out.LastUpdate = incoming.LastUpdate
	}
	if incoming.Blocked != nil {
		v := *incoming.Blocked
		out.Blocked = &v
	}
	if incoming.Alarm != "" {
		out.Alarm = incoming.Alarm
	}
	return &out
}

// staleIncoming is the Merge rejection gate. Fix times order positions
// against each other; snapshot timestamps order attribute-only updates.
func staleIncoming(base, incoming *VehicleSnapshot) bool {
	if incoming.Position != nil {
		if base.Position == nil {
			return false
		}
		return incoming.Position.FixTime.Before(base.Position.FixTime)
	}
	return incoming.Timestamp.Before(base.Timestamp)
}

// Equal reports structural equality. Callers use it to skip publishing when a
// merge produced no observable change.
func (s *VehicleSnapshot) Equal(o *VehicleSnapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.DeviceID != o.DeviceID || !s.Timestamp.Equal(o.Timestamp) {
		return false
	}
	if !positionsEqual(s.Position, o.Position) {
		return false
	}
	if !engineEqual(s.EngineState, o.EngineState) {
		return false
	}
	if !boolPtrEqual(s.Motion, o.Motion) || !boolPtrEqual(s.Blocked, o.Blocked) {
		return false
	}
	if !f64PtrEqual(s.Distance, o.Distance) ||
		!f64PtrEqual(s.TotalDistance, o.TotalDistance) ||
		!f64PtrEqual(s.Hours, o.Hours) ||
		!f64PtrEqual(s.Battery, o.Battery) ||
		!f64PtrEqual(s.Power, o.Power) ||
		!f64PtrEqual(s.HDOP, o.HDOP) {
		return false
	}
	if !intPtrEqual(s.Signal, o.Signal) ||
		!intPtrEqual(s.RSSI, o.RSSI) ||
		!intPtrEqual(s.Satellites, o.Satellites) {
		return false
	}
	if !s.LastUpdate.Equal(o.LastUpdate) || s.Alarm != o.Alarm {
		return false
	}
	return true
}

func positionsEqual(a, b *Position) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.DeviceID == b.DeviceID &&
		a.Latitude == b.Latitude &&
		a.Longitude == b.Longitude &&
		a.Altitude == b.Altitude &&
		a.Speed == b.Speed &&
		a.Course == b.Course &&
		a.Accuracy == b.Accuracy &&
		a.FixTime.Equal(b.FixTime)
}

func engineEqual(a, b *EngineState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func f64PtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Helper constructors for optional fields.

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// EnginePtr returns a pointer to s.
func EnginePtr(s EngineState) *EngineState { return &s }
