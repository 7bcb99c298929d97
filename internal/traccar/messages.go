package traccar

import (
	"encoding/json"
	"time"

	"github.com/zouhayral/gps-tracker-app-version1-sub012/internal/model"
)

// Device is a device object from the REST device list or a push update.
type Device struct {
	ID         int64                  `json:"id"`
	Name       string                 `json:"name"`
	Status     string                 `json:"status,omitempty"`
	PositionID int64                  `json:"positionId,omitempty"`
	LastUpdate time.Time              `json:"lastUpdate,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Position is a raw position payload from either channel.
type Position struct {
	ID         int64                  `json:"id,omitempty"`
	DeviceID   int64                  `json:"deviceId"`
	FixTime    time.Time              `json:"fixTime"`
	DeviceTime time.Time              `json:"deviceTime,omitempty"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	Altitude   float64                `json:"altitude,omitempty"`
	Speed      float64                `json:"speed,omitempty"`
	Course     float64                `json:"course,omitempty"`
	Accuracy   float64                `json:"accuracy,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Event is a server-side event (alarm, ignition change, geofence, ...).
type Event struct {
	ID         int64                  `json:"id,omitempty"`
	Type       string                 `json:"type"`
	DeviceID   int64                  `json:"deviceId,omitempty"`
	PositionID int64                  `json:"positionId,omitempty"`
	EventTime  time.Time              `json:"eventTime,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Message is the parsed representation of one push-channel frame. Exactly one
// of the payload slices is typically populated; Connected and Disconnected
// are synthesized by the socket itself, never present on the wire.
type Message struct {
	Connected    bool       `json:"-"`
	Disconnected bool       `json:"-"`
	Positions    []Position `json:"positions,omitempty"`
	Devices      []Device   `json:"devices,omitempty"`
	Events       []Event    `json:"events,omitempty"`
}

// ParseMessage decodes a push-channel frame into the typed representation.
// Loosely-typed maps never leave this boundary.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Timestamp returns the authoritative event time of the position: the fix
// time when present, else the device time.
func (p Position) Timestamp() time.Time {
	if !p.FixTime.IsZero() {
		return p.FixTime
	}
	return p.DeviceTime
}

// Snapshot projects the position and its attributes onto the fused model.
// Unknown attributes are dropped; items without a device id yield nil.
func (p Position) Snapshot() *model.VehicleSnapshot {
	if p.DeviceID == 0 {
		return nil
	}
	snap := &model.VehicleSnapshot{
		DeviceID:  p.DeviceID,
		Timestamp: p.Timestamp(),
		Position: &model.Position{
			ID:        p.ID,
			DeviceID:  p.DeviceID,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Altitude:  p.Altitude,
			Speed:     p.Speed,
			Course:    p.Course,
			Accuracy:  p.Accuracy,
			FixTime:   p.Timestamp(),
		},
	}
	applyAttributes(snap, p.Attributes)
	return snap
}

// Snapshot projects a device payload (status, attributes) onto the fused
// model. Devices carry no coordinates; position stays absent.
func (d Device) Snapshot() *model.VehicleSnapshot {
	if d.ID == 0 {
		return nil
	}
	ts := d.LastUpdate
	if ts.IsZero() {
		ts = time.Now()
	}
	snap := &model.VehicleSnapshot{
		DeviceID:   d.ID,
		Timestamp:  ts,
		LastUpdate: d.LastUpdate,
	}
	applyAttributes(snap, d.Attributes)
	return snap
}

// Ignition returns the ignition attribute when present.
func (d Device) Ignition() (bool, bool) { return attrBool(d.Attributes, "ignition") }

// Motion returns the motion attribute when present.
func (d Device) Motion() (bool, bool) { return attrBool(d.Attributes, "motion") }

func applyAttributes(snap *model.VehicleSnapshot, attrs map[string]interface{}) {
	if len(attrs) == 0 {
		return
	}
	if v, ok := attrBool(attrs, "ignition"); ok {
		if v {
			snap.EngineState = model.EnginePtr(model.EngineOn)
		} else {
			snap.EngineState = model.EnginePtr(model.EngineOff)
		}
	}
	if v, ok := attrBool(attrs, "motion"); ok {
		snap.Motion = model.BoolPtr(v)
	}
	if v, ok := attrFloat(attrs, "distance"); ok {
		snap.Distance = model.Float64Ptr(v)
	}
	if v, ok := attrFloat(attrs, "totalDistance"); ok {
		snap.TotalDistance = model.Float64Ptr(v)
	}
	if v, ok := attrFloat(attrs, "hours"); ok {
		snap.Hours = model.Float64Ptr(v)
	}
	if v, ok := attrFloat(attrs, "batteryLevel"); ok {
		snap.Battery = model.Float64Ptr(v)
	}
	if v, ok := attrFloat(attrs, "power"); ok {
		snap.Power = model.Float64Ptr(v)
	}
	if v, ok := attrFloat(attrs, "sat"); ok {
		snap.Satellites = model.IntPtr(int(v))
	}
	if v, ok := attrFloat(attrs, "rssi"); ok {
		snap.RSSI = model.IntPtr(int(v))
	}
	if v, ok := attrFloat(attrs, "signal"); ok {
		snap.Signal = model.IntPtr(int(v))
	}
	if v, ok := attrFloat(attrs, "hdop"); ok {
		snap.HDOP = model.Float64Ptr(v)
	}
	if v, ok := attrBool(attrs, "blocked"); ok {
		snap.Blocked = model.BoolPtr(v)
	}
	if v, ok := attrs["alarm"]; ok {
		if s, ok := v.(string); ok {
			snap.Alarm = s
		}
	}
}

func attrBool(attrs map[string]interface{}, key string) (bool, bool) {
	v, ok := attrs[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func attrFloat(attrs map[string]interface{}, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
