package roomlink

import (
	"encoding/json"
	"maps"
)

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
	StatusError   DeviceStatus = "error"
	StatusUnknown DeviceStatus = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError, StatusUnknown:
		return true
	}
	return false
}

// UnmarshalJSON maps statuses this client does not know about to StatusUnknown
// so a newer controller cannot break decoding of the whole message.
func (s *DeviceStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st := DeviceStatus(raw)
	if !st.Valid() {
		st = StatusUnknown
	}
	*s = st
	return nil
}

// DeviceState is the driver-reported state of one device. Treat it as
// immutable: updates replace the whole value, Extra is never edited in place.
type DeviceState struct {
	Status DeviceStatus   `json:"status"`
	Power  *bool          `json:"power"`
	Extra  map[string]any `json:"extra"`
}

// NewDeviceState builds a DeviceState that owns its own copy of extra.
func NewDeviceState(status DeviceStatus, power *bool, extra map[string]any) DeviceState {
	st := DeviceState{Status: status, Extra: maps.Clone(extra)}
	if power != nil {
		p := *power
		st.Power = &p
	}
	if st.Extra == nil {
		st.Extra = map[string]any{}
	}
	if st.Status == "" {
		st.Status = StatusUnknown
	}
	return st
}

// Clone returns a copy that shares no maps or pointers with s.
func (s DeviceState) Clone() DeviceState {
	return NewDeviceState(s.Status, s.Power, s.Extra)
}

// PowerLabel renders the tri-state power flag.
func (s DeviceState) PowerLabel() string {
	switch {
	case s.Power == nil:
		return "unknown"
	case *s.Power:
		return "on"
	default:
		return "off"
	}
}

// Bool is a helper for building power values.
func Bool(v bool) *bool { return &v }

type Device struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Type   string       `json:"type"`
	Driver string       `json:"driver"`
	State  *DeviceState `json:"state"`
}

// Known reports whether the device carries any state.
func (d Device) Known() bool { return d.State != nil }

type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Devices     []Device `json:"devices"`
	Scenes      []string `json:"scenes"`
}

// Device looks up a device of the room directory by id.
func (r *Room) Device(id string) (Device, bool) {
	for _, d := range r.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

func (r *Room) HasDevice(id string) bool {
	_, ok := r.Device(id)
	return ok
}

func (r *Room) HasScene(name string) bool {
	for _, s := range r.Scenes {
		if s == name {
			return true
		}
	}
	return false
}
