// Package protocol defines the JSON messages exchanged with a room controller
// over the live room connection.
//
// Inbound messages form a closed set keyed by their "type" field. Decoding is
// lenient about extra fields, so a newer controller can add data without
// breaking older clients, but strict about the fields each variant needs.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nomy-av/roomlink"
)

type MessageType string

const (
	TypeSnapshot          MessageType = "snapshot"
	TypeDeviceStateUpdate MessageType = "device_state_update"
	TypeCommandResult     MessageType = "command_result"
	TypeSceneResult       MessageType = "scene_result"
	TypeError             MessageType = "error"

	TypeCommand MessageType = "command"
	TypeScene   MessageType = "scene"
)

// Inbound is a message sent by the controller. The concrete type is one of
// *Snapshot, *DeviceStateUpdate, *CommandResult, *SceneResult or *ErrorMessage.
type Inbound interface {
	Type() MessageType
	inbound()
}

// Snapshot replaces every known device state at once. Entries sent as null
// are left out, so readers fall back to the directory seed for them.
type Snapshot struct {
	States map[string]roomlink.DeviceState `json:"states"`
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw struct {
		States map[string]*roomlink.DeviceState `json:"states"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.States = nil
	if raw.States == nil {
		return nil
	}
	s.States = make(map[string]roomlink.DeviceState, len(raw.States))
	for id, st := range raw.States {
		if st != nil {
			s.States[id] = *st
		}
	}
	return nil
}

// DeviceStateUpdate replaces the state of exactly one device.
type DeviceStateUpdate struct {
	DeviceID  string                `json:"device_id"`
	State     *roomlink.DeviceState `json:"state"`
	Timestamp string                `json:"timestamp,omitempty"`
}

// CommandResult reports the outcome of a previously sent command. Result is
// whatever the driver returned and may be any JSON value.
type CommandResult struct {
	DeviceID string          `json:"device_id"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// ResultText renders Result for display: strings as they are, other values
// as compact JSON, and "" when there is none.
func (r *CommandResult) ResultText() string {
	raw := bytes.TrimSpace(r.Result)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// DeviceOutcome is the result of one device command within a scene.
type DeviceOutcome struct {
	Device string `json:"device"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// SceneResult carries per-device outcomes of a scene activation.
type SceneResult struct {
	Scene   string          `json:"scene"`
	Results []DeviceOutcome `json:"results"`
}

// Failed counts the outcomes that were not ok.
func (r *SceneResult) Failed() int {
	n := 0
	for _, o := range r.Results {
		if !o.OK {
			n++
		}
	}
	return n
}

// ErrorMessage is a controller-side problem not tied to a device.
type ErrorMessage struct {
	Message string `json:"message"`
}

func (*Snapshot) Type() MessageType          { return TypeSnapshot }
func (*DeviceStateUpdate) Type() MessageType { return TypeDeviceStateUpdate }
func (*CommandResult) Type() MessageType     { return TypeCommandResult }
func (*SceneResult) Type() MessageType       { return TypeSceneResult }
func (*ErrorMessage) Type() MessageType      { return TypeError }

func (*Snapshot) inbound()          {}
func (*DeviceStateUpdate) inbound() {}
func (*CommandResult) inbound()     {}
func (*SceneResult) inbound()       {}
func (*ErrorMessage) inbound()      {}

// Time parses the update timestamp. ok is false when it is absent or unparseable.
func (u *DeviceStateUpdate) Time() (t time.Time, ok bool) {
	if u.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, u.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type envelope struct {
	Type MessageType `json:"type"`
}

// DecodeInbound parses one controller frame. Errors wrap
// roomlink.ErrMalformedMessage or roomlink.ErrUnknownMessageType; callers on
// the receive path drop such frames.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", roomlink.ErrMalformedMessage, err)
	}

	var msg Inbound
	switch env.Type {
	case TypeSnapshot:
		msg = &Snapshot{}
	case TypeDeviceStateUpdate:
		msg = &DeviceStateUpdate{}
	case TypeCommandResult:
		msg = &CommandResult{}
	case TypeSceneResult:
		msg = &SceneResult{}
	case TypeError:
		msg = &ErrorMessage{}
	case "":
		return nil, fmt.Errorf("%w: missing type", roomlink.ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", roomlink.ErrUnknownMessageType, env.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", roomlink.ErrMalformedMessage, env.Type, err)
	}
	if err := validate(msg); err != nil {
		return nil, err
	}
	normalize(msg)
	return msg, nil
}

func validate(msg Inbound) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s without %s", roomlink.ErrMalformedMessage, msg.Type(), field)
	}
	switch m := msg.(type) {
	case *Snapshot:
		if m.States == nil {
			return missing("states")
		}
	case *DeviceStateUpdate:
		if m.DeviceID == "" {
			return missing("device_id")
		}
		if m.State == nil {
			return missing("state")
		}
	case *CommandResult:
		if m.DeviceID == "" {
			return missing("device_id")
		}
	case *SceneResult:
		if m.Scene == "" {
			return missing("scene")
		}
	}
	return nil
}

// normalize fills defaults the controller is allowed to omit.
func normalize(msg Inbound) {
	switch m := msg.(type) {
	case *Snapshot:
		for id, st := range m.States {
			m.States[id] = roomlink.NewDeviceState(st.Status, st.Power, st.Extra)
		}
	case *DeviceStateUpdate:
		st := roomlink.NewDeviceState(m.State.Status, m.State.Power, m.State.Extra)
		m.State = &st
	}
}
