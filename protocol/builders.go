package protocol

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/nomy-av/roomlink"
)

var (
	errEmptyDevice  = errors.New("protocol: empty device id")
	errEmptyCommand = errors.New("protocol: empty command")
	errEmptyScene   = errors.New("protocol: empty scene name")
)

// Outbound is a message sent to the controller: *Command or *Scene.
type Outbound interface {
	Type() MessageType
	outbound()
}

// Command requests one device action.
type Command struct {
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Params   map[string]any `json:"params"`
}

// Scene requests activation of a named scene.
type Scene struct {
	SceneName string `json:"scene_name"`
}

func (*Command) Type() MessageType { return TypeCommand }
func (*Scene) Type() MessageType   { return TypeScene }

func (*Command) outbound() {}
func (*Scene) outbound()   {}

// NewCommand validates and constructs a command message. A nil params map is
// sent as an empty object.
func NewCommand(deviceID, command string, params map[string]any) (*Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, errors.Join(roomlink.ErrInvalidParameter, errEmptyDevice)
	}
	if strings.TrimSpace(command) == "" {
		return nil, errors.Join(roomlink.ErrInvalidParameter, errEmptyCommand)
	}
	if params == nil {
		params = map[string]any{}
	}
	return &Command{DeviceID: deviceID, Command: command, Params: params}, nil
}

// NewScene validates and constructs a scene activation message.
func NewScene(name string) (*Scene, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.Join(roomlink.ErrInvalidParameter, errEmptyScene)
	}
	return &Scene{SceneName: name}, nil
}

// Encode serializes an outbound message with its type tag.
func Encode(msg Outbound) ([]byte, error) {
	switch m := msg.(type) {
	case *Command:
		params := m.Params
		if params == nil {
			params = map[string]any{}
		}
		return json.Marshal(struct {
			Type     MessageType    `json:"type"`
			DeviceID string         `json:"device_id"`
			Command  string         `json:"command"`
			Params   map[string]any `json:"params"`
		}{TypeCommand, m.DeviceID, m.Command, params})
	case *Scene:
		return json.Marshal(struct {
			Type      MessageType `json:"type"`
			SceneName string      `json:"scene_name"`
		}{TypeScene, m.SceneName})
	default:
		return nil, roomlink.ErrInvalidParameter
	}
}
