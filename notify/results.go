// Package notify turns result-bearing protocol messages into transient user
// notifications and delivers them to sinks (log, MQTT, in-process
// subscribers). Nothing here keeps state about past results.
package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nomy-av/roomlink/protocol"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Kind string

const (
	KindSceneResult     Kind = "scene_result"
	KindSceneRequested  Kind = "scene_requested"
	KindCommandResult   Kind = "command_result"
	KindServerError     Kind = "server_error"
	KindRoomUnavailable Kind = "room_unavailable"
)

// Notification is a one-shot signal for the user.
type Notification struct {
	ID       string    `json:"id"`
	Level    Level     `json:"level"`
	Kind     Kind      `json:"kind"`
	Room     string    `json:"room,omitempty"`
	Message  string    `json:"message"`
	Scene    string    `json:"scene,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	Failed   int       `json:"failed,omitempty"`
	At       time.Time `json:"at"`
}

func newNotification(level Level, kind Kind, msg string) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Kind:    kind,
		Message: msg,
		At:      time.Now(),
	}
}

// Interpret maps a controller message to a notification. State-bearing
// messages (snapshot, device_state_update) yield ok=false.
//
// Scene results are summarized: a single success when every device reported
// ok, otherwise a single failure carrying only the number of failed devices.
func Interpret(msg protocol.Inbound) (n Notification, ok bool) {
	switch m := msg.(type) {
	case *protocol.SceneResult:
		failed := m.Failed()
		if failed == 0 {
			n = newNotification(LevelSuccess, KindSceneResult, fmt.Sprintf("Scene %q activated", m.Scene))
		} else {
			n = newNotification(LevelError, KindSceneResult, fmt.Sprintf("Scene %q: %d error(s)", m.Scene, failed))
			n.Failed = failed
		}
		n.Scene = m.Scene
		return n, true
	case *protocol.ErrorMessage:
		return newNotification(LevelError, KindServerError, m.Message), true
	case *protocol.CommandResult:
		msg := fmt.Sprintf("Device %q: command done", m.DeviceID)
		if text := m.ResultText(); text != "" {
			msg = fmt.Sprintf("Device %q: %s", m.DeviceID, text)
		}
		n = newNotification(LevelInfo, KindCommandResult, msg)
		n.DeviceID = m.DeviceID
		return n, true
	}
	return Notification{}, false
}

// SceneRequested is the optimistic notice sent right after a scene
// activation leaves the client, before any scene_result arrives.
func SceneRequested(scene string) Notification {
	n := newNotification(LevelInfo, KindSceneRequested, fmt.Sprintf("Activating %q...", scene))
	n.Scene = scene
	return n
}

// RoomUnavailable reports a failed room directory lookup.
func RoomUnavailable(roomID string) Notification {
	n := newNotification(LevelError, KindRoomUnavailable, "Failed to load room")
	n.Room = roomID
	return n
}
