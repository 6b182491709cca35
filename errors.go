package roomlink

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrSceneNotFound      = errors.New("scene not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrNotConnected       = errors.New("not connected")
	ErrClosed             = errors.New("closed")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrRoomUnavailable    = errors.New("room unavailable")
)
