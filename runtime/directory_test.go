package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomy-av/roomlink"
)

const exampleRoomJSON = `{
  "id": "example-room",
  "name": "Example Room",
  "description": "Ground floor meeting room",
  "devices": [
    {"id": "proj", "name": "Projector", "type": "projector", "driver": "pjlink",
     "state": {"status": "online", "power": true, "extra": {"input": "hdmi1"}}},
    {"id": "amp", "name": "", "type": null, "driver": "extron", "state": null}
  ],
  "scenes": ["Presentation", "All Off"]
}`

func TestDirectoryAdapterGetRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/rooms/example-room", r.URL.Path)
		assert.Equal(t, "Bearer lan-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(exampleRoomJSON))
	}))
	defer srv.Close()

	ad, err := NewDirectoryAdapter(DirectoryOptions{BaseURL: srv.URL + "/", Auth: roomlink.StaticAuth{Value: "Bearer lan-token"}})
	require.NoError(t, err)

	room, err := ad.GetRoom(context.Background(), "example-room")
	require.NoError(t, err)
	assert.Equal(t, "Example Room", room.Name)
	assert.Equal(t, []string{"Presentation", "All Off"}, room.Scenes)
	require.Len(t, room.Devices, 2)

	proj := room.Devices[0]
	require.True(t, proj.Known())
	assert.Equal(t, roomlink.StatusOnline, proj.State.Status)
	assert.Equal(t, "on", proj.State.PowerLabel())
	assert.Equal(t, "hdmi1", proj.State.Extra["input"])

	amp := room.Devices[1]
	assert.False(t, amp.Known())
	assert.Equal(t, "amp", amp.Name, "name falls back to the id")
}

func TestDirectoryAdapterErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		detail string
	}{
		{"not found", http.StatusNotFound, `{"detail":"Room 'nope' not found"}`, roomlink.ErrRoomNotFound, "Room 'nope' not found"},
		{"forbidden", http.StatusForbidden, ``, roomlink.ErrAccessDenied, ""},
		{"server error", http.StatusBadGateway, `upstream down`, roomlink.ErrBackendUnavailable, ""},
		{"other", http.StatusUnprocessableEntity, `{"detail":"bad room id"}`, nil, "bad room id"},
		{"other without body", http.StatusTeapot, ``, nil, "418 I'm a teapot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ad, err := NewDirectoryAdapter(DirectoryOptions{BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = ad.GetRoom(context.Background(), "nope")
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
			if tt.detail != "" {
				assert.Contains(t, err.Error(), tt.detail)
			}
		})
	}
}

func TestDirectoryAdapterUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	ad, err := NewDirectoryAdapter(DirectoryOptions{BaseURL: base})
	require.NoError(t, err)
	_, err = ad.GetRoom(context.Background(), "r1")
	assert.ErrorIs(t, err, roomlink.ErrBackendUnavailable)
}

func TestDirectoryAdapterValidation(t *testing.T) {
	_, err := NewDirectoryAdapter(DirectoryOptions{})
	assert.ErrorIs(t, err, roomlink.ErrInvalidParameter)

	ad, err := NewDirectoryAdapter(DirectoryOptions{BaseURL: "http://ctrl"})
	require.NoError(t, err)
	_, err = ad.GetRoom(context.Background(), " ")
	assert.ErrorIs(t, err, roomlink.ErrInvalidParameter)
}

func TestDirectoryAdapterBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	ad, err := NewDirectoryAdapter(DirectoryOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = ad.GetRoom(context.Background(), "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode room")
}
