package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomy-av/roomlink"
)

func TestDecodeInboundVariants(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"snapshot","states":{"d1":{"status":"offline","power":false,"extra":{"input":"hdmi1"}}}}`))
		require.NoError(t, err)
		snap, ok := msg.(*Snapshot)
		require.True(t, ok)
		require.Contains(t, snap.States, "d1")
		assert.Equal(t, roomlink.StatusOffline, snap.States["d1"].Status)
		assert.Equal(t, "off", snap.States["d1"].PowerLabel())
		assert.Equal(t, "hdmi1", snap.States["d1"].Extra["input"])
	})

	t.Run("device_state_update", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"device_state_update","device_id":"d1","state":{"status":"online","power":null},"timestamp":"2024-05-01T10:00:00.123456+00:00"}`))
		require.NoError(t, err)
		upd := msg.(*DeviceStateUpdate)
		assert.Equal(t, "d1", upd.DeviceID)
		assert.Equal(t, roomlink.StatusOnline, upd.State.Status)
		assert.Nil(t, upd.State.Power)
		assert.NotNil(t, upd.State.Extra)
		ts, ok := upd.Time()
		require.True(t, ok)
		assert.Equal(t, 2024, ts.Year())
	})

	t.Run("command_result", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"command_result","device_id":"proj","result":"True"}`))
		require.NoError(t, err)
		res := msg.(*CommandResult)
		assert.Equal(t, "proj", res.DeviceID)
		assert.Equal(t, "True", res.ResultText())
	})

	t.Run("command_result with structured result", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"command_result","device_id":"amp","result":{"volume": 30, "muted": false}}`))
		require.NoError(t, err)
		assert.Equal(t, `{"volume":30,"muted":false}`, msg.(*CommandResult).ResultText())

		msg, err = DecodeInbound([]byte(`{"type":"command_result","device_id":"amp","result":42}`))
		require.NoError(t, err)
		assert.Equal(t, "42", msg.(*CommandResult).ResultText())

		msg, err = DecodeInbound([]byte(`{"type":"command_result","device_id":"amp"}`))
		require.NoError(t, err)
		assert.Equal(t, "", msg.(*CommandResult).ResultText())
	})

	t.Run("snapshot drops null entries", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"snapshot","states":{"d1":null,"d2":{"status":"online"}}}`))
		require.NoError(t, err)
		snap := msg.(*Snapshot)
		assert.NotContains(t, snap.States, "d1")
		require.Contains(t, snap.States, "d2")
		assert.NotNil(t, snap.States["d2"].Extra)
	})

	t.Run("scene_result", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"scene_result","scene":"Presentation","results":[{"device":"d1","ok":true},{"device":"d2","ok":false,"error":"timeout"}]}`))
		require.NoError(t, err)
		res := msg.(*SceneResult)
		assert.Equal(t, "Presentation", res.Scene)
		require.Len(t, res.Results, 2)
		assert.Equal(t, 1, res.Failed())
		assert.Equal(t, "timeout", res.Results[1].Error)
	})

	t.Run("error", func(t *testing.T) {
		msg, err := DecodeInbound([]byte(`{"type":"error","message":"Device 'x' not found"}`))
		require.NoError(t, err)
		assert.Equal(t, TypeError, msg.Type())
		assert.Equal(t, "Device 'x' not found", msg.(*ErrorMessage).Message)
	})
}

func TestDecodeInboundIgnoresUnknownFields(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"device_state_update","device_id":"d1","seq":9,"state":{"status":"online","power":true,"extra":{},"firmware":"2.1"}}`))
	require.NoError(t, err)
	assert.Equal(t, roomlink.StatusOnline, msg.(*DeviceStateUpdate).State.Status)
}

func TestDecodeInboundUnknownStatus(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"device_state_update","device_id":"d1","state":{"status":"warming_up"}}`))
	require.NoError(t, err)
	assert.Equal(t, roomlink.StatusUnknown, msg.(*DeviceStateUpdate).State.Status)
}

func TestDecodeInboundRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{"type":`, roomlink.ErrMalformedMessage},
		{"no type", `{"states":{}}`, roomlink.ErrMalformedMessage},
		{"unknown type", `{"type":"hello"}`, roomlink.ErrUnknownMessageType},
		{"snapshot without states", `{"type":"snapshot"}`, roomlink.ErrMalformedMessage},
		{"update without device", `{"type":"device_state_update","state":{"status":"online"}}`, roomlink.ErrMalformedMessage},
		{"update without state", `{"type":"device_state_update","device_id":"d1"}`, roomlink.ErrMalformedMessage},
		{"wrong field type", `{"type":"snapshot","states":[1,2]}`, roomlink.ErrMalformedMessage},
		{"scene result without scene", `{"type":"scene_result","results":[]}`, roomlink.ErrMalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.payload))
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, msg)
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	cmd, err := NewCommand("proj", "power_on", nil)
	require.NoError(t, err)
	b, err := Encode(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command","device_id":"proj","command":"power_on","params":{}}`, string(b))

	cmd, err = NewCommand("proj", "set_input", map[string]any{"input": "hdmi2"})
	require.NoError(t, err)
	b, err = Encode(cmd)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, map[string]any{"input": "hdmi2"}, decoded["params"])

	sc, err := NewScene("Presentation")
	require.NoError(t, err)
	b, err = Encode(sc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"scene","scene_name":"Presentation"}`, string(b))
}

func TestBuildersValidate(t *testing.T) {
	_, err := NewCommand("", "power_on", nil)
	assert.ErrorIs(t, err, roomlink.ErrInvalidParameter)
	_, err = NewCommand("proj", "  ", nil)
	assert.ErrorIs(t, err, roomlink.ErrInvalidParameter)
	_, err = NewScene("")
	assert.ErrorIs(t, err, roomlink.ErrInvalidParameter)
}
