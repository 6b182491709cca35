package capture

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomy-av/roomlink"
	"github.com/nomy-av/roomlink/state"
)

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "room.cap")
	r, err := NewRecorder(path, nil)
	require.NoError(t, err)
	return r, path
}

func TestRecorderRoundTrip(t *testing.T) {
	r, path := newTestRecorder(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	r.now = func() time.Time { return at }

	r.Inbound("example-room", []byte(`{"type":"snapshot","states":{}}`))
	r.Outbound("example-room", []byte(`{"type":"scene","scene_name":"Off"}`))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	// Ignored after close.
	r.Inbound("example-room", []byte(`{}`))

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, DirectionIn, recs[0].Direction)
	assert.Equal(t, "example-room", recs[0].Room)
	assert.True(t, at.Equal(recs[0].At))
	assert.Equal(t, `{"type":"snapshot","states":{}}`, string(recs[0].Data))
	assert.Equal(t, DirectionOut, recs[1].Direction)
	assert.Equal(t, "out", recs[1].Direction.String())
}

func TestRecorderAppends(t *testing.T) {
	r, path := newTestRecorder(t)
	r.Inbound("r1", []byte("a"))
	require.NoError(t, r.Close())

	r2, err := NewRecorder(path, nil)
	require.NoError(t, err)
	r2.Inbound("r1", []byte("b"))
	require.NoError(t, r2.Close())

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", string(recs[1].Data))
}

func TestRecorderConcurrentWrites(t *testing.T) {
	r, path := newTestRecorder(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				r.Inbound("r1", []byte(`{"type":"error","message":"x"}`))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, r.Close())

	recs, err := ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, recs, 200)
}

func TestReaderNext(t *testing.T) {
	r, path := newTestRecorder(t)
	r.Inbound("r1", []byte("x"))
	require.NoError(t, r.Close())

	rd, err := NewReader(path)
	require.NoError(t, err)
	defer rd.Close()
	_, err = rd.Next()
	require.NoError(t, err)
	_, err = rd.Next()
	assert.Equal(t, io.EOF, err)

	_, err = NewReader(filepath.Join(t.TempDir(), "missing.cap"))
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	recs := []Record{
		{Room: "r1", Direction: DirectionIn, Data: []byte(`{"type":"snapshot","states":{"proj":{"status":"offline","power":false,"extra":{}}}}`)},
		{Room: "r1", Direction: DirectionOut, Data: []byte(`{"type":"command","device_id":"proj","command":"power_on","params":{}}`)},
		{Room: "r1", Direction: DirectionIn, Data: []byte(`garbage`)},
		{Room: "r2", Direction: DirectionIn, Data: []byte(`{"type":"device_state_update","device_id":"other","state":{"status":"online"}}`)},
		{Room: "r1", Direction: DirectionIn, Data: []byte(`{"type":"command_result","device_id":"proj","result":"True"}`)},
		{Room: "r1", Direction: DirectionIn, Data: []byte(`{"type":"device_state_update","device_id":"proj","state":{"status":"online","power":true,"extra":{}}}`)},
	}

	st := state.New()
	stats := Replay(recs, "r1", st)
	assert.Equal(t, ReplayStats{Inbound: 4, Outbound: 1, Applied: 2, Dropped: 1}, stats)

	cur := st.Current()
	require.Len(t, cur, 1)
	assert.Equal(t, roomlink.StatusOnline, cur["proj"].Status)
	assert.Equal(t, "on", cur["proj"].PowerLabel())

	all := state.New()
	stats = Replay(recs, "", all)
	assert.Equal(t, 3, stats.Applied)
	assert.Len(t, all.Current(), 2)
}
