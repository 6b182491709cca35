// Package telemetry writes applied device states to InfluxDB as time series.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink"
)

const (
	measurement          = "device_state"
	defaultPingTimeout   = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

var ErrConnectionFailed = errors.New("telemetry: influxdb connection failed")

// Options configures the InfluxDB connection.
type Options struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

// PointWriter is the part of the influx WriteAPI the recorder uses.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder turns every observed device state into one point of the
// device_state measurement. Writes are batched by the influx client and
// never block the caller.
type Recorder struct {
	w       PointWriter
	room    string
	log     *logrus.Entry
	closeFn func()
}

// NewRecorder wraps an existing writer.
func NewRecorder(w PointWriter, roomID string, log *logrus.Entry) *Recorder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recorder{w: w, room: roomID, log: log.WithField("component", "telemetry")}
}

// Connect pings the server and returns a recorder backed by a non-blocking
// write API. Asynchronous write errors are logged.
func Connect(ctx context.Context, opts Options, roomID string, log *logrus.Entry) (*Recorder, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := opts.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- batch and flush are positive here
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(opts.Org, opts.Bucket)
	r := NewRecorder(writeAPI, roomID, log)
	go func() {
		for err := range writeAPI.Errors() {
			r.log.WithError(err).Warn("influxdb write failed")
		}
	}()
	r.closeFn = client.Close
	r.log.WithFields(logrus.Fields{"url": opts.URL, "bucket": opts.Bucket}).Info("telemetry connected")
	return r, nil
}

// Observe records one device state.
func (r *Recorder) Observe(deviceID string, st roomlink.DeviceState, at time.Time) {
	r.w.WritePoint(Point(r.room, deviceID, st, at))
}

// Point builds the point for one device state. Tags are room, device_id and
// status. Fields are online, power when known and every numeric extra value
// as extra_<key>.
func Point(roomID, deviceID string, st roomlink.DeviceState, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"online": st.Status == roomlink.StatusOnline,
	}
	if st.Power != nil {
		fields["power"] = *st.Power
	}
	for k, raw := range st.Extra {
		if v, ok := numeric(raw); ok {
			fields["extra_"+k] = v
		}
	}
	return write.NewPoint(measurement,
		map[string]string{
			"room":      roomID,
			"device_id": deviceID,
			"status":    string(st.Status),
		},
		fields, at)
}

func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Close flushes pending points and releases the client when owned.
func (r *Recorder) Close() error {
	r.w.Flush()
	if r.closeFn != nil {
		r.closeFn()
		r.closeFn = nil
	}
	return nil
}
