// Package capture records the raw frames of a room connection to a CBOR file
// and reads them back, e.g. to replay a session offline.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

// Direction of a captured frame.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "unknown"
	}
}

// Record is one captured frame. Data is the frame exactly as it went over
// the wire.
type Record struct {
	At        time.Time `cbor:"1,keyasint"`
	Room      string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Data      []byte    `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor decoder mode: %v", err))
	}
}

// Recorder appends frames to a capture file. It is safe for concurrent use
// and satisfies the link's Tap interface.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
	now    func() time.Time
	log    *logrus.Entry
}

// NewRecorder opens path for appending, creating it if needed.
func NewRecorder(path string, log *logrus.Entry) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recorder{
		file: f,
		enc:  encMode.NewEncoder(f),
		now:  time.Now,
		log:  log.WithFields(logrus.Fields{"component": "capture", "path": path}),
	}, nil
}

func (r *Recorder) Inbound(roomID string, data []byte) { r.write(roomID, DirectionIn, data) }

func (r *Recorder) Outbound(roomID string, data []byte) { r.write(roomID, DirectionOut, data) }

// write never fails the caller; a capture problem is logged and the frame is
// lost from the file only.
func (r *Recorder) write(room string, dir Direction, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	rec := Record{At: r.now(), Room: room, Direction: dir, Data: data}
	if err := r.enc.Encode(rec); err != nil {
		r.log.WithError(err).Warn("frame not captured")
	}
}

// Close closes the file. Later frames are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// Reader streams records from a capture file.
type Reader struct {
	file *os.File
	dec  *cbor.Decoder
}

func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, dec: decMode.NewDecoder(f)}, nil
}

// Next returns the next record or io.EOF at the end of the file.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: decode record: %w", err)
	}
	return rec, nil
}

func (r *Reader) Close() error { return r.file.Close() }

// ReadAll loads every record of a capture file.
func ReadAll(path string) ([]Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
