package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink"
	"github.com/nomy-av/roomlink/notify"
	"github.com/nomy-av/roomlink/protocol"
	"github.com/nomy-av/roomlink/state"
)

const notifyTimeout = 5 * time.Second

// LoadStatus tracks the room directory lookup.
type LoadStatus string

const (
	StatusLoading     LoadStatus = "loading"
	StatusReady       LoadStatus = "ready"
	StatusUnavailable LoadStatus = "unavailable"
)

// StateObserver sees every device state the session applies.
type StateObserver interface {
	Observe(deviceID string, st roomlink.DeviceState, at time.Time)
}

// ObserverFunc adapts a function to StateObserver.
type ObserverFunc func(deviceID string, st roomlink.DeviceState, at time.Time)

func (f ObserverFunc) Observe(deviceID string, st roomlink.DeviceState, at time.Time) {
	f(deviceID, st, at)
}

// Session ties one room together: it loads the directory, seeds the store,
// opens the link and routes every controller message either into the store
// or out as a notification.
type Session struct {
	roomID   string
	dir      Directory
	link     *Link
	store    *state.Store
	notifier notify.Notifier
	observer StateObserver
	log      *logrus.Entry

	mu      sync.RWMutex
	status  LoadStatus
	room    *roomlink.Room
	started bool
	closed  bool
	changed chan struct{}
}

type SessionOption func(*Session)

func WithNotifier(n notify.Notifier) SessionOption { return func(s *Session) { s.notifier = n } }

func WithObserver(o StateObserver) SessionOption { return func(s *Session) { s.observer = o } }

// WithStore lets the caller share a store, e.g. with a local view.
func WithStore(st *state.Store) SessionOption { return func(s *Session) { s.store = st } }

func WithSessionLogger(e *logrus.Entry) SessionOption { return func(s *Session) { s.log = e } }

// NewSession wires a session for roomID. The link is taken over: the
// session installs its own message handler and state callback on it.
func NewSession(roomID string, dir Directory, link *Link, opts ...SessionOption) *Session {
	s := &Session{
		roomID:  roomID,
		dir:     dir,
		link:    link,
		status:  StatusLoading,
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = state.New()
	}
	if s.notifier == nil {
		s.notifier = notify.NoopNotifier{}
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "session", "room": roomID})
	link.OnStateChange(s.linkStateChanged)
	return s
}

// Start loads the room and, on success, opens the live connection. A failed
// lookup is final: the session reports StatusUnavailable, publishes a
// room-unavailable notification and never connects.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return roomlink.ErrClosed
	case s.started:
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.mu.Unlock()

	room, err := s.dir.GetRoom(ctx, s.roomID)
	if err != nil {
		s.setStatus(StatusUnavailable)
		s.log.WithError(err).Error("failed to load room")
		s.publish(notify.RoomUnavailable(s.roomID))
		return fmt.Errorf("%w: %w", roomlink.ErrRoomUnavailable, err)
	}

	s.store.Initialize(room.Devices)
	s.mu.Lock()
	s.room = room
	s.status = StatusReady
	s.broadcastLocked()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"devices": len(room.Devices), "scenes": len(room.Scenes)}).Info("room loaded")
	s.link.SetHandler(s.dispatch)
	s.link.Open(s.roomID)
	return nil
}

func (s *Session) dispatch(msg protocol.Inbound) {
	now := time.Now()
	switch m := msg.(type) {
	case *protocol.Snapshot:
		s.store.ApplySnapshot(m.States)
		for id, st := range m.States {
			s.observe(id, st, now)
		}
		if orphans := s.store.Orphans(); len(orphans) > 0 {
			s.log.WithField("devices", orphans).Warn("snapshot carries devices outside the room directory")
		}
		s.log.WithField("devices", len(m.States)).Debug("snapshot applied")
	case *protocol.DeviceStateUpdate:
		if !s.store.Known(m.DeviceID) {
			s.log.WithField("device_id", m.DeviceID).Warn("state update for a device outside the room directory")
		}
		s.store.ApplyUpdate(m.DeviceID, *m.State)
		at, ok := m.Time()
		if !ok {
			at = now
		}
		s.observe(m.DeviceID, *m.State, at)
	default:
		n, ok := notify.Interpret(msg)
		if !ok {
			return
		}
		s.publish(n)
	}
}

func (s *Session) observe(id string, st roomlink.DeviceState, at time.Time) {
	if s.observer != nil {
		s.observer.Observe(id, st, at)
	}
}

func (s *Session) publish(n notify.Notification) {
	if n.Room == "" {
		n.Room = s.roomID
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.WithError(err).WithField("kind", n.Kind).Warn("notification not delivered")
	}
}

// IssueCommand sends a device command. Nothing is returned: if the link is
// down the command is dropped, and both cases are only logged.
func (s *Session) IssueCommand(deviceID, command string, params map[string]any) {
	msg, err := protocol.NewCommand(deviceID, command, params)
	if err != nil {
		s.log.WithError(err).Warn("command not sent")
		return
	}
	s.send(msg, logrus.Fields{"device_id": deviceID, "command": command})
}

// ActivateScene sends a scene activation and publishes the optimistic
// "Activating" notice.
func (s *Session) ActivateScene(name string) {
	msg, err := protocol.NewScene(name)
	if err != nil {
		s.log.WithError(err).Warn("scene not sent")
		return
	}
	s.publish(notify.SceneRequested(name))
	s.send(msg, logrus.Fields{"scene": name})
}

func (s *Session) send(msg protocol.Outbound, fields logrus.Fields) {
	err := s.link.Send(msg)
	switch {
	case err == nil:
	case errors.Is(err, roomlink.ErrNotConnected), errors.Is(err, roomlink.ErrClosed):
		s.log.WithFields(fields).WithError(err).Info("outbound message dropped")
	default:
		s.log.WithFields(fields).WithError(err).Warn("outbound message not written")
	}
}

func (s *Session) RoomID() string { return s.roomID }

// Room returns a copy of the loaded room description, or nil while loading
// or after a failed lookup.
func (s *Session) Room() *roomlink.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return nil
	}
	r := *s.room
	r.Devices = slices.Clone(r.Devices)
	r.Scenes = slices.Clone(r.Scenes)
	return &r
}

func (s *Session) Status() LoadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Connected() bool { return s.link.Connected() }

func (s *Session) LinkState() State { return s.link.State() }

func (s *Session) Current() map[string]roomlink.DeviceState { return s.store.Current() }

func (s *Session) Devices() []roomlink.Device { return s.store.Devices() }

func (s *Session) Orphans() []string { return s.store.Orphans() }

// WaitConnected blocks until the link is connected, the context ends or the
// session can no longer connect.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		s.mu.RLock()
		ch, status, closed := s.changed, s.status, s.closed
		s.mu.RUnlock()

		switch {
		case closed:
			return roomlink.ErrClosed
		case status == StatusUnavailable:
			return roomlink.ErrRoomUnavailable
		case s.link.Connected():
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close shuts the link down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.broadcastLocked()
	s.mu.Unlock()
	s.link.Close()
}

func (s *Session) setStatus(st LoadStatus) {
	s.mu.Lock()
	s.status = st
	s.broadcastLocked()
	s.mu.Unlock()
}

func (s *Session) linkStateChanged(from, to State) {
	s.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("link state changed")
	s.mu.Lock()
	s.broadcastLocked()
	s.mu.Unlock()
}

// broadcastLocked wakes every WaitConnected caller.
func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
