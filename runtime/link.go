package runtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink"
	"github.com/nomy-av/roomlink/protocol"
)

// Link maintains the live websocket to one room endpoint of the controller.
//
// Lifecycle:
//
//	disconnected --Open--> connecting --established--> connected
//	connected  --loss--> reconnect-pending --fixed delay--> connecting
//	connecting --loss--> reconnect-pending
//	any        --Close--> disconnected (terminal)
//
// Only one transport is live at a time. Every attempt gets a generation
// number and results belonging to an older generation (late dials, read
// errors of replaced sockets, timers racing Close) are discarded.
//
// Inbound frames are decoded and handed to the current Handler one at a time
// in arrival order. Frames that do not decode are dropped. Send never blocks
// on connectivity: while not connected the message is dropped.
type Link struct {
	opts  roomlink.Options
	dial  DialFunc
	sched Scheduler
	log   *logrus.Entry
	tap   Tap

	mu         sync.Mutex
	state      State
	roomID     string
	gen        uint64
	conn       Conn
	cancelDial context.CancelFunc
	timer      Timer
	closed     bool
	attempts   int
	onState    func(from, to State)

	handlerMu sync.RWMutex
	handler   Handler

	deliverMu sync.Mutex
	writeMu   sync.Mutex
}

type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect-pending"
	default:
		return "unknown"
	}
}

// Handler receives decoded controller messages.
type Handler func(msg protocol.Inbound)

// Conn is the transport a DialFunc returns; *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens a transport to a websocket URL.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Tap observes raw frames after they were received or successfully written.
type Tap interface {
	Inbound(roomID string, data []byte)
	Outbound(roomID string, data []byte)
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type LinkOption func(*Link)

func WithDialer(d DialFunc) LinkOption { return func(l *Link) { l.dial = d } }

func WithScheduler(s Scheduler) LinkOption { return func(l *Link) { l.sched = s } }

func WithLogger(e *logrus.Entry) LinkOption { return func(l *Link) { l.log = e } }

func WithTap(t Tap) LinkOption { return func(l *Link) { l.tap = t } }

// NewLink creates a disconnected link. Zero durations in opts fall back to
// roomlink.DefaultOptions.
func NewLink(opts roomlink.Options, options ...LinkOption) *Link {
	def := roomlink.DefaultOptions()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	l := &Link{
		opts:  opts,
		sched: clockScheduler{},
		state: StateDisconnected,
	}
	for _, o := range options {
		o(l)
	}
	if l.dial == nil {
		l.dial = WebsocketDialer(opts.HandshakeTimeout)
	}
	if l.log == nil {
		l.log = logrus.NewEntry(logrus.StandardLogger())
	}
	l.log = l.log.WithField("component", "link")
	return l
}

// WebsocketDialer dials with gorilla/websocket.
func WebsocketDialer(handshakeTimeout time.Duration) DialFunc {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		c, resp, err := d.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return c, nil
	}
}

// EndpointURL derives the websocket endpoint for a room from the controller
// base URL. https and wss map to wss, everything else to ws.
func EndpointURL(baseURL, roomID string) (string, error) {
	if strings.TrimSpace(roomID) == "" {
		return "", fmt.Errorf("%w: empty room id", roomlink.ErrInvalidParameter)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %v", roomlink.ErrInvalidParameter, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: base url %q has no host", roomlink.ErrInvalidParameter, baseURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/rooms/" + roomID
	u.RawPath = escaped + "/ws/rooms/" + url.PathEscape(roomID)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// SetHandler replaces the message handler. The latest handler is used for
// every subsequent delivery, across reconnects.
func (l *Link) SetHandler(h Handler) {
	l.handlerMu.Lock()
	l.handler = h
	l.handlerMu.Unlock()
}

// OnStateChange registers a callback invoked after each transition, outside
// of the link's lock.
func (l *Link) OnStateChange(fn func(from, to State)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

// Open starts connecting to the room. Any previous transport, in-flight dial
// or pending reconnect is superseded. The first Open binds the link to its
// room; Open for a different room, or after Close, is ignored.
func (l *Link) Open(roomID string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.WithField("room", roomID).Debug("open after close ignored")
		return
	}
	if l.roomID != "" && l.roomID != roomID {
		bound := l.roomID
		l.mu.Unlock()
		l.log.WithFields(logrus.Fields{"room": roomID, "bound_room": bound}).Warn("link is bound to another room; open ignored")
		return
	}
	l.roomID = roomID
	l.teardownLocked()
	ts := l.connectLocked()
	fn := l.onState
	l.mu.Unlock()
	emit(fn, ts)
}

// Close releases the transport and cancels any pending reconnect. It is
// idempotent and the link cannot be reopened afterwards. When Close returns,
// no frame is being delivered and none will be. A Handler must not call Close
// directly since Close waits for the delivery running that Handler; it can
// use go l.Close().
func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.teardownLocked()
	ts := l.setStateLocked(StateDisconnected)
	fn := l.onState
	room := l.roomID
	l.mu.Unlock()
	l.log.WithField("room", room).Debug("link closed")
	emit(fn, ts)

	// A delivery that passed its generation check before teardown may still
	// be in the tap or the handler.
	l.deliverMu.Lock()
	l.deliverMu.Unlock()
}

// Connected reports whether the transport is fully established.
func (l *Link) Connected() bool {
	return l.State() == StateConnected
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RoomID returns the room the link is bound to, if any.
func (l *Link) RoomID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID
}

// Attempts returns how many connection attempts were started.
func (l *Link) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Send transmits msg if connected and drops it otherwise. Nothing is queued
// or retried. A dropped message yields roomlink.ErrNotConnected, or
// roomlink.ErrClosed once the link is closed.
func (l *Link) Send(msg protocol.Outbound) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	l.mu.Lock()
	conn, state, room, closed := l.conn, l.state, l.roomID, l.closed
	l.mu.Unlock()

	switch {
	case closed:
		return roomlink.ErrClosed
	case state != StateConnected || conn == nil:
		return fmt.Errorf("%w (%s)", roomlink.ErrNotConnected, state)
	}

	l.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	l.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write %s: %w", msg.Type(), err)
	}
	if l.tap != nil {
		l.tap.Outbound(room, data)
	}
	return nil
}

type transition struct{ from, to State }

func emit(fn func(from, to State), ts []transition) {
	if fn == nil {
		return
	}
	for _, t := range ts {
		fn(t.from, t.to)
	}
}

func (l *Link) setStateLocked(s State) []transition {
	if l.state == s {
		return nil
	}
	t := transition{from: l.state, to: s}
	l.state = s
	return []transition{t}
}

// teardownLocked invalidates the current generation and releases everything
// it owns.
func (l *Link) teardownLocked() {
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) connectLocked() []transition {
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelDial = cancel
	l.attempts++
	ts := l.setStateLocked(StateConnecting)
	go l.run(ctx, gen, l.roomID, uuid.NewString())
	return ts
}

// lostLocked moves to reconnect-pending and schedules exactly one retry for
// the current generation.
func (l *Link) lostLocked() []transition {
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	ts := l.setStateLocked(StateReconnectPending)
	gen := l.gen
	l.timer = l.sched.AfterFunc(l.opts.ReconnectDelay, func() { l.retry(gen) })
	return ts
}

func (l *Link) retry(gen uint64) {
	l.mu.Lock()
	if l.closed || gen != l.gen || l.state != StateReconnectPending {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	ts := l.connectLocked()
	fn := l.onState
	room := l.roomID
	l.mu.Unlock()
	l.log.WithField("room", room).Debug("reconnecting")
	emit(fn, ts)
}

func (l *Link) run(ctx context.Context, gen uint64, roomID, attempt string) {
	log := l.log.WithFields(logrus.Fields{"room": roomID, "attempt": attempt})

	var conn Conn
	endpoint, err := EndpointURL(l.opts.BaseURL, roomID)
	if err == nil {
		header := http.Header{}
		if v := l.opts.AuthorizationHeader(); v != "" {
			header.Set("Authorization", v)
		}
		log.WithField("url", endpoint).Debug("dialing room endpoint")
		conn, err = l.dial(ctx, endpoint, header)
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		ts := l.lostLocked()
		fn := l.onState
		l.mu.Unlock()
		log.WithError(err).WithField("retry_in", l.opts.ReconnectDelay).Warn("room connection attempt failed")
		emit(fn, ts)
		return
	}
	l.conn = conn
	ts := l.setStateLocked(StateConnected)
	fn := l.onState
	l.mu.Unlock()
	log.Info("room connection established")
	emit(fn, ts)

	l.readLoop(gen, conn, log)
}

func (l *Link) readLoop(gen uint64, conn Conn, log *logrus.Entry) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			if gen != l.gen {
				l.mu.Unlock()
				return
			}
			ts := l.lostLocked()
			fn := l.onState
			l.mu.Unlock()
			log.WithError(err).WithField("retry_in", l.opts.ReconnectDelay).Warn("room connection lost")
			emit(fn, ts)
			return
		}
		l.deliver(gen, data, log)
	}
}

func (l *Link) deliver(gen uint64, data []byte, log *logrus.Entry) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	room, ok := l.current(gen)
	if !ok {
		return
	}
	if l.tap != nil {
		l.tap.Inbound(room, data)
	}
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		log.WithError(err).Debug("inbound frame dropped")
		return
	}

	l.handlerMu.RLock()
	h := l.handler
	l.handlerMu.RUnlock()
	if h == nil {
		return
	}
	if _, ok := l.current(gen); !ok {
		log.Debug("link superseded; inbound frame dropped")
		return
	}
	h(msg)
}

// current reports whether gen is still the live generation.
func (l *Link) current(gen uint64) (room string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID, gen == l.gen
}
