package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink"
	"github.com/nomy-av/roomlink/notify"
	"github.com/nomy-av/roomlink/runtime"
)

const (
	maxRequestBodySize = 64 << 10
	notificationBuffer = 16
	writeWait          = 10 * time.Second
)

// RoomView is what the local view needs from a running session.
type RoomView interface {
	RoomID() string
	Room() *roomlink.Room
	Status() runtime.LoadStatus
	LinkState() runtime.State
	Connected() bool
	Devices() []roomlink.Device
	Current() map[string]roomlink.DeviceState
	Orphans() []string
	IssueCommand(deviceID, command string, params map[string]any)
	ActivateScene(name string)
}

type handlers struct {
	view RoomView
	hub  *notify.Hub
	log  *logrus.Entry
}

// NewRouter builds the local view API. The notification stream is mounted
// only when hub is not nil.
func NewRouter(view RoomView, hub *notify.Hub, log *logrus.Entry) http.Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &handlers{view: view, hub: hub, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/room", h.getRoom)
		r.Get("/status", h.getStatus)
		r.Get("/devices", h.listDevices)
		r.With(requireJSON).Post("/devices/{id}/command", h.sendCommand)
		r.With(requireJSON).Post("/scenes/{name}", h.activateScene)
		if hub != nil {
			r.Get("/notifications", h.streamNotifications)
		}
	})
	return r
}

// DeviceInfo is one device entry of the devices listing.
type DeviceInfo struct {
	ID     string                `json:"id"`
	Name   string                `json:"name,omitempty"`
	Type   string                `json:"type,omitempty"`
	Online bool                  `json:"online"`
	Power  string                `json:"power"`
	State  *roomlink.DeviceState `json:"state"`
	Orphan bool                  `json:"orphan,omitempty"`
}

func deviceInfo(d roomlink.Device) DeviceInfo {
	info := DeviceInfo{ID: d.ID, Name: d.Name, Type: d.Type, State: d.State, Power: "unknown"}
	if d.State != nil {
		info.Online = d.State.Status == roomlink.StatusOnline
		info.Power = d.State.PowerLabel()
	}
	return info
}

func (h *handlers) getRoom(w http.ResponseWriter, _ *http.Request) {
	room := h.view.Room()
	if room == nil {
		writeError(w, http.StatusServiceUnavailable, "room_unavailable", "room "+string(h.view.Status()))
		return
	}
	room.Devices = h.view.Devices()
	writeJSON(w, http.StatusOK, room)
}

func (h *handlers) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"room":       h.view.RoomID(),
		"status":     h.view.Status(),
		"link_state": h.view.LinkState().String(),
		"connected":  h.view.Connected(),
	})
}

func (h *handlers) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := h.view.Devices()
	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceInfo(d))
	}
	if orphans := h.view.Orphans(); len(orphans) > 0 {
		cur := h.view.Current()
		for _, id := range orphans {
			st := cur[id]
			info := deviceInfo(roomlink.Device{ID: id, State: &st})
			info.Orphan = true
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

func (h *handlers) sendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	room := h.view.Room()
	if room == nil {
		writeError(w, http.StatusServiceUnavailable, "room_unavailable", "room "+string(h.view.Status()))
		return
	}
	if !room.HasDevice(id) {
		writeError(w, http.StatusNotFound, "not_found", "device not found")
		return
	}

	var req commandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "command is required")
		return
	}

	h.view.IssueCommand(id, req.Command, req.Params)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": id,
		"command":   req.Command,
		"connected": h.view.Connected(),
	})
}

func (h *handlers) activateScene(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	room := h.view.Room()
	if room == nil {
		writeError(w, http.StatusServiceUnavailable, "room_unavailable", "room "+string(h.view.Status()))
		return
	}
	if !room.HasScene(name) {
		writeError(w, http.StatusNotFound, "not_found", "scene not found")
		return
	}
	h.view.ActivateScene(name)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"scene":     name,
		"connected": h.view.Connected(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamNotifications pushes every notification as a JSON text frame until
// the client goes away. Slow clients miss notifications.
func (h *handlers) streamNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("notification stream upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(notificationBuffer)
	defer sub.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireJSON rejects writes without a JSON content type. Browsers only send
// that cross-origin after a preflight, and the preflight does not allow POST.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		if !strings.EqualFold(strings.TrimSpace(ct), "application/json") {
			writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Status: status, Code: code, Message: message})
}
