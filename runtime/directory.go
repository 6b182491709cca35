package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink"
)

// Directory resolves a room id to its description and device list.
type Directory interface {
	GetRoom(ctx context.Context, roomID string) (*roomlink.Room, error)
}

// DirectoryAdapter reads room descriptions from the controller's REST API
// (GET <base>/api/v1/rooms/<id>).
type DirectoryAdapter struct {
	client  *http.Client
	baseURL string
	auth    roomlink.AuthStrategy
	log     *logrus.Entry
}

// DirectoryOptions configures a new adapter.
type DirectoryOptions struct {
	BaseURL        string
	Client         *http.Client
	Auth           roomlink.AuthStrategy
	RequestTimeout time.Duration
	Logger         *logrus.Entry
}

// NewDirectoryAdapter builds a DirectoryAdapter.
func NewDirectoryAdapter(o DirectoryOptions) (*DirectoryAdapter, error) {
	if strings.TrimSpace(o.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base url required", roomlink.ErrInvalidParameter)
	}
	c := o.Client
	if c == nil {
		timeout := o.RequestTimeout
		if timeout <= 0 {
			timeout = roomlink.DefaultOptions().RequestTimeout
		}
		c = &http.Client{Timeout: timeout}
	}
	log := o.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DirectoryAdapter{
		client:  c,
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		auth:    o.Auth,
		log:     log.WithField("component", "directory"),
	}, nil
}

// apiError is the error body shape of the controller ({"detail": "..."}).
type apiError struct {
	Detail string `json:"detail"`
}

// GetRoom fetches one room. A 404 maps to ErrRoomNotFound, 403 to
// ErrAccessDenied and any 5xx to ErrBackendUnavailable. Other failures carry
// the controller's detail message when the body has one.
func (a *DirectoryAdapter) GetRoom(ctx context.Context, roomID string) (*roomlink.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("%w: empty room id", roomlink.ErrInvalidParameter)
	}
	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s", a.baseURL, url.PathEscape(roomID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.auth != nil {
		if h, err := a.auth.AuthorizationValue(); err == nil && h != "" {
			req.Header.Set("Authorization", h)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", roomlink.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	log := a.log.WithFields(logrus.Fields{"room": roomID, "status": resp.StatusCode})
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		log.Debug("room not found")
		return nil, withDetail(roomlink.ErrRoomNotFound, body)
	case resp.StatusCode == http.StatusForbidden:
		return nil, withDetail(roomlink.ErrAccessDenied, body)
	case resp.StatusCode >= 500:
		log.Warn("controller unavailable")
		return nil, withDetail(roomlink.ErrBackendUnavailable, body)
	default:
		detail := errorDetail(body)
		if detail == "" {
			detail = resp.Status
		}
		return nil, errors.New(detail)
	}

	var room roomlink.Room
	if err := json.Unmarshal(body, &room); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	if room.ID == "" {
		room.ID = roomID
	}
	if room.Name == "" {
		room.Name = room.ID
	}
	for i := range room.Devices {
		if room.Devices[i].Name == "" {
			room.Devices[i].Name = room.Devices[i].ID
		}
	}
	log.WithField("devices", len(room.Devices)).Debug("room loaded")
	return &room, nil
}

func errorDetail(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Detail
}

func withDetail(sentinel error, body []byte) error {
	if d := errorDetail(body); d != "" {
		return fmt.Errorf("%w: %s", sentinel, d)
	}
	return sentinel
}
