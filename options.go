package roomlink

import (
	"time"
)

// AuthStrategy acquires an authorization header value (e.g., "Bearer ...").
// Credentials are provisioned by the environment; roomlink only forwards them.
type AuthStrategy interface {
	AuthorizationValue() (string, error)
}

// StaticAuth implements AuthStrategy using a pre-specified token value.
type StaticAuth struct{ Value string }

func (s StaticAuth) AuthorizationValue() (string, error) { return s.Value, nil }

// Options configures the directory lookup and the room link.
type Options struct {
	// BaseURL of the room controller, e.g. http://controller:8000. Its scheme
	// decides between ws:// and wss:// for the live connection.
	BaseURL string
	Auth    AuthStrategy

	// ReconnectDelay is the fixed wait between a lost connection and the next attempt.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
}

// DefaultOptions gives baseline sensible defaults for a LAN controller.
func DefaultOptions() Options {
	return Options{
		BaseURL:          "http://localhost:8000",
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   10 * time.Second,
	}
}

// AuthorizationHeader resolves the header value, returning "" when no
// strategy is set or it fails.
func (o Options) AuthorizationHeader() string {
	if o.Auth == nil {
		return ""
	}
	v, err := o.Auth.AuthorizationValue()
	if err != nil {
		return ""
	}
	return v
}
