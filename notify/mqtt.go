package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTConnectTimeout = 10 * time.Second
	defaultMQTTPublishTimeout = 5 * time.Second
	defaultMQTTQuiesce        = 250 // milliseconds
	maxQoS                    = 2
)

var (
	ErrMQTTConnect = errors.New("mqtt: connection failed")
	ErrMQTTPublish = errors.New("mqtt: publish failed")
)

// Publisher is the subset of a paho client the notifier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTOptions configures the broker connection of an MQTTNotifier.
type MQTTOptions struct {
	Broker      string // tcp://host:1883 or ssl://host:8883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTNotifier publishes notifications as JSON to
// <prefix>/<room>/notifications. Messages are never retained: a notification
// is transient and must not be replayed to late subscribers.
type MQTTNotifier struct {
	pub     Publisher
	topic   string
	qos     byte
	timeout time.Duration
	closeFn func()
}

// NewMQTTNotifier wraps an existing publisher.
func NewMQTTNotifier(pub Publisher, prefix, roomID string, qos byte) *MQTTNotifier {
	if qos > maxQoS {
		qos = maxQoS
	}
	return &MQTTNotifier{
		pub:     pub,
		topic:   Topic(prefix, roomID),
		qos:     qos,
		timeout: defaultMQTTPublishTimeout,
	}
}

// Topic builds the notification topic for a room.
func Topic(prefix, roomID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "roomlink"
	}
	return fmt.Sprintf("%s/%s/notifications", prefix, roomID)
}

// DialMQTT connects to the broker and returns a notifier owning the client.
// The paho client reconnects on its own after the initial connection.
func DialMQTT(opts MQTTOptions, roomID string) (*MQTTNotifier, error) {
	co := pahomqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(defaultMQTTConnectTimeout)

	client := pahomqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(defaultMQTTConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, defaultMQTTConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}

	n := NewMQTTNotifier(client, opts.TopicPrefix, roomID, opts.QoS)
	n.closeFn = func() { client.Disconnect(defaultMQTTQuiesce) }
	return n, nil
}

func (m *MQTTNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMQTTPublish, err)
	}
	token := m.pub.Publish(m.topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("%w: timeout after %v", ErrMQTTPublish, m.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrMQTTPublish, err)
	}
	return nil
}

// Close disconnects the broker client when the notifier owns it.
func (m *MQTTNotifier) Close() error {
	if m.closeFn != nil {
		m.closeFn()
		m.closeFn = nil
	}
	return nil
}
