// Package config loads roomlink settings from an optional YAML file and
// ROOMLINK_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomy-av/roomlink"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Room     RoomConfig     `yaml:"room"`
	Link     LinkConfig     `yaml:"link"`
	View     ViewConfig     `yaml:"view"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Capture  CaptureConfig  `yaml:"capture"`
}

// ServerConfig points at the room controller.
type ServerConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"token"` // sent verbatim as the Authorization header
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type RoomConfig struct {
	ID string `yaml:"id"`
}

type LinkConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// ViewConfig configures the local JSON view. An empty address disables it.
type ViewConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json or auto
	Output string `yaml:"output"` // stderr or stdout
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CaptureConfig enables CBOR traffic capture when Path is set.
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	def := roomlink.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			BaseURL:          def.BaseURL,
			RequestTimeout:   def.RequestTimeout,
			HandshakeTimeout: def.HandshakeTimeout,
		},
		Link: LinkConfig{ReconnectDelay: def.ReconnectDelay},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "roomlink",
			TopicPrefix: "roomlink",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ROOMLINK_SERVER"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("ROOMLINK_ROOM"); v != "" {
		cfg.Room.ID = v
	}
	if v := os.Getenv("ROOMLINK_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("ROOMLINK_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ROOMLINK_RECONNECT_DELAY: %w", err)
		}
		cfg.Link.ReconnectDelay = d
	}
	if v := os.Getenv("ROOMLINK_VIEW_ADDR"); v != "" {
		cfg.View.Addr = v
	}
	if v := os.Getenv("ROOMLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration. The room id is not required here:
// commands that need one check it themselves.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, "server.base_url must be an absolute URL")
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, "server.base_url scheme must be http, https, ws or wss")
		}
	}
	if c.Link.ReconnectDelay <= 0 {
		errs = append(errs, "link.reconnect_delay must be positive")
	}
	if c.Server.RequestTimeout < 0 || c.Server.HandshakeTimeout < 0 {
		errs = append(errs, "server timeouts must not be negative")
	}
	switch c.Logging.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, "logging.format must be text, json or auto")
	}
	switch c.Logging.Output {
	case "stderr", "stdout":
	default:
		errs = append(errs, "logging.output must be stderr or stdout")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Options maps the server and link settings onto roomlink.Options.
func (c *Config) Options() roomlink.Options {
	opts := roomlink.DefaultOptions()
	opts.BaseURL = c.Server.BaseURL
	if c.Server.Token != "" {
		opts.Auth = roomlink.StaticAuth{Value: c.Server.Token}
	}
	if c.Link.ReconnectDelay > 0 {
		opts.ReconnectDelay = c.Link.ReconnectDelay
	}
	if c.Server.HandshakeTimeout > 0 {
		opts.HandshakeTimeout = c.Server.HandshakeTimeout
	}
	if c.Server.RequestTimeout > 0 {
		opts.RequestTimeout = c.Server.RequestTimeout
	}
	return opts
}
