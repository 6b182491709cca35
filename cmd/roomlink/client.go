package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/nomy-av/roomlink/capture"
	"github.com/nomy-av/roomlink/internal/config"
	"github.com/nomy-av/roomlink/internal/logging"
	"github.com/nomy-av/roomlink/notify"
	"github.com/nomy-av/roomlink/runtime"
	"github.com/nomy-av/roomlink/telemetry"
)

// client is one room session plus the sinks attached to it.
type client struct {
	session *runtime.Session
	hub     *notify.Hub
	log     *logrus.Logger
	closers []func() error
}

type clientOptions struct {
	// sinks enables MQTT and InfluxDB when they are configured.
	sinks bool
}

func newClient(ctx context.Context, cfg *config.Config, log *logrus.Logger, o clientOptions) (*client, error) {
	c := &client{hub: notify.NewHub(), log: log}
	opts := cfg.Options()

	dir, err := runtime.NewDirectoryAdapter(runtime.DirectoryOptions{
		BaseURL:        opts.BaseURL,
		Auth:           opts.Auth,
		RequestTimeout: opts.RequestTimeout,
		Logger:         logrus.NewEntry(log),
	})
	if err != nil {
		return nil, err
	}

	linkOpts := []runtime.LinkOption{runtime.WithLogger(logrus.NewEntry(log))}
	if cfg.Capture.Path != "" {
		rec, err := capture.NewRecorder(cfg.Capture.Path, logging.Component(log, "capture"))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, rec.Close)
		linkOpts = append(linkOpts, runtime.WithTap(rec))
	}
	link := runtime.NewLink(opts, linkOpts...)

	sinks := notify.Multi{notify.NewLogNotifier(logging.Component(log, "notify")), c.hub}
	sessOpts := []runtime.SessionOption{runtime.WithSessionLogger(logrus.NewEntry(log))}

	if o.sinks && cfg.MQTT.Enabled {
		mq, err := notify.DialMQTT(notify.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		}, cfg.Room.ID)
		if err != nil {
			c.close()
			return nil, err
		}
		c.closers = append(c.closers, mq.Close)
		sinks = append(sinks, mq)
	}

	if o.sinks && cfg.InfluxDB.Enabled {
		rec, err := telemetry.Connect(ctx, telemetry.Options{
			URL:           cfg.InfluxDB.URL,
			Token:         cfg.InfluxDB.Token,
			Org:           cfg.InfluxDB.Org,
			Bucket:        cfg.InfluxDB.Bucket,
			BatchSize:     cfg.InfluxDB.BatchSize,
			FlushInterval: cfg.InfluxDB.FlushInterval,
		}, cfg.Room.ID, logrus.NewEntry(log))
		if err != nil {
			c.close()
			return nil, err
		}
		c.closers = append(c.closers, rec.Close)
		sessOpts = append(sessOpts, runtime.WithObserver(rec))
	}

	sessOpts = append(sessOpts, runtime.WithNotifier(sinks))
	c.session = runtime.NewSession(cfg.Room.ID, dir, link, sessOpts...)
	return c, nil
}

// close stops the session first so no frame or state reaches a closed sink.
func (c *client) close() error {
	if c.session != nil {
		c.session.Close()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
