package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Notifier delivers notifications to the user or to another system.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Notification) error { return nil }

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi fans a notification out to every sink, even when some fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a logrus logger: errors at error
// level, everything else at info.
type LogNotifier struct {
	Log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogNotifier{Log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	entry := l.Log.WithFields(logrus.Fields{
		"notification": n.ID,
		"kind":         n.Kind,
		"severity":     n.Level,
	})
	if n.Scene != "" {
		entry = entry.WithField("scene", n.Scene)
	}
	if n.DeviceID != "" {
		entry = entry.WithField("device_id", n.DeviceID)
	}
	if n.Level == LevelError {
		entry.Error(n.Message)
	} else {
		entry.Info(n.Message)
	}
	return nil
}
