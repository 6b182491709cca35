package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	api "github.com/nomy-av/roomlink/internal/http"
	"github.com/nomy-av/roomlink/notify"
)

// ViewConfig configures the local view HTTP server.
type ViewConfig struct {
	ListenAddr   string        // address to bind (e.g. 127.0.0.1:8091)
	View         api.RoomView  // required
	Hub          *notify.Hub   // optional; enables /api/notifications
	Logger       *logrus.Entry // optional
	ReadTimeout  time.Duration // optional
	WriteTimeout time.Duration // optional
	IdleTimeout  time.Duration // optional
}

var ErrNilView = errors.New("view server: room view is nil")

// StartViewServer starts the local view API. It returns the server, its
// bound address, and a channel that receives a terminal error (if any) and
// is closed when the server stops. The server shuts down when ctx is
// canceled.
func StartViewServer(ctx context.Context, cfg ViewConfig) (*http.Server, net.Addr, <-chan error, error) {
	if cfg.View == nil {
		return nil, nil, nil, ErrNilView
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8091"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	log := cfg.Logger.WithField("component", "server")

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, nil, nil, err
	}

	srv := &http.Server{
		Handler:     api.NewRouter(cfg.View, cfg.Hub, log),
		ReadTimeout: durationOr(cfg.ReadTimeout, 10*time.Second),
		// The notification stream is long lived; its writes carry their own deadline.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("local view listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, ln.Addr(), errCh, nil
}

func durationOr(v time.Duration, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
