package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nomy-av/roomlink/internal/logging"
	"github.com/nomy-av/roomlink/internal/server"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	var viewAddr, capturePath string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room until interrupted, optionally serving the local view API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.loadForRoom()
			if err != nil {
				return err
			}
			if viewAddr != "" {
				cfg.View.Addr = viewAddr
			}
			if capturePath != "" {
				cfg.Capture.Path = capturePath
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			c, err := newClient(ctx, cfg, log, clientOptions{sinks: true})
			if err != nil {
				return err
			}
			defer func() {
				if err := c.close(); err != nil {
					log.WithError(err).Warn("shutdown")
				}
			}()

			if err := c.session.Start(ctx); err != nil {
				return err
			}

			if cfg.View.Addr != "" {
				_, addr, errCh, err := server.StartViewServer(ctx, server.ViewConfig{
					ListenAddr: cfg.View.Addr,
					View:       c.session,
					Hub:        c.hub,
					Logger:     logging.Component(log, "view"),
				})
				if err != nil {
					return err
				}
				log.WithField("addr", addr.String()).Info("local view API running (GET /api/room, /api/devices, /api/status)")
				go func() {
					if err := <-errCh; err != nil {
						log.WithError(err).Error("local view API stopped")
					}
				}()
			}

			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-sigCh:
				log.Info("shutdown signal received; closing room link")
			case <-ctx.Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&viewAddr, "view-addr", "", "Serve the local view API on this address (e.g. 127.0.0.1:8091)")
	cmd.Flags().StringVar(&capturePath, "capture", "", "Append every frame to this CBOR capture file")
	return cmd
}
