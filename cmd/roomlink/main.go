package main

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nomy-av/roomlink/internal/config"
	"github.com/nomy-av/roomlink/internal/logging"
)

// globalOptions holds the flags shared by every subcommand.
type globalOptions struct {
	configFile string
	verbose    bool
	server     string
	room       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:          "roomlink",
		Short:        "Keep a live view of one room's devices in sync with its controller",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to a roomlink YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Controller base URL (overrides server.base_url)")
	cmd.PersistentFlags().StringVar(&opts.room, "room", "", "Room id (overrides room.id)")

	cmd.AddCommand(
		newWatchCmd(opts),
		newCommandCmd(opts),
		newSceneCmd(opts),
		newReplayCmd(opts),
	)
	return cmd
}

// load reads the configuration, applies flag overrides and builds the logger.
func (o *globalOptions) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	if o.server != "" {
		cfg.Server.BaseURL = o.server
	}
	if o.room != "" {
		cfg.Room.ID = o.room
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Logging), nil
}

// loadForRoom is load for subcommands that talk to a room.
func (o *globalOptions) loadForRoom() (*config.Config, *logrus.Logger, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Room.ID == "" {
		return nil, nil, errors.New("room id required: set --room, room.id or ROOMLINK_ROOM")
	}
	return cfg, log, nil
}
