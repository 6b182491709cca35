package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomy-av/roomlink"
	"github.com/nomy-av/roomlink/notify"
)

const resultBuffer = 8

func newCommandCmd(g *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "command DEVICE COMMAND [key=value...]",
		Short: "Send one device command and wait for its result",
		Long: `Send one device command and wait for its result.

Parameter values are decoded as JSON when they parse, so level=30 sends a
number and input=hdmi1 sends a string.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}
			deviceID, command := args[0], args[1]
			return runAndAwait(cmd, g, timeout, func(c *client, room *roomlink.Room) error {
				if !room.HasDevice(deviceID) {
					return fmt.Errorf("%w: %q", roomlink.ErrDeviceNotFound, deviceID)
				}
				c.session.IssueCommand(deviceID, command, params)
				return nil
			}, func(n notify.Notification) bool {
				return n.Kind == notify.KindCommandResult && n.DeviceID == deviceID
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "How long to wait for the connection and the result")
	return cmd
}

func newSceneCmd(g *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scene NAME",
		Short: "Activate a scene and wait for its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return runAndAwait(cmd, g, timeout, func(c *client, room *roomlink.Room) error {
				if !room.HasScene(name) {
					return fmt.Errorf("%w: %q", roomlink.ErrSceneNotFound, name)
				}
				c.session.ActivateScene(name)
				return nil
			}, func(n notify.Notification) bool {
				return n.Kind == notify.KindSceneResult && n.Scene == name
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the connection and the result")
	return cmd
}

// runAndAwait starts a session, waits for the link, calls send and then
// waits for the first notification accepted by match. A server error
// notification ends the wait with an error.
func runAndAwait(cmd *cobra.Command, g *globalOptions, timeout time.Duration,
	send func(*client, *roomlink.Room) error, match func(notify.Notification) bool) error {
	cfg, log, err := g.loadForRoom()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := newClient(ctx, cfg, log, clientOptions{})
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.session.Start(ctx); err != nil {
		return err
	}
	if err := c.session.WaitConnected(ctx); err != nil {
		return fmt.Errorf("waiting for room connection: %w", err)
	}

	sub := c.hub.Subscribe(resultBuffer)
	defer sub.Close()

	if err := send(c, c.session.Room()); err != nil {
		return err
	}

	for {
		select {
		case n := <-sub.C():
			switch {
			case n.Kind == notify.KindServerError:
				return fmt.Errorf("controller error: %s", n.Message)
			case match(n):
				fmt.Fprintln(cmd.OutOrStdout(), n.Message)
				if n.Level == notify.LevelError {
					return fmt.Errorf("%s", n.Message)
				}
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for result: %w", ctx.Err())
		}
	}
}

// parseParams turns key=value arguments into command parameters.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", roomlink.ErrInvalidParameter, a)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			decoded = v
		}
		params[k] = decoded
	}
	return params, nil
}
