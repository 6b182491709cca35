package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nomy-av/roomlink"
	"github.com/nomy-av/roomlink/capture"
	"github.com/nomy-av/roomlink/state"
)

type replayOutput struct {
	Room    string                          `json:"room,omitempty"`
	Stats   capture.ReplayStats             `json:"stats"`
	Version uint64                          `json:"version"`
	States  map[string]roomlink.DeviceState `json:"states"`
}

func newReplayCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Rebuild device state from a capture file and print it as JSON",
		Long: `Rebuild device state from a capture file and print it as JSON.

Only frames of --room are replayed when it is set; otherwise every frame in
the file is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := capture.ReadAll(args[0])
			if err != nil {
				return err
			}
			st := state.New()
			stats := capture.Replay(recs, g.room, st)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(replayOutput{
				Room:    g.room,
				Stats:   stats,
				Version: st.Version(),
				States:  st.Current(),
			})
		},
	}
}
