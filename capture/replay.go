package capture

import (
	"github.com/nomy-av/roomlink/protocol"
	"github.com/nomy-av/roomlink/state"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Inbound  int `json:"inbound"`  // inbound frames considered
	Outbound int `json:"outbound"` // outbound frames skipped
	Applied  int `json:"applied"`  // snapshots and updates applied to the store
	Dropped  int `json:"dropped"`  // frames that did not decode
}

// Replay folds the state-bearing inbound frames of recs into st in capture
// order, the same way a live session would. An empty room matches every
// record.
func Replay(recs []Record, room string, st *state.Store) ReplayStats {
	var stats ReplayStats
	for _, rec := range recs {
		if room != "" && rec.Room != room {
			continue
		}
		if rec.Direction != DirectionIn {
			stats.Outbound++
			continue
		}
		stats.Inbound++
		msg, err := protocol.DecodeInbound(rec.Data)
		if err != nil {
			stats.Dropped++
			continue
		}
		switch m := msg.(type) {
		case *protocol.Snapshot:
			st.ApplySnapshot(m.States)
			stats.Applied++
		case *protocol.DeviceStateUpdate:
			st.ApplyUpdate(m.DeviceID, *m.State)
			stats.Applied++
		}
	}
	return stats
}
