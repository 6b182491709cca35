// Package state holds the local device state mapping of one room and
// reconciles it with snapshot and per-device update messages.
package state

import (
	"maps"
	"slices"
	"sync"

	"github.com/nomy-av/roomlink"
)

// Store maps device id to the latest known DeviceState for one room.
//
// Mutations replace the internal map instead of editing it, so a view handed
// out by Current is never touched afterwards. Writes are expected from a
// single delivery path; readers may run concurrently.
type Store struct {
	mu      sync.RWMutex
	states  map[string]roomlink.DeviceState
	seeds   map[string]roomlink.DeviceState
	devices []roomlink.Device
	version uint64
}

func New() *Store {
	return &Store{
		states: map[string]roomlink.DeviceState{},
		seeds:  map[string]roomlink.DeviceState{},
	}
}

// Initialize resets the store to the room directory. Devices that carry an
// embedded state seed the mapping; the others stay absent.
func (s *Store) Initialize(devices []roomlink.Device) {
	seeds := make(map[string]roomlink.DeviceState, len(devices))
	dir := make([]roomlink.Device, 0, len(devices))
	for _, d := range devices {
		if d.State != nil {
			seeds[d.ID] = d.State.Clone()
		}
		d.State = nil
		dir = append(dir, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = dir
	s.seeds = seeds
	s.states = maps.Clone(seeds)
	s.version++
}

// ApplySnapshot replaces the entire mapping.
func (s *Store) ApplySnapshot(states map[string]roomlink.DeviceState) {
	next := make(map[string]roomlink.DeviceState, len(states))
	for id, st := range states {
		next[id] = st.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = next
	s.version++
}

// ApplyUpdate replaces the entry for deviceID and leaves all others alone.
// Ids outside the room directory are stored too; see Orphans.
func (s *Store) ApplyUpdate(deviceID string, st roomlink.DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.states)
	next[deviceID] = st.Clone()
	s.states = next
	s.version++
}

// Current returns a copy of the mapping, falling back to each directory
// device's seed for ids that have no applied entry.
func (s *Store) Current() map[string]roomlink.DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]roomlink.DeviceState, len(s.states)+len(s.seeds))
	for id, st := range s.seeds {
		out[id] = st.Clone()
	}
	for id, st := range s.states {
		out[id] = st.Clone()
	}
	return out
}

// Get returns the current state of one device.
func (s *Store) Get(deviceID string) (roomlink.DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[deviceID]; ok {
		return st.Clone(), true
	}
	if st, ok := s.seeds[deviceID]; ok {
		return st.Clone(), true
	}
	return roomlink.DeviceState{}, false
}

// Devices returns the directory in its original order with current state
// attached. Devices with no state have a nil State.
func (s *Store) Devices() []roomlink.Device {
	cur := s.Current()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]roomlink.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if st, ok := cur[d.ID]; ok {
			d.State = &st
		}
		out = append(out, d)
	}
	return out
}

// Orphans lists ids present in the mapping that the room directory does not
// know about, sorted. They are kept, not dropped: the controller sent them.
func (s *Store) Orphans() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := make(map[string]struct{}, len(s.devices))
	for _, d := range s.devices {
		known[d.ID] = struct{}{}
	}
	var out []string
	for id := range s.states {
		if _, ok := known[id]; !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Known reports whether deviceID is part of the room directory.
func (s *Store) Known(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.devices, func(d roomlink.Device) bool { return d.ID == deviceID })
}

// Version increments on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
