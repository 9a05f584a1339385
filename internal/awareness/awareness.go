// Package awareness tracks ephemeral per-client presence for one room.
// Entries are last-write-wins per client id and never persisted.
package awareness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/codepair/collab/internal/crdt"
)

var nullValue = []byte("null")

// State is the shared awareness table for one room.
type State struct {
	mu      sync.RWMutex
	entries map[uint64]entry
}

// entry keeps the per-client clock even after removal so a late update from
// before the removal cannot resurrect the client.
type entry struct {
	clock uint64
	data  json.RawMessage // nil once the client left
}

func New() *State {
	return &State{entries: make(map[uint64]entry)}
}

// ApplyUpdate merges a remote awareness diff. It returns the client ids
// whose presence was updated and those that were removed by the diff. The
// whole diff is decoded before any entry is applied, so a malformed diff
// leaves the state untouched.
func (s *State) ApplyUpdate(p []byte) (updated, removed []uint64, err error) {
	d := crdt.NewDecoder(p)
	n, err := d.Uint()
	if err != nil {
		return nil, nil, err
	}
	if n > uint64(len(p)) {
		return nil, nil, fmt.Errorf("implausible entry count %d", n)
	}

	type wireEntry struct {
		client uint64
		clock  uint64
		raw    []byte
	}
	decoded := make([]wireEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		var we wireEntry
		if we.client, err = d.Uint(); err != nil {
			return nil, nil, err
		}
		if we.clock, err = d.Uint(); err != nil {
			return nil, nil, err
		}
		if we.raw, err = d.Bytes(); err != nil {
			return nil, nil, err
		}
		decoded = append(decoded, we)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, we := range decoded {
		cur, known := s.entries[we.client]
		if known && we.clock <= cur.clock {
			continue
		}

		if bytes.Equal(we.raw, nullValue) {
			s.entries[we.client] = entry{clock: we.clock}
			if known && cur.data != nil {
				removed = append(removed, we.client)
			}
			continue
		}

		data := make(json.RawMessage, len(we.raw))
		copy(data, we.raw)
		s.entries[we.client] = entry{clock: we.clock, data: data}
		updated = append(updated, we.client)
	}
	return updated, removed, nil
}

// RemoveClients marks the given clients as departed and returns the diff to
// broadcast to the remaining peers, or nil if none of them were present.
func (s *State) RemoveClients(ids []uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gone []uint64
	for _, id := range ids {
		cur, ok := s.entries[id]
		if !ok || cur.data == nil {
			continue
		}
		s.entries[id] = entry{clock: cur.clock + 1}
		gone = append(gone, id)
	}
	if len(gone) == 0 {
		return nil
	}
	return s.encodeLocked(gone)
}

// EncodeAll returns a diff carrying every live entry, used to bring a newly
// accepted connection up to date.
func (s *State) EncodeAll() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []uint64
	for id, e := range s.entries {
		if e.data != nil {
			live = append(live, id)
		}
	}
	return s.encodeLocked(live)
}

// Clients returns the live client ids in ascending order.
func (s *State) Clients() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []uint64
	for id, e := range s.entries {
		if e.data != nil {
			live = append(live, id)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	return live
}

// Get returns the presence payload for a client id.
func (s *State) Get(id uint64) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.data == nil {
		return nil, false
	}
	return e.data, true
}

func (s *State) encodeLocked(ids []uint64) []byte {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	e := crdt.NewEncoder()
	e.Uint(uint64(len(ids)))
	for _, id := range ids {
		ent := s.entries[id]
		e.Uint(id)
		e.Uint(ent.clock)
		if ent.data == nil {
			e.Bytes(nullValue)
		} else {
			e.Bytes(ent.data)
		}
	}
	return e.Result()
}

// EncodeClient builds a single-entry diff a client can use to announce its
// own presence.
func EncodeClient(id, clock uint64, data json.RawMessage) []byte {
	e := crdt.NewEncoder()
	e.Uint(1)
	e.Uint(id)
	e.Uint(clock)
	if data == nil {
		e.Bytes(nullValue)
	} else {
		e.Bytes(data)
	}
	return e.Result()
}
