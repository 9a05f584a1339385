package crdt

import (
	"fmt"
	"sort"
)

// Updates are encoded as client blocks in ascending client order, operations
// in ascending sequence order within each block. The encoding is canonical:
// two replicas holding the same operation set produce identical bytes.
//
//	update      := numClients [client block]*
//	client block := client numOps [op]*

// encodeOps serializes a set of operations into the canonical update format.
func encodeOps(ops []*op) []byte {
	groups := make(map[uint64][]*op)
	for _, o := range ops {
		groups[o.id.Client] = append(groups[o.id.Client], o)
	}

	clients := make([]uint64, 0, len(groups))
	for c := range groups {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	e := NewEncoder()
	e.Uint(uint64(len(clients)))
	for _, c := range clients {
		block := groups[c]
		sort.Slice(block, func(i, j int) bool { return block[i].id.Seq < block[j].id.Seq })

		e.Uint(c)
		e.Uint(uint64(len(block)))
		for _, o := range block {
			encodeOp(e, o)
		}
	}
	return e.Result()
}

func decodeUpdate(p []byte) ([]*op, error) {
	d := NewDecoder(p)

	numClients, err := d.Uint()
	if err != nil {
		return nil, err
	}
	// Every client block occupies at least one byte; anything larger is
	// a corrupt header.
	if numClients > uint64(len(p)) {
		return nil, fmt.Errorf("implausible client count %d", numClients)
	}

	var ops []*op
	for i := uint64(0); i < numClients; i++ {
		client, err := d.Uint()
		if err != nil {
			return nil, err
		}
		numOps, err := d.Uint()
		if err != nil {
			return nil, err
		}
		if numOps > uint64(len(p)) {
			return nil, fmt.Errorf("implausible op count %d", numOps)
		}
		for j := uint64(0); j < numOps; j++ {
			o, err := decodeOp(d, client)
			if err != nil {
				return nil, fmt.Errorf("client %d op %d: %w", client, j, err)
			}
			ops = append(ops, o)
		}
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after update", d.Remaining())
	}
	return ops, nil
}

// StateVector summarizes which operations a replica has integrated: the next
// expected sequence number per client.
type StateVector map[uint64]uint64

// EncodeStateVector serializes the replica's state vector, clients in
// ascending order.
func (d *Doc) EncodeStateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	clients := d.sortedClients()
	e := NewEncoder()
	e.Uint(uint64(len(clients)))
	for _, c := range clients {
		e.Uint(c)
		e.Uint(uint64(len(d.arena[c])))
	}
	return e.Result()
}

// StateVector returns a copy of the replica's state vector.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()

	sv := make(StateVector, len(d.arena))
	for c, ops := range d.arena {
		sv[c] = uint64(len(ops))
	}
	return sv
}

func DecodeStateVector(p []byte) (StateVector, error) {
	d := NewDecoder(p)
	n, err := d.Uint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(p)) {
		return nil, fmt.Errorf("implausible client count %d", n)
	}

	sv := make(StateVector, n)
	for i := uint64(0); i < n; i++ {
		client, err := d.Uint()
		if err != nil {
			return nil, err
		}
		next, err := d.Uint()
		if err != nil {
			return nil, err
		}
		sv[client] = next
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after state vector", d.Remaining())
	}
	return sv, nil
}

// EncodeStateAsUpdate serializes every integrated operation. Used for full
// resync and for persistence snapshots.
func (d *Doc) EncodeStateAsUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encodeSince(nil)
}

// DiffUpdate encodes the operations a replica holding sv is missing.
func (d *Doc) DiffUpdate(sv StateVector) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encodeSince(sv)
}

func (d *Doc) encodeSince(sv StateVector) []byte {
	clients := make([]uint64, 0, len(d.arena))
	for _, c := range d.sortedClients() {
		if uint64(len(d.arena[c])) > sv[c] {
			clients = append(clients, c)
		}
	}

	e := NewEncoder()
	e.Uint(uint64(len(clients)))
	for _, c := range clients {
		ops := d.arena[c][sv[c]:]
		e.Uint(c)
		e.Uint(uint64(len(ops)))
		for _, o := range ops {
			encodeOp(e, o)
		}
	}
	return e.Result()
}

func (d *Doc) sortedClients() []uint64 {
	clients := make([]uint64, 0, len(d.arena))
	for c := range d.arena {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}
