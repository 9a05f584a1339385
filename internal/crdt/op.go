package crdt

import (
	"fmt"
)

// ID addresses a single operation in the arena: the client that produced it
// and that client's sequence number for it. Sequence numbers are dense per
// client, which is what makes state vectors a complete summary.
type ID struct {
	Client uint64
	Seq    uint64
}

type opKind uint8

const (
	opTextInsert opKind = iota
	opTextDelete
	opMapSet
	opArrayPush
)

// op is one CRDT operation record. Records double as sequence items: an
// integrated text insert is linked into the document order via left/right,
// and a delete tombstones its target in place instead of unlinking it.
type op struct {
	id      ID
	lamport uint64
	kind    opKind

	origin  *ID    // left neighbour at insertion time; nil means document head
	target  ID     // tombstoned item (opTextDelete)
	key     string // opMapSet
	content string // inserted rune, or JSON value for map/array ops

	left, right *op
	deleted     bool
}

// precedes orders operations by (lamport, client). It is the total order used
// to resolve every concurrent conflict, so both replicas always agree.
func precedes(a, b *op) bool {
	if a.lamport != b.lamport {
		return a.lamport < b.lamport
	}
	return a.id.Client < b.id.Client
}

func encodeOp(e *Encoder, o *op) {
	e.Uint(o.id.Seq)
	e.Uint(o.lamport)
	e.Byte(byte(o.kind))

	switch o.kind {
	case opTextInsert:
		if o.origin != nil {
			e.Byte(1)
			e.Uint(o.origin.Client)
			e.Uint(o.origin.Seq)
		} else {
			e.Byte(0)
		}
		e.String(o.content)
	case opTextDelete:
		e.Uint(o.target.Client)
		e.Uint(o.target.Seq)
	case opMapSet:
		e.String(o.key)
		e.String(o.content)
	case opArrayPush:
		e.String(o.content)
	}
}

func decodeOp(d *Decoder, client uint64) (*op, error) {
	seq, err := d.Uint()
	if err != nil {
		return nil, err
	}
	lamport, err := d.Uint()
	if err != nil {
		return nil, err
	}
	kind, err := d.Byte()
	if err != nil {
		return nil, err
	}

	o := &op{
		id:      ID{Client: client, Seq: seq},
		lamport: lamport,
		kind:    opKind(kind),
	}

	switch o.kind {
	case opTextInsert:
		hasOrigin, err := d.Byte()
		if err != nil {
			return nil, err
		}
		if hasOrigin == 1 {
			oc, err := d.Uint()
			if err != nil {
				return nil, err
			}
			os, err := d.Uint()
			if err != nil {
				return nil, err
			}
			o.origin = &ID{Client: oc, Seq: os}
		} else if hasOrigin != 0 {
			return nil, fmt.Errorf("invalid origin flag %d", hasOrigin)
		}
		if o.content, err = d.String(); err != nil {
			return nil, err
		}
	case opTextDelete:
		tc, err := d.Uint()
		if err != nil {
			return nil, err
		}
		ts, err := d.Uint()
		if err != nil {
			return nil, err
		}
		o.target = ID{Client: tc, Seq: ts}
	case opMapSet:
		if o.key, err = d.String(); err != nil {
			return nil, err
		}
		if o.content, err = d.String(); err != nil {
			return nil, err
		}
	case opArrayPush:
		if o.content, err = d.String(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown op kind %d", kind)
	}

	return o, nil
}
