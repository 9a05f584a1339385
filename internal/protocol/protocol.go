// Package protocol implements the binary wire envelope exchanged over a room
// connection. Every frame is [varint kind][payload]; sync payloads carry a
// further step discriminator for the three-step handshake.
package protocol

import (
	"fmt"

	"github.com/codepair/collab/internal/crdt"
)

// Message kinds.
const (
	MessageSync      uint64 = 0
	MessageAwareness uint64 = 1
)

// Sync sub-protocol steps.
const (
	SyncStep1  uint64 = 0 // state vector announcement, sent on accept
	SyncStep2  uint64 = 1 // reply carrying the delta the announcer is missing
	SyncUpdate uint64 = 2 // incremental update, sent on any local change
)

// Message is a decoded wire frame.
type Message struct {
	Kind    uint64
	Step    uint64 // sync frames only
	Payload []byte
}

// Decode parses a single frame. A malformed frame returns an error and must
// be treated as a framing violation by the caller.
func Decode(frame []byte) (Message, error) {
	d := crdt.NewDecoder(frame)

	kind, err := d.Uint()
	if err != nil {
		return Message{}, fmt.Errorf("read message kind: %w", err)
	}

	msg := Message{Kind: kind}
	switch kind {
	case MessageSync:
		step, err := d.Uint()
		if err != nil {
			return Message{}, fmt.Errorf("read sync step: %w", err)
		}
		if step > SyncUpdate {
			return Message{}, fmt.Errorf("unknown sync step %d", step)
		}
		msg.Step = step
		if msg.Payload, err = d.Bytes(); err != nil {
			return Message{}, fmt.Errorf("read sync payload: %w", err)
		}
	case MessageAwareness:
		if msg.Payload, err = d.Bytes(); err != nil {
			return Message{}, fmt.Errorf("read awareness payload: %w", err)
		}
	default:
		return Message{}, fmt.Errorf("unknown message kind %d", kind)
	}

	if d.Remaining() != 0 {
		return Message{}, fmt.Errorf("%d trailing bytes after frame", d.Remaining())
	}
	return msg, nil
}

func encodeSync(step uint64, payload []byte) []byte {
	e := crdt.NewEncoder()
	e.Uint(MessageSync)
	e.Uint(step)
	e.Bytes(payload)
	return e.Result()
}

// EncodeSyncStep1 frames a state vector announcement.
func EncodeSyncStep1(stateVector []byte) []byte {
	return encodeSync(SyncStep1, stateVector)
}

// EncodeSyncStep2 frames the catch-up delta replying to a step 1.
func EncodeSyncStep2(update []byte) []byte {
	return encodeSync(SyncStep2, update)
}

// EncodeSyncUpdate frames an incremental update.
func EncodeSyncUpdate(update []byte) []byte {
	return encodeSync(SyncUpdate, update)
}

// EncodeAwareness frames an awareness diff.
func EncodeAwareness(payload []byte) []byte {
	e := crdt.NewEncoder()
	e.Uint(MessageAwareness)
	e.Bytes(payload)
	return e.Result()
}

// HandleSync applies a decoded sync message against doc and returns the
// reply frame, if any. Step 1 yields a step 2 reply computed from the
// announced state vector; step 2 and update frames merge into the document
// with no reply.
func HandleSync(doc *crdt.Doc, msg Message) ([]byte, error) {
	switch msg.Step {
	case SyncStep1:
		sv, err := crdt.DecodeStateVector(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode state vector: %w", err)
		}
		return EncodeSyncStep2(doc.DiffUpdate(sv)), nil
	case SyncStep2, SyncUpdate:
		if err := doc.ApplyUpdate(msg.Payload); err != nil {
			return nil, fmt.Errorf("apply update: %w", err)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown sync step %d", msg.Step)
	}
}
