package collab

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codepair/collab/internal/awareness"
	"github.com/codepair/collab/internal/crdt"
	"github.com/codepair/collab/internal/infra/adapters/memory"
	"github.com/codepair/collab/internal/protocol"
)

func recvFrame(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected outbound frame: %v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAddConnHandshakeAndCapacity(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(memory.NewStore())

	s, err := reg.Attach(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Doc().InsertText(0, "existing"); err != nil {
		t.Fatal(err)
	}

	c1 := NewConn(nil, s)
	if err := s.AddConn(c1, 2); err != nil {
		t.Fatal(err)
	}
	if c1.State() != StateActive {
		t.Fatalf("conn state = %d, want active", c1.State())
	}

	// The accept handshake announces the server's state vector.
	msg, err := protocol.Decode(recvFrame(t, c1))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != protocol.MessageSync || msg.Step != protocol.SyncStep1 {
		t.Fatalf("first frame kind %d step %d, want sync step 1", msg.Kind, msg.Step)
	}
	sv, err := crdt.DecodeStateVector(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if sv[s.Doc().ClientID()] != 8 {
		t.Fatalf("announced sv = %v, want 8 ops for the server client", sv)
	}

	if _, err := reg.Attach(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	c2 := NewConn(nil, s)
	if err := s.AddConn(c2, 2); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Attach(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}
	c3 := NewConn(nil, s)
	if err := s.AddConn(c3, 2); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("third AddConn error = %v, want %v", err, ErrSessionFull)
	}
	reg.Release(s)

	if s.ConnCount() != 2 {
		t.Fatalf("ConnCount() = %d, want 2", s.ConnCount())
	}

	s.RemoveConn(c1)
	s.RemoveConn(c2)
	reg.Shutdown(websocket.CloseGoingAway, "test over")
}

func TestInboundUpdateBroadcastsToPeer(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(memory.NewStore())

	s, err := reg.Attach(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Attach(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}

	c1 := NewConn(nil, s)
	c2 := NewConn(nil, s)
	if err := s.AddConn(c1, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConn(c2, 2); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, c1) // initial step 1
	recvFrame(t, c2)

	remote := crdt.NewDoc(crdt.WithClientID(99))
	if err := remote.InsertText(0, "edit"); err != nil {
		t.Fatal(err)
	}
	frame := protocol.EncodeSyncUpdate(remote.EncodeStateAsUpdate())
	s.inbox <- inboundFrame{conn: c1, data: frame}

	// The raw frame is relayed to the peer, not back to the sender.
	got := recvFrame(t, c2)
	if string(got) != string(frame) {
		t.Fatal("relayed frame differs from the inbound one")
	}
	expectNoFrame(t, c1)

	if s.Doc().Text() != "edit" {
		t.Fatalf("session text = %q, want %q", s.Doc().Text(), "edit")
	}

	s.RemoveConn(c1)
	s.RemoveConn(c2)
	reg.Shutdown(websocket.CloseGoingAway, "test over")
}

func TestAwarenessDepartureOnRemove(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(memory.NewStore())

	s, err := reg.Attach(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Attach(ctx, "room-1"); err != nil {
		t.Fatal(err)
	}

	c1 := NewConn(nil, s)
	c2 := NewConn(nil, s)
	if err := s.AddConn(c1, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.AddConn(c2, 2); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, c1)
	recvFrame(t, c2)

	presence := awareness.EncodeClient(42, 1, json.RawMessage(`{"name":"ada"}`))
	s.inbox <- inboundFrame{conn: c1, data: protocol.EncodeAwareness(presence)}

	msg, err := protocol.Decode(recvFrame(t, c2))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != protocol.MessageAwareness {
		t.Fatalf("frame kind = %d, want awareness", msg.Kind)
	}

	// A peer replica tracking client 42 observes the departure when the
	// controlling connection goes away.
	peer := awareness.New()
	if _, _, err := peer.ApplyUpdate(msg.Payload); err != nil {
		t.Fatal(err)
	}

	s.RemoveConn(c1)

	msg, err = protocol.Decode(recvFrame(t, c2))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != protocol.MessageAwareness {
		t.Fatalf("frame kind = %d, want awareness", msg.Kind)
	}
	_, removed, err := peer.ApplyUpdate(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != 42 {
		t.Fatalf("removed = %v, want [42]", removed)
	}

	s.RemoveConn(c2)
	reg.Shutdown(websocket.CloseGoingAway, "test over")
}
