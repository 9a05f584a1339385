package protocol

import (
	"testing"

	"github.com/codepair/collab/internal/crdt"
)

func TestDecodeSyncFrames(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}

	for _, tc := range []struct {
		name  string
		frame []byte
		step  uint64
	}{
		{"step1", EncodeSyncStep1(payload), SyncStep1},
		{"step2", EncodeSyncStep2(payload), SyncStep2},
		{"update", EncodeSyncUpdate(payload), SyncUpdate},
	} {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode(tc.frame)
			if err != nil {
				t.Fatal(err)
			}
			if msg.Kind != MessageSync {
				t.Fatalf("Kind = %d, want %d", msg.Kind, MessageSync)
			}
			if msg.Step != tc.step {
				t.Fatalf("Step = %d, want %d", msg.Step, tc.step)
			}
			if string(msg.Payload) != string(payload) {
				t.Fatalf("Payload = %v, want %v", msg.Payload, payload)
			}
		})
	}
}

func TestDecodeAwarenessFrame(t *testing.T) {
	msg, err := Decode(EncodeAwareness([]byte("presence")))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != MessageAwareness {
		t.Fatalf("Kind = %d, want %d", msg.Kind, MessageAwareness)
	}
	if string(msg.Payload) != "presence" {
		t.Fatalf("Payload = %q", msg.Payload)
	}
}

func TestDecodeMalformedFrames(t *testing.T) {
	for _, tc := range []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"unknown kind", []byte{0x07}},
		{"sync missing step", []byte{0x00}},
		{"sync unknown step", []byte{0x00, 0x05, 0x00}},
		{"sync truncated payload", []byte{0x00, 0x02, 0x0a, 0x01}},
		{"awareness truncated payload", []byte{0x01, 0x0a}},
		{"trailing bytes", append(EncodeAwareness([]byte("x")), 0xff)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.frame); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestHandleSyncStep1ProducesStep2(t *testing.T) {
	server := crdt.NewDoc(crdt.WithClientID(1))
	if err := server.InsertText(0, "state"); err != nil {
		t.Fatal(err)
	}

	client := crdt.NewDoc(crdt.WithClientID(2))

	msg, err := Decode(EncodeSyncStep1(client.EncodeStateVector()))
	if err != nil {
		t.Fatal(err)
	}
	reply, err := HandleSync(server, msg)
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil {
		t.Fatal("step 1 must produce a step 2 reply")
	}

	replyMsg, err := Decode(reply)
	if err != nil {
		t.Fatal(err)
	}
	if replyMsg.Step != SyncStep2 {
		t.Fatalf("reply step = %d, want %d", replyMsg.Step, SyncStep2)
	}
	if _, err := HandleSync(client, replyMsg); err != nil {
		t.Fatal(err)
	}
	if client.Text() != "state" {
		t.Fatalf("client text = %q after handshake, want %q", client.Text(), "state")
	}
}

func TestHandleSyncUpdateMerges(t *testing.T) {
	a := crdt.NewDoc(crdt.WithClientID(1))
	b := crdt.NewDoc(crdt.WithClientID(2))

	if err := a.InsertText(0, "delta"); err != nil {
		t.Fatal(err)
	}

	msg, err := Decode(EncodeSyncUpdate(a.EncodeStateAsUpdate()))
	if err != nil {
		t.Fatal(err)
	}
	reply, err := HandleSync(b, msg)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Fatal("update frames must not produce a reply")
	}
	if b.Text() != "delta" {
		t.Fatalf("text = %q, want %q", b.Text(), "delta")
	}
}

func TestHandleSyncRejectsCorruptUpdate(t *testing.T) {
	d := crdt.NewDoc()
	msg := Message{Kind: MessageSync, Step: SyncUpdate, Payload: []byte{0xff, 0xff}}
	if _, err := HandleSync(d, msg); err == nil {
		t.Fatal("expected error for corrupt update payload")
	}
}
