package awareness

import (
	"encoding/json"
	"testing"
)

func apply(t *testing.T, s *State, diff []byte) (updated, removed []uint64) {
	t.Helper()
	updated, removed, err := s.ApplyUpdate(diff)
	if err != nil {
		t.Fatalf("apply awareness diff: %v", err)
	}
	return updated, removed
}

func TestApplyUpdateTracksPresence(t *testing.T) {
	s := New()

	updated, removed := apply(t, s, EncodeClient(7, 1, json.RawMessage(`{"name":"ada"}`)))
	if len(updated) != 1 || updated[0] != 7 {
		t.Fatalf("updated = %v, want [7]", updated)
	}
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none", removed)
	}

	data, ok := s.Get(7)
	if !ok || string(data) != `{"name":"ada"}` {
		t.Fatalf("Get(7) = %s, %v", data, ok)
	}
	if clients := s.Clients(); len(clients) != 1 || clients[0] != 7 {
		t.Fatalf("Clients() = %v", clients)
	}
}

func TestStaleClockIgnored(t *testing.T) {
	s := New()
	apply(t, s, EncodeClient(7, 5, json.RawMessage(`"new"`)))

	updated, _ := apply(t, s, EncodeClient(7, 3, json.RawMessage(`"old"`)))
	if len(updated) != 0 {
		t.Fatalf("stale update applied: %v", updated)
	}
	if data, _ := s.Get(7); string(data) != `"new"` {
		t.Fatalf("Get(7) = %s, want %q", data, `"new"`)
	}
}

func TestNullPayloadRemoves(t *testing.T) {
	s := New()
	apply(t, s, EncodeClient(7, 1, json.RawMessage(`"here"`)))

	updated, removed := apply(t, s, EncodeClient(7, 2, nil))
	if len(updated) != 0 {
		t.Fatalf("updated = %v, want none", updated)
	}
	if len(removed) != 1 || removed[0] != 7 {
		t.Fatalf("removed = %v, want [7]", removed)
	}
	if _, ok := s.Get(7); ok {
		t.Fatal("client still present after removal")
	}

	// The removal clock fences off updates from before the departure.
	apply(t, s, EncodeClient(7, 2, json.RawMessage(`"ghost"`)))
	if _, ok := s.Get(7); ok {
		t.Fatal("pre-removal update resurrected the client")
	}
}

func TestRemoveClientsBroadcastsDiff(t *testing.T) {
	s := New()
	apply(t, s, EncodeClient(1, 1, json.RawMessage(`"a"`)))
	apply(t, s, EncodeClient(2, 1, json.RawMessage(`"b"`)))

	diff := s.RemoveClients([]uint64{1, 99})
	if diff == nil {
		t.Fatal("expected a removal diff")
	}
	if clients := s.Clients(); len(clients) != 1 || clients[0] != 2 {
		t.Fatalf("Clients() = %v, want [2]", clients)
	}

	// A peer applying the diff observes the same removal.
	peer := New()
	apply(t, peer, EncodeClient(1, 1, json.RawMessage(`"a"`)))
	_, removed := apply(t, peer, diff)
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("peer removed = %v, want [1]", removed)
	}

	if s.RemoveClients([]uint64{1}) != nil {
		t.Fatal("removing an absent client must yield no diff")
	}
}

func TestEncodeAllSnapshotsLiveEntries(t *testing.T) {
	s := New()
	apply(t, s, EncodeClient(1, 1, json.RawMessage(`"a"`)))
	apply(t, s, EncodeClient(2, 1, json.RawMessage(`"b"`)))
	s.RemoveClients([]uint64{2})

	peer := New()
	updated, removed := apply(t, peer, s.EncodeAll())
	if len(updated) != 1 || updated[0] != 1 {
		t.Fatalf("updated = %v, want [1]", updated)
	}
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none", removed)
	}
}

func TestApplyUpdateMalformed(t *testing.T) {
	s := New()
	if _, _, err := s.ApplyUpdate([]byte{0xff}); err == nil {
		t.Fatal("expected error for truncated diff")
	}
	if _, _, err := s.ApplyUpdate([]byte{0x02, 0x01}); err == nil {
		t.Fatal("expected error for short entry list")
	}
}

func TestTruncatedDiffLeavesStateUntouched(t *testing.T) {
	s := New()

	// Two entries announced, the first complete, the second cut off.
	valid := EncodeClient(1, 1, json.RawMessage(`"a"`))
	diff := append([]byte{0x02}, valid[1:]...)
	diff = append(diff, 0x09)

	if _, _, err := s.ApplyUpdate(diff); err == nil {
		t.Fatal("expected error for truncated diff")
	}
	if _, ok := s.Get(1); ok {
		t.Fatal("partially decoded diff mutated the state")
	}
	if clients := s.Clients(); len(clients) != 0 {
		t.Fatalf("Clients() = %v after rejected diff, want none", clients)
	}
}
