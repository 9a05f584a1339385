package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/codepair/collab/internal/application/config"
	"github.com/codepair/collab/internal/collab"
	"github.com/codepair/collab/internal/crdt"
	"github.com/codepair/collab/internal/domain/models"
	"github.com/codepair/collab/internal/infra/adapters/memory"
	"github.com/codepair/collab/internal/protocol"
	"github.com/codepair/collab/internal/usecase"
)

type wsFixture struct {
	url      string
	rooms    usecase.RoomUsecase
	registry *collab.Registry
	store    *memory.Store
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	cfg := &config.Config{Debug: true}
	store := memory.NewStore()
	registry := collab.NewRegistry(store)
	rooms := usecase.NewRoomUsecase(memory.NewRoomRepository())

	e := echo.New()
	h := NewWSHandler(cfg, rooms, registry)
	e.GET("/ws", h.Handle)
	e.GET("/ws/:roomID", h.Handle)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &wsFixture{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		rooms:    rooms,
		registry: registry,
		store:    store,
	}
}

func (f *wsFixture) createRoom(t *testing.T) *models.Room {
	t.Helper()
	room, err := f.rooms.Create(context.Background(), &models.CreateRoomInput{
		Participants: models.Participants{
			{ID: uuid.New(), Username: "ada"},
			{ID: uuid.New(), Username: "grace"},
		},
		QuestionID: "two-sum",
	})
	if err != nil {
		t.Fatal(err)
	}
	return room
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return ws
}

// expectClose reads until the server closes the socket and returns the close
// code.
func expectClose(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("connection ended without close frame: %v", err)
		}
		return closeErr.Code
	}
}

func readBinary(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if mt == websocket.BinaryMessage {
			return data
		}
	}
}

func waitForDrain(t *testing.T, reg *collab.Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Rooms() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("rooms still live after connections closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	reg.Shutdown(websocket.CloseGoingAway, "test over")
}

func TestRejectMissingRoomID(t *testing.T) {
	f := newWSFixture(t)

	ws := dial(t, f.url)
	defer ws.Close()

	if code := expectClose(t, ws); code != collab.CloseAuthFailed {
		t.Fatalf("close code = %d, want %d", code, collab.CloseAuthFailed)
	}
}

func TestRejectUnknownRoom(t *testing.T) {
	f := newWSFixture(t)

	ws := dial(t, f.url+"/nope")
	defer ws.Close()

	if code := expectClose(t, ws); code != collab.CloseAuthFailed {
		t.Fatalf("close code = %d, want %d", code, collab.CloseAuthFailed)
	}
}

func TestRejectClosedRoom(t *testing.T) {
	f := newWSFixture(t)
	room := f.createRoom(t)
	if err := f.rooms.Close(context.Background(), room.ID); err != nil {
		t.Fatal(err)
	}

	ws := dial(t, f.url+"/"+room.ID)
	defer ws.Close()

	if code := expectClose(t, ws); code != collab.CloseRoomClosed {
		t.Fatalf("close code = %d, want %d", code, collab.CloseRoomClosed)
	}
}

func TestRejectFullRoom(t *testing.T) {
	f := newWSFixture(t)
	room := f.createRoom(t)

	ws1 := dial(t, f.url+"/"+room.ID)
	defer ws1.Close()
	ws2 := dial(t, f.url+"/"+room.ID)
	defer ws2.Close()

	// Both seats must be taken before the third attempt.
	readBinary(t, ws1)
	readBinary(t, ws2)

	ws3 := dial(t, f.url+"/"+room.ID)
	defer ws3.Close()

	if code := expectClose(t, ws3); code != collab.CloseRoomClosed {
		t.Fatalf("close code = %d, want %d", code, collab.CloseRoomClosed)
	}
}

func TestTwoClientSyncAndFlush(t *testing.T) {
	f := newWSFixture(t)
	room := f.createRoom(t)

	ws1 := dial(t, f.url+"/"+room.ID)
	ws2 := dial(t, f.url+"/"+room.ID)

	// Both clients get the server's state vector announcement first.
	for _, ws := range []*websocket.Conn{ws1, ws2} {
		msg, err := protocol.Decode(readBinary(t, ws))
		if err != nil {
			t.Fatal(err)
		}
		if msg.Kind != protocol.MessageSync || msg.Step != protocol.SyncStep1 {
			t.Fatalf("first frame kind %d step %d, want sync step 1", msg.Kind, msg.Step)
		}
	}

	docA := crdt.NewDoc(crdt.WithClientID(1))
	if err := docA.InsertText(0, "package main"); err != nil {
		t.Fatal(err)
	}

	err := ws1.WriteMessage(websocket.BinaryMessage, protocol.EncodeSyncUpdate(docA.EncodeStateAsUpdate()))
	if err != nil {
		t.Fatal(err)
	}

	// The second client receives the relayed update and converges.
	docB := crdt.NewDoc(crdt.WithClientID(2))
	msg, err := protocol.Decode(readBinary(t, ws2))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := protocol.HandleSync(docB, msg); err != nil {
		t.Fatal(err)
	}
	if docB.Text() != "package main" {
		t.Fatalf("peer text = %q, want %q", docB.Text(), "package main")
	}

	ws1.Close()
	ws2.Close()
	waitForDrain(t, f.registry)

	// The drain flushed a snapshot; a late joiner loads the document back.
	if n := f.store.LogLen(room.ID); n == 0 {
		t.Fatal("no persisted state after drain")
	}
	s, err := f.registry.Attach(context.Background(), room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Doc().Text() != "package main" {
		t.Fatalf("reloaded text = %q, want %q", s.Doc().Text(), "package main")
	}
	f.registry.Release(s)
	f.registry.Shutdown(websocket.CloseGoingAway, "test over")
}
