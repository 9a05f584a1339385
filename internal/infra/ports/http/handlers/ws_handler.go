package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/codepair/collab/internal/application/config"
	"github.com/codepair/collab/internal/application/constant"
	"github.com/codepair/collab/internal/collab"
	"github.com/codepair/collab/internal/usecase"
)

// WSHandler admits collaboration connections. The trailing path segment
// names the room; admission is validated against the persisted room record
// before the connection joins the session.
type WSHandler struct {
	upgrader *websocket.Upgrader

	rooms    usecase.RoomUsecase
	registry *collab.Registry
}

func NewWSHandler(cfg *config.Config, rooms usecase.RoomUsecase, registry *collab.Registry) *WSHandler {
	return &WSHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		rooms:    rooms,
		registry: registry,
	}
}

func (h *WSHandler) Handle(c echo.Context) error {
	roomID := c.Param("roomID")

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("websocket upgrade",
			slog.Any(constant.Error, err),
		)
		return err
	}

	ctx := c.Request().Context()

	room, err := h.rooms.Admit(ctx, roomID, h.registry.Occupancy(roomID))
	if err != nil {
		h.reject(ws, roomID, err)
		return nil
	}

	session, err := h.registry.Attach(ctx, roomID)
	if err != nil {
		// A failed storage fetch aborts activation; the client sees it as
		// an admission failure.
		slog.Error("attach session",
			slog.String(constant.RoomID, roomID),
			slog.Any(constant.Error, err),
		)
		collab.CloseWithCode(ws, collab.CloseAuthFailed, "room unavailable")
		return nil
	}

	conn := collab.NewConn(ws, session)
	if err := session.AddConn(conn, room.Capacity()); err != nil {
		h.registry.Release(session)
		collab.CloseWithCode(ws, collab.CloseRoomClosed, "room full")
		return nil
	}

	slog.Info("connection joined room",
		slog.String(constant.RoomID, roomID),
	)

	conn.Run()
	return nil
}

func (h *WSHandler) reject(ws *websocket.Conn, roomID string, err error) {
	switch {
	case errors.Is(err, usecase.ErrRoomNotFound):
		collab.CloseWithCode(ws, collab.CloseAuthFailed, "unknown room")
	case errors.Is(err, usecase.ErrRoomClosed):
		collab.CloseWithCode(ws, collab.CloseRoomClosed, "room closed")
	case errors.Is(err, usecase.ErrRoomFull):
		collab.CloseWithCode(ws, collab.CloseRoomClosed, "room full")
	default:
		slog.Error("admission check",
			slog.String(constant.RoomID, roomID),
			slog.Any(constant.Error, err),
		)
		collab.CloseWithCode(ws, collab.CloseAuthFailed, "admission failed")
	}
}
