package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/codepair/collab/internal/infra/appctx"
	"github.com/codepair/collab/internal/infra/ports/http/dto"
	"github.com/codepair/collab/internal/usecase"
)

// RoomHandler is the boundary the matching and history services talk to:
// room records are created here and mutated only by closing or forfeiting.
type RoomHandler struct {
	rooms usecase.RoomUsecase
}

func NewRoomHandler(rooms usecase.RoomUsecase) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

func (h *RoomHandler) Create(c echo.Context) error {
	var req dto.CreateRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}
	if len(req.Participants) != 2 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "rooms pair exactly two participants"})
	}

	room, err := h.rooms.Create(c.Request().Context(), req.ToInput())
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	return c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) Get(c echo.Context) error {
	room, err := h.rooms.Get(c.Request().Context(), c.Param("roomID"))
	if errors.Is(err, usecase.ErrRoomNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
	}
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}

	return c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) Close(c echo.Context) error {
	err := h.rooms.Close(c.Request().Context(), c.Param("roomID"))
	if errors.Is(err, usecase.ErrRoomNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room not found"})
	}
	if err != nil {
		return fmt.Errorf("close room: %w", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *RoomHandler) Forfeit(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing user"})
	}

	err := h.rooms.Forfeit(c.Request().Context(), c.Param("roomID"), userID)
	if errors.Is(err, usecase.ErrRoomNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "room or participant not found"})
	}
	if err != nil {
		return fmt.Errorf("forfeit room: %w", err)
	}

	return c.NoContent(http.StatusNoContent)
}
