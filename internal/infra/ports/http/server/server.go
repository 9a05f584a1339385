package server

import (
	"github.com/labstack/echo/v4"

	"github.com/codepair/collab/internal/application/config"
	"github.com/codepair/collab/internal/infra/ports/http/handlers"
	"github.com/codepair/collab/internal/infra/ports/http/middleware"
)

// New wires the echo server: the collaboration endpoint plus the
// JWT-guarded room admin API used by the matching and history services.
func New(cfg *config.Config, roomHandler *handlers.RoomHandler, wsHandler *handlers.WSHandler) *echo.Echo {
	e := echo.New()

	e.HideBanner = true

	e.Use(middleware.SlogLogger())
	e.Use(middleware.Prometheus())

	// Auth on the collaboration path is handled upstream; admission is
	// surfaced as coded websocket closes, not HTTP statuses.
	e.GET("/ws", wsHandler.Handle)
	e.GET("/ws/:roomID", wsHandler.Handle)

	api := e.Group("/api", middleware.JWTAuth(cfg.JWTSecret))
	api.POST("/rooms", roomHandler.Create)
	api.GET("/rooms/:roomID", roomHandler.Get)
	api.PATCH("/rooms/:roomID/close", roomHandler.Close)
	api.PATCH("/rooms/:roomID/forfeit", roomHandler.Forfeit)

	return e
}
