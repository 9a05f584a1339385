package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codepair/collab/internal/application/config"
	"github.com/codepair/collab/internal/application/constant"
	"github.com/codepair/collab/internal/application/metric"
	"github.com/codepair/collab/internal/collab"
	"github.com/codepair/collab/internal/infra/adapters/bolt"
	"github.com/codepair/collab/internal/infra/adapters/memory"
	"github.com/codepair/collab/internal/infra/adapters/postgres"
	"github.com/codepair/collab/internal/infra/adapters/postgres/repository"
	"github.com/codepair/collab/internal/infra/adapters/redisstore"
	"github.com/codepair/collab/internal/infra/ports/http/handlers"
	"github.com/codepair/collab/internal/infra/ports/http/server"
	"github.com/codepair/collab/internal/usecase"
)

func runApp() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	slog.SetDefault(
		slog.New(
			slog.NewJSONHandler(
				os.Stdout,
				&slog.HandlerOptions{Level: slog.LevelInfo},
			),
		),
	)

	cfg, err := config.New()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		os.Exit(1)
	}

	slog.Info("Running app",
		slog.Bool("debug", cfg.Debug),
		slog.String(constant.Driver, cfg.Storage.Driver),
	)

	var (
		store    collab.Store
		roomRepo repository.RoomRepository
	)

	switch cfg.Storage.Driver {
	case "postgres":
		dbConn, err := postgres.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			slog.Error("connect to postgres", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer dbConn.Close()

		store = repository.NewDocumentUpdateRepo(dbConn)
		roomRepo = repository.NewRoomRepo(dbConn)

	case "bolt":
		boltStore, err := bolt.New(cfg.Storage.BoltPath)
		if err != nil {
			slog.Error("open bolt database", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer boltStore.Close()

		store = boltStore
		roomRepo = memory.NewRoomRepository()

	case "redis":
		client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("connect to redis", slog.Any(constant.Error, err))
			os.Exit(1)
		}
		defer client.Close()

		store = redisstore.New(client)
		roomRepo = memory.NewRoomRepository()

	case "memory":
		store = memory.NewStore()
		roomRepo = memory.NewRoomRepository()

	default:
		slog.Error("unknown storage driver", slog.String(constant.Driver, cfg.Storage.Driver))
		os.Exit(1)
	}

	registry := collab.NewRegistry(store, collab.WithDocGC(cfg.Storage.DocGC))

	roomUsecase := usecase.NewRoomUsecase(roomRepo)

	roomHandler := handlers.NewRoomHandler(roomUsecase)
	wsHandler := handlers.NewWSHandler(cfg, roomUsecase, registry)

	echoSrv := server.New(cfg, roomHandler, wsHandler)
	metricsSrv := metric.NewServer()

	srvCh := make(chan error, 1)
	go func() {
		srvCh <- echoSrv.Start(":" + cfg.Port)
	}()

	go func() {
		if err := metricsSrv.Start(":" + cfg.MetricsPort); err != nil {
			slog.Error("metrics server failed", slog.Any(constant.Error, err))
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server due to context cancel")
	case err := <-srvCh:
		slog.Error(
			"HTTP server failed",
			slog.Any(constant.Error, err),
		)

		os.Exit(1)
	}

	// Closing sessions first lets every room flush a compacted snapshot
	// before the HTTP listener goes away.
	registry.Shutdown(websocket.CloseGoingAway, "server shutting down")

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer timeoutCancel()

	if err := echoSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown server", slog.Any(constant.Error, err))
	}

	if err := metricsSrv.Shutdown(timeoutCtx); err != nil {
		slog.Error("Failed to gracefully shutdown metrics server", slog.Any(constant.Error, err))
	}
}
