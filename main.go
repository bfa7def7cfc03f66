package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"pairquiz-backend/internal/config"
	"pairquiz-backend/internal/game"
	"pairquiz-backend/internal/handlers"
	"pairquiz-backend/internal/middleware"
	"pairquiz-backend/internal/store"
	"pairquiz-backend/internal/ws"

	"github.com/MadAppGang/httplog"
	"github.com/coder/websocket"
	"github.com/rs/cors"
)

func init() {
	if os.Getenv("DEBUG") == "yes" {
		middleware.CORS = cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
		})
		middleware.HTTPLogger = httplog.LoggerWithConfig(httplog.LoggerConfig{
			RouterName: "PairQuiz",
			Formatter: httplog.ChainLogFormatter(
				httplog.DefaultLogFormatter,
				httplog.RequestHeaderLogFormatter, httplog.RequestBodyLogFormatter,
				httplog.ResponseHeaderLogFormatter, httplog.ResponseBodyLogFormatter),
			CaptureBody: true,
		})
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

func main() {
	log := slog.Default()

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Error("could not load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("could not open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.SeedQuestions(context.Background()); err != nil {
		log.Error("could not seed questions", slog.Any("error", err))
		os.Exit(1)
	}

	registry := ws.NewRegistry()
	coord := game.NewCoordinator(game.Options{
		Sender:            registry,
		Questions:         db,
		Store:             db,
		Logger:            log,
		QuestionsPerGame:  cfg.QuestionsPerGame,
		RoundTimeout:      cfg.RoundTimeout,
		LobbyCodeLength:   cfg.LobbyCodeLength,
		MaxChatMessageLen: cfg.MaxChatMessageLen,
	})

	wsHandler := ws.NewHandler(coord, registry, cfg.WebsocketReadLimit, websocket.AcceptOptions{
		InsecureSkipVerify: true, // Accepting all origins
	}, log)

	http.Handle("GET /ws", wsHandler)
	http.Handle("GET /health", middleware.ApplyDefaults(handlers.HealthHandler(db)))
	http.Handle("GET /questions", middleware.ApplyDefaults(handlers.QuestionsHandler(db)))

	srv := http.Server{
		Addr:        cfg.Addr,
		Handler:     http.DefaultServeMux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would sever long-lived websockets.
	}

	log.Info("listening", slog.String("addr", srv.Addr))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
