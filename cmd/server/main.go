package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"peerchat/internal/chat"
	"peerchat/internal/config"
	"peerchat/internal/db"
	"peerchat/internal/middleware"
	"peerchat/internal/presence"
	"peerchat/internal/registry"
	"peerchat/internal/signal"
	"peerchat/internal/user"
	"peerchat/internal/ws"
)

func main() {
	// 1. Config & logger
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("configuration")
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	// 2. Platform layer: postgres + redis
	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer database.Close()
	logger.Info().Msg("connected to postgres")

	if err := database.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	logger.Info().Msg("connected to redis")

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Auth collaborator
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 4. Relay core
	reg := registry.New()
	store := chat.NewRepository(database.Conn)
	relay := chat.NewRelay(store, reg, logger, cfg.StoreFailureThreshold)
	coordinator := signal.NewCoordinator(reg, logger, cfg.RingTimeout)
	announcer := presence.NewAnnouncer(redisClient, logger, cfg.PresenceTTL)
	gateway := ws.NewGateway(reg, relay, coordinator, announcer, logger)
	chatHandler := chat.NewHandler(relay)

	go relay.RunProbe(ctx, cfg.StoreProbeInterval)
	go announcer.Run(ctx)

	authMiddleware := middleware.NewAuth(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(logger))

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected (JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/messages", chatHandler.History)
		r.Get("/ws", gateway.ServeWS)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Addr).Msg("relay listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("shutdown complete")
}
