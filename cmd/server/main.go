package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/paylite/session-server/internal/broadcast"
	"github.com/paylite/session-server/internal/config"
	"github.com/paylite/session-server/internal/database"
	"github.com/paylite/session-server/internal/gateway"
	"github.com/paylite/session-server/internal/guard"
	"github.com/paylite/session-server/internal/handler"
	"github.com/paylite/session-server/internal/httputil"
	"github.com/paylite/session-server/internal/jobs"
	"github.com/paylite/session-server/internal/lifecycle"
	redisclient "github.com/paylite/session-server/internal/redis"
	"github.com/paylite/session-server/internal/repository"
	"github.com/paylite/session-server/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancelPing()
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("database unreachable")
	}

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	rdb, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	users := repository.NewUserRepository(db.DB)
	creds := repository.NewCredentialRepository(db.DB)
	tokens := repository.NewRefreshTokenRepository(db.DB)
	accounts := repository.NewAccountWriter(db, users, creds)

	gw := gateway.NewLocal(users, creds, tokens, accounts, gateway.LocalConfig{
		TokenSecret:      cfg.TokenSecret,
		AccessTokenTTL:   config.AccessTokenTTL,
		RefreshTokenTTL:  config.RefreshTokenTTL,
		RefreshThreshold: cfg.RefreshThreshold(),
	})

	authStore := store.New(store.NewRedisPersister(rdb, cfg.AuthStateKey)).
		WithMaxAge(cfg.SessionDuration())
	authStore.Rehydrate(context.Background())

	broker := broadcast.NewRedisBroker(rdb)
	defer broker.Close()

	manager := lifecycle.NewManager(authStore, gw, broker, lifecycle.Config{
		SessionDuration:  cfg.SessionDuration(),
		WarningThreshold: cfg.WarningThreshold(),
		MonitorInterval:  cfg.MonitorInterval(),
		MaxRetries:       cfg.MaxRetries,
		BaseDelay:        cfg.BaseDelay(),
	})

	if _, err := manager.Initialize(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial session restoration failed")
	}

	manager.StartMonitor()
	defer manager.StopMonitor()

	guards := guard.New(authStore, manager, gw, broker, guard.Options{})
	defer guards.Close()

	cleanup := jobs.NewCleanupJob(tokens)
	cleanup.Start()
	defer cleanup.Stop()

	router := newRouter(manager, gw, guards)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newRouter(manager *lifecycle.Manager, gw *gateway.Local, guards *guard.Guard) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := handler.NewAuthHandler(manager, gw)

	// Login and signup bounce live sessions to their destination.
	r.Group(func(r chi.Router) {
		r.Use(guards.Public)
		r.Post("/auth/login", auth.Login)
		r.Post("/auth/signup", auth.Signup)
	})

	// Session management is reachable regardless of auth state.
	r.Post("/auth/logout", auth.Logout)
	r.Get("/auth/session", auth.Session)
	r.Post("/auth/session/extend", auth.Extend)

	// Account surfaces demand a live session.
	r.Group(func(r chi.Router) {
		r.Use(guards.Private)
		r.Post("/auth/password", auth.ChangePassword)
		r.Get("/api/me", func(w http.ResponseWriter, _ *http.Request) {
			user := manager.State().User
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"user":     user,
				"initials": user.Initials(),
			})
		})
		r.Get("/api/dashboard", func(w http.ResponseWriter, r *http.Request) {
			check := manager.CheckSession(r.Context())
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"remainingMinutes": int(check.Remaining.Minutes()),
			})
		})
	})

	// Money movement re-verifies with the gateway on every request.
	r.Group(func(r chi.Router) {
		r.Use(guards.Security)
		r.Post("/api/payments", func(w http.ResponseWriter, _ *http.Request) {
			httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})
	})

	return r
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
