package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/DouglasDev222/ServerZap/internal/config"
	"github.com/DouglasDev222/ServerZap/internal/dispatch"
	"github.com/DouglasDev222/ServerZap/internal/httpapi"
	"github.com/DouglasDev222/ServerZap/internal/persistence"
	"github.com/DouglasDev222/ServerZap/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("serverzap exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := persistence.Open(ctx, persistence.Options{
		Path:            cfg.DBPath,
		ResultRetention: cfg.ResultRetention,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("closing database failed")
		}
	}()

	factory := &session.WhatsmeowFactory{
		StoreDir: cfg.SessionDir,
		Log:      log.With().Str("component", "whatsmeow").Logger(),
	}
	controller := session.NewController(factory, cfg.SessionDir, cfg.ReconnectDelay, log)
	defer controller.Close()

	go func() {
		if err := controller.Initialize(ctx); err != nil {
			log.Error().Err(err).Msg("initial session setup failed")
		}
	}()

	pool := dispatch.NewPool(db.Queue, controller, dispatch.PoolOptions{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		SendTimeout:  cfg.SendTimeout,
		Policy: persistence.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BackoffBase: cfg.BackoffBase,
		},
	}, log)

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	handler := httpapi.NewHandler(controller, pool, db.Queue, log)
	router := httpapi.NewRouter(handler, httpapi.AuthConfig{
		APIKey:     cfg.APIKey,
		APIKeyHash: cfg.APIKeyHash,
	})
	if cfg.APIKey == "" && cfg.APIKeyHash == "" {
		log.Warn().Msg("no api key configured, http api is unauthenticated")
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	<-poolDone
	return nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(parsed).With().Timestamp().Logger()
}
