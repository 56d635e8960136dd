package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/boostgram/backend/internal/config"
	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/feed"
	httpapi "github.com/boostgram/backend/internal/http"
	"github.com/boostgram/backend/internal/orders"
	"github.com/boostgram/backend/internal/provider"
	"github.com/boostgram/backend/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "boostgram-backend").Logger()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := feed.NewHub()

	var store db.Store
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		store = db.NewMem(hub)
	} else {
		pg, err := db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		if err := pg.ApplySchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}

		listener := &feed.Listener{Pool: pg.Pool, Hub: hub, Log: logger}
		go listener.Run(ctx)
		store = pg
	}

	var uploader uploads.Uploader
	if cfg.S3Bucket != "" {
		s3up, err := uploads.NewS3(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init s3 uploader")
		}
		uploader = s3up
	} else {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create upload dir")
		}
		uploader = &uploads.Local{Dir: cfg.UploadDir}
	}

	var adapter provider.Adapter
	if cfg.ProviderURL == "" {
		adapter = provider.NewMock()
		logger.Info().Msg("using mock fulfillment provider")
	} else {
		adapter = provider.HTTPAdapter{BaseURL: cfg.ProviderURL, APIKey: cfg.ProviderAPIKey}
	}
	processor := &orders.Processor{Store: store, Provider: adapter, Log: logger}
	go processor.Run(ctx, cfg.ProviderPollEvery)

	router := httpapi.Router(cfg, store, hub, uploader, logger)

	// Websocket connections are hijacked, so a read timeout here would
	// only cut off slow request headers, not live sessions.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
