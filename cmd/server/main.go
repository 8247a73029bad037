// Command server runs the creator messaging backend: the HTTP API, the
// webhook ingester, and the auto-reply scheduler, all sharing one database
// and one reply-cooldown state.
//
// Configuration comes from the environment (a local .env is honored in
// development). The process shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sorotech/go-creator-backend/internal/ai"
	"github.com/sorotech/go-creator-backend/internal/cache"
	"github.com/sorotech/go-creator-backend/internal/config"
	httpapi "github.com/sorotech/go-creator-backend/internal/http"
	"github.com/sorotech/go-creator-backend/internal/http/handlers"
	"github.com/sorotech/go-creator-backend/internal/oauth"
	"github.com/sorotech/go-creator-backend/internal/observability"
	"github.com/sorotech/go-creator-backend/internal/persona"
	"github.com/sorotech/go-creator-backend/internal/platform"
	"github.com/sorotech/go-creator-backend/internal/repo"
	"github.com/sorotech/go-creator-backend/internal/scheduler"
	"github.com/sorotech/go-creator-backend/internal/sysutil"
	"github.com/sorotech/go-creator-backend/internal/webhook"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Init(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(c); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	db, err := repo.Open(cfg.DBDriver, dsnFor(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// PKCE state store: Redis when configured, in-memory otherwise.
	var states oauth.StateStore = oauth.NewMemoryStateStore()
	if cfg.RedisAddr != "" {
		states = oauth.NewRedisStateStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	}

	oauthMgr := oauth.NewManager(cfg.OAuth, db, states)
	platformClient := platform.NewClient(cfg.Platform, oauthMgr)
	personas := persona.NewLoader(cfg.AI.PersonasDir)

	aiSvc, err := ai.NewService(cfg.AI, db, personas)
	if err != nil {
		log.Fatal().Err(err).Msg("ai service init failed")
	}

	// The webhook path and the polling scheduler share the reply cooldown
	// clock and the processed-message set so neither double-replies.
	replyClock := cache.NewReplyClock()
	processed := cache.NewBoundedSet(cfg.Scheduler.ProcessedCap)

	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("webhook secret is empty; signature verification is DISABLED")
	}
	ingester := webhook.NewIngester(db, cfg.Webhook.Secret, aiSvc, platformClient,
		replyClock, processed, cfg.Scheduler.DefaultDelay)

	if cfg.Scheduler.Enabled {
		worker := scheduler.NewWorker(db, platformClient, aiSvc, replyClock, processed, cfg.Scheduler)
		go worker.Start(ctx)
	} else {
		log.Info().Msg("auto-reply scheduler disabled")
	}

	h := handlers.New(db, oauthMgr, platformClient, aiSvc, personas, ingester, cfg.IdempotencyTTL)

	engine := gin.New()
	httpapi.RegisterRoutes(engine, h, db, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// dsnFor picks the connection string matching the configured driver.
func dsnFor(cfg config.Config) string {
	if cfg.DBDriver == "postgres" {
		return cfg.DBDSN
	}
	return cfg.DBPath
}
