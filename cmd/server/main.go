// Command server runs the persona chat HTTP API.
//
// @title                       Persona Chat API
// @version                     1.0
// @description                 Per-user chat sessions with AI personas backed by an OpenAI-compatible completion endpoint.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  SessionToken
// @in                          header
// @name                        X-Session-Token
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
	"github.com/rs/zerolog/log"

	"github.com/tbourn/persona-chat/docs"
	"github.com/tbourn/persona-chat/internal/completion"
	"github.com/tbourn/persona-chat/internal/config"
	httpapi "github.com/tbourn/persona-chat/internal/http"
	"github.com/tbourn/persona-chat/internal/observability"
	"github.com/tbourn/persona-chat/internal/repo"
	"github.com/tbourn/persona-chat/internal/services"
	"github.com/tbourn/persona-chat/internal/sysutil"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	cfg := config.MustLoad()
	logger := sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	version := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	var dbOpts []repo.OpenOption
	if cfg.OTEL.Enabled {
		dbOpts = append(dbOpts, repo.WithTracing())
	}
	if !sysutil.IsTruthy(os.Getenv("DB_DEBUG")) {
		dbOpts = append(dbOpts, repo.WithSilentLogger())
	}
	db, err := repo.OpenSQLite(cfg.DBPath, dbOpts...)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	llm := completion.New(completion.Options{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
		Referer:     cfg.Completion.Referer,
		Title:       cfg.Completion.Title,
		Timeout:     cfg.Completion.Timeout,
	})
	if cfg.Completion.APIKey == "" {
		logger.Warn().Msg("COMPLETION_API_KEY is empty; users must store their own key")
	}

	accounts := services.NewAccounts(db, cfg.SessionTTL)
	registry := services.NewSessionRegistry(
		services.NewSessionBuilder(repo.NewStore(db), llm, cfg.NotificationBuffer, logger),
	)

	docs.SwaggerInfo.BasePath = cfg.APIBasePath

	r := gin.New()
	httpapi.RegisterRoutes(r, accounts, registry, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go janitor(ctx, accounts, registry)

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("api_base_path", cfg.APIBasePath).
			Str("model", cfg.Completion.Model).
			Str("version", version).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	registry.CloseAll()
	if err := shutdownOTel(shCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown")
	}
	if err := repo.Close(db); err != nil {
		logger.Error().Err(err).Msg("db close")
	}
}

// janitor drops expired login sessions and their orchestrators until ctx ends.
func janitor(ctx context.Context, accounts *services.Accounts, registry *services.SessionRegistry) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			released := registry.ReleaseExpired(now)
			purged, err := accounts.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge expired sessions")
				continue
			}
			if released > 0 || purged > 0 {
				log.Debug().Int("released", released).Int64("purged", purged).Msg("expired sessions removed")
			}
		}
	}
}
