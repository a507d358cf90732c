// Command warden runs the moderation engine: transport receive loops, the
// per-chat dispatcher, scheduler recovery, the action executor, and the
// admin/audit HTTP surface.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/warden-bot/warden/internal/config"
	"github.com/warden-bot/warden/internal/dispatch"
	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/engine"
	httpapi "github.com/warden-bot/warden/internal/http"
	"github.com/warden-bot/warden/internal/observability"
	"github.com/warden-bot/warden/internal/repo"
	"github.com/warden-bot/warden/internal/sysutil"
	"github.com/warden-bot/warden/internal/transport"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	db := mustOpenStore(cfg)

	// The wire client plugs in here; until it does, moderation calls are
	// logged instead of sent.
	botapi := transport.NewDryRun(log.Logger)

	eng := engine.New(db, botapi, cfg, eventHandler())
	if err := eng.Start(ctx, botapi, nil); err != nil {
		log.Fatal().Err(err).Msg("engine start")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, eng, eng.Healthy, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("admin server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown")
	}
	if err := eng.Close(sctx); err != nil {
		log.Error().Err(err).Msg("engine shutdown")
	}
	log.Info().Msg("bye")
}

// setupLogging configures zerolog globals from config. Pretty output is for
// dev terminals only; production stays on JSON.
func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty || sysutil.IsTruthy(os.Getenv("LOG_CONSOLE")) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// mustOpenStore opens the configured durable store, attaches tracing, and
// runs migrations.
func mustOpenStore(cfg config.Config) *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DB.Driver {
	case "postgres":
		db, err = repo.OpenPostgres(cfg.DB.DSN)
	default:
		db, err = repo.OpenSQLite(sysutil.FirstNonEmpty(cfg.DB.Path, "warden.db"))
	}
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open store")
	}
	if err := repo.WithTracing(db); err != nil {
		log.Fatal().Err(err).Msg("store tracing")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate store")
	}
	return db
}

// eventHandler is the dispatch sink for normalized chat events. Moderation
// policy plugs in here; the default build just records traffic.
func eventHandler() dispatch.Handler {
	return func(_ context.Context, ev domain.Event) error {
		log.Debug().
			Str("event_id", ev.ID).
			Str("kind", string(ev.Kind)).
			Str("source", string(ev.Source)).
			Int64("chat_id", ev.ChatID).
			Uint64("seq", ev.Seq).
			Msg("event")
		return nil
	}
}
