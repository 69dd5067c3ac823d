// Package app wires together every component of the bot: config,
// logging, the Postgres store, the optional Redis-backed conversation
// store, the booking engine, the chat transport, and the ops HTTP
// server, then runs the update loop until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	tele "gopkg.in/telebot.v4"

	"github.com/devco/tripdesk/internal/audit"
	"github.com/devco/tripdesk/internal/config"
	"github.com/devco/tripdesk/internal/httpserver"
	"github.com/devco/tripdesk/internal/platform"
	"github.com/devco/tripdesk/internal/telemetry"
	"github.com/devco/tripdesk/pkg/booking"
	"github.com/devco/tripdesk/pkg/convo"
	"github.com/devco/tripdesk/pkg/dispatch"
	"github.com/devco/tripdesk/pkg/flows/browse"
	"github.com/devco/tripdesk/pkg/flows/registration"
	"github.com/devco/tripdesk/pkg/flows/wizard"
	"github.com/devco/tripdesk/pkg/notify"
	"github.com/devco/tripdesk/pkg/sweeper"
	"github.com/devco/tripdesk/pkg/store"
	"github.com/devco/tripdesk/pkg/transport"

	"log/slog"
)

// Outbound send rate, bounded well under Telegram's ~30 msg/sec global
// flood limit so the dispatcher and sweeper never trip it during a burst.
const (
	notifyRatePerSecond = 20
	notifyBurst         = 10
)

// App holds every wired dependency the bot's update handlers need.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	engine     *booking.Engine
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	runtime    *convo.Runtime
	bot        *tele.Bot
}

// Run builds every dependency and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting tripdesk", "metrics_addr", cfg.MetricsListenAddr())

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(prometheus.NewGoCollector())
	metricsReg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range telemetry.All() {
		metricsReg.MustRegister(c)
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.PGSSLMode)
	if err != nil {
		return fmt.Errorf("app: connecting to postgres: %w", err)
	}
	defer pool.Close()

	if cfg.AllowDBReset {
		if err := store.ResetSchema(ctx, pool, true); err != nil {
			return fmt.Errorf("app: resetting schema: %w", err)
		}
		logger.Warn("schema reset performed (ALLOW_DB_RESET=true)")
	}
	if err := store.Bootstrap(ctx, pool); err != nil {
		return fmt.Errorf("app: bootstrapping schema: %w", err)
	}
	if err := audit.Bootstrap(ctx, pool); err != nil {
		return fmt.Errorf("app: bootstrapping audit log: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("app: connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("using shared redis conversation store")
	} else {
		logger.Info("no REDIS_URL set, using in-process conversation store (single worker only)")
	}

	st := store.NewPool(pool)

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	bot, err := transport.NewBot(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("app: creating telegram bot: %w", err)
	}
	tg := transport.New(bot)

	dedup := notify.NewErrorDedup(rdb, logger)
	notifier := notify.NewNotifier(tg, logger, dedup, notifyRatePerSecond, notifyBurst, telemetry.NotifyCounters{})

	engine := booking.New(st, auditWriter, logger)
	dispatcher := dispatch.New(st, notifier, auditWriter, cfg.Admins, logger)
	sweep := sweeper.New(st, engine, notifier, cfg.Admins, logger)

	sweepInterval, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		return fmt.Errorf("app: parsing SWEEP_INTERVAL: %w", err)
	}

	var convoStore convo.Store
	if rdb != nil {
		convoStore = convo.NewRedisStore(rdb)
	} else {
		convoStore = convo.NewMemStore()
	}
	runtime := convo.New(convoStore, logger)
	runtime.Register(registration.New(st))
	runtime.Register(wizard.New(st))
	runtime.Register(browse.New(st, engine, dispatcher, notifier))

	a := &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		engine:     engine,
		dispatcher: dispatcher,
		notifier:   notifier,
		runtime:    runtime,
		bot:        bot,
	}
	a.registerHandlers()

	opsSrv := httpserver.NewServer(logger, pool, rdb, metricsReg)
	httpSrv := &http.Server{Addr: cfg.MetricsListenAddr(), Handler: opsSrv}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops http server stopped unexpectedly", "error", err)
		}
	}()

	go sweeper.RunLoop(ctx, sweep, sweepInterval)

	go bot.Start()
	logger.Info("bot started")

	<-ctx.Done()
	logger.Info("shutting down")

	bot.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops http server shutdown error", "error", err)
	}

	return nil
}
