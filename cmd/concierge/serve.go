package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concierge/internal/backend"
	"concierge/internal/config"
	"concierge/internal/domain"
	"concierge/internal/dragdrop"
	"concierge/internal/events"
	"concierge/internal/reconciler"
	"concierge/internal/repository"
	"concierge/internal/service"
	"concierge/internal/web"
	"concierge/internal/websocket"
	"concierge/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, its web surface and the autosave worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath())
		},
	}
}

func runServe(configPath string) error {
	cfg, logger, closer, err := loadConfigAndLogger(configPath, "serve")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.APIExtra, cfg.Backend.Timeout, &logger)
	if redisClient != nil {
		client.UseRedisCache(redisClient, cfg.Redis.CacheTTL)
	}

	bus := events.NewEventBus()
	hub := websocket.NewHub(&logger)
	hub.Attach(bus)

	rec := reconciler.New(client, bus, &logger)
	relay := dragdrop.NewRelay(&logger)
	rec.Bind(relay)

	if err := rec.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("initial load")
		return err
	}

	autosaver := worker.NewAutosaver(
		rec,
		initPendingStore(cfg, redisClient, &logger),
		initAlerter(cfg, rec.SessionID(), &logger),
		worker.AutosaveConfig{
			Interval:           cfg.Sync.FlushInterval,
			AlertAfterFailures: cfg.Sync.AlertAfterFailures,
			CheckpointKey:      cfg.Sync.CheckpointKey,
			Retry:              worker.RetryPolicy{MaxRetries: cfg.Sync.TeardownRetries},
		},
		&logger,
	)
	if err := autosaver.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("restore checkpointed changes")
	}
	if err := autosaver.Start(); err != nil {
		return err
	}

	srv := web.NewServer(cfg.Web, rec, relay, hub, &logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("web server stopped")
			stop()
		}
	}()

	logger.Info().
		Str("session_id", rec.SessionID()).
		Int("web_port", cfg.Web.Port).
		Dur("flush_interval", cfg.Sync.FlushInterval).
		Msg("scheduler started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(httpCtx)

	// Gestures are closed now, so the teardown flush sees the final log.
	teardownCtx, cancelTeardown := context.WithTimeout(context.Background(), cfg.Sync.TeardownTimeout)
	defer cancelTeardown()
	if err := autosaver.Shutdown(teardownCtx); err != nil {
		logger.Error().Err(err).Int("pending", len(rec.PendingChanges())).Msg("changes left unsynced")
		return err
	}

	logger.Info().Msg("scheduler stopped")
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initPendingStore checkpoints to Redis when it is reachable and falls back to
// process memory otherwise.
func initPendingStore(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.PendingStore {
	memory := repository.NewMemoryPendingStore(cfg.Sync.PendingTTL)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisPendingStore(redisClient, cfg.Sync.PendingTTL)
	return repository.NewFailoverPendingStore(primary, memory, logger)
}

func initAlerter(cfg *config.Config, session string, logger *zerolog.Logger) domain.SyncAlerter {
	if !cfg.Telegram.Enabled() {
		return nil
	}

	bot, err := service.NewTelegramBot(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
		return nil
	}
	bot.Debug = cfg.Telegram.Debug

	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.AlertChatIDs)).Msg("telegram alerts enabled")
	return service.NewTelegramAlerter(bot, cfg.Telegram.AlertChatIDs, session, logger)
}
