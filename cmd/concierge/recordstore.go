package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concierge/internal/api"
	"concierge/internal/config"
	"concierge/internal/database"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const storeHealthInterval = 30 * time.Second

func newRecordStoreCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "recordstore",
		Short: "Run the SQLite-backed record API the scheduler syncs with",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordStore(configPath())
		},
	}
}

func runRecordStore(configPath string) error {
	cfg, logger, closer, err := loadConfigAndLogger(configPath, "recordstore")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	if err := cfg.ValidateRecordStore(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	backups := database.NewBackupService(cfg.RecordStore.DatabasePath, cfg.RecordStore.Backup, &logger)
	if err := backups.Start(); err != nil {
		return err
	}
	defer backups.Stop()

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, db, &logger)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, db, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		go grpcServer.WatchStore(ctx, storeHealthInterval)
	}

	logger.Info().
		Int("http_port", cfg.API.HTTP.Port).
		Bool("grpc", cfg.API.GRPC.Enabled).
		Str("db_path", cfg.RecordStore.DatabasePath).
		Msg("record API started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("record API stopped")
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.RecordStore.DatabasePath, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.RecordStore.DatabasePath).Msg("init database")
		return nil, err
	}

	if _, err := db.SeedQueue(ctx, cfg.RecordStore.SeedQueue); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
