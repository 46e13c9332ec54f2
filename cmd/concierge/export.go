package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"concierge/internal/backend"
	"concierge/internal/export"
	"concierge/internal/models"

	"github.com/spf13/cobra"
)

func newExportCmd(configPath func() string) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the backend's queue and calendar to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfigAndLogger(configPath(), "export")
			if err != nil {
				return err
			}
			if closer != nil {
				defer (func() { _ = closer.Close() })()
			}
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.Exports.Path
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.Backend.Timeout)
			defer cancel()

			client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.APIExtra, cfg.Backend.Timeout, &logger)
			queue, err := client.FetchQueue(ctx)
			if err != nil {
				return err
			}
			appointments, err := client.FetchAppointments(ctx)
			if err != nil && !errors.Is(err, models.ErrAppointmentsUnavailable) {
				return err
			}

			path, err := export.WriteSchedule(outDir, queue, appointments, time.Now())
			if err != nil {
				return err
			}
			logger.Info().
				Str("path", path).
				Int("queue_size", len(queue)).
				Int("appointments", len(appointments)).
				Msg("schedule exported")
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default exports.path)")
	return cmd
}
