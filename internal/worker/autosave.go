package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"concierge/internal/domain"
	"concierge/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// AutosaveConfig controls the periodic flush.
type AutosaveConfig struct {
	Interval           time.Duration
	AlertAfterFailures int
	CheckpointKey      string
	Retry              RetryPolicy
}

// Autosaver flushes the pending log on a schedule and once more on shutdown.
// While flushes fail the log is checkpointed to the pending store so a restart
// does not lose it.
type Autosaver struct {
	flusher domain.Flusher
	store   domain.PendingStore
	alerter domain.SyncAlerter
	cfg     AutosaveConfig
	cron    *cron.Cron
	logger  zerolog.Logger

	mu           sync.Mutex
	failures     int
	alerted      bool
	checkpointed bool
}

// NewAutosaver builds a worker with sane defaults. store and alerter are optional.
func NewAutosaver(flusher domain.Flusher, store domain.PendingStore, alerter domain.SyncAlerter, cfg AutosaveConfig, logger *zerolog.Logger) *Autosaver {
	if cfg.Interval <= 0 {
		cfg.Interval = models.DefaultFlushInterval
	}
	if cfg.AlertAfterFailures <= 0 {
		cfg.AlertAfterFailures = models.DefaultAlertAfterFailures
	}
	if cfg.CheckpointKey == "" {
		cfg.CheckpointKey = "default"
	}
	cfg.Retry = cfg.Retry.withDefaults()

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "autosave").Logger()
	}

	return &Autosaver{
		flusher: flusher,
		store:   store,
		alerter: alerter,
		cfg:     cfg,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{l}))),
		logger:  l,
	}
}

// Start schedules the periodic flush. Intervals under a second run every second.
func (a *Autosaver) Start() error {
	spec := fmt.Sprintf("@every %s", a.cfg.Interval)
	if _, err := a.cron.AddFunc(spec, func() {
		_ = a.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule autosave %q: %w", spec, err)
	}
	a.cron.Start()
	a.logger.Info().Dur("interval", a.cfg.Interval).Msg("autosave started")
	return nil
}

// RunOnce performs one scheduled flush. A flush already in flight is not a failure.
func (a *Autosaver) RunOnce(ctx context.Context) error {
	err := a.flusher.Flush(ctx)
	switch {
	case err == nil:
		a.onSuccess(ctx)
		return nil
	case errors.Is(err, models.ErrFlushInProgress):
		a.logger.Debug().Msg("flush already in flight, skipping tick")
		return nil
	default:
		a.onFailure(ctx, err)
		return err
	}
}

// Failures returns the number of consecutive failed flushes.
func (a *Autosaver) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

// Shutdown stops the schedule, waits for a running tick and makes a final flush
// with backoff. If the final flush fails the log is checkpointed.
func (a *Autosaver) Shutdown(ctx context.Context) error {
	stopped := a.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		a.logger.Warn().Msg("autosave tick still running at shutdown")
	}

	var err error
	for attempt := 1; attempt <= a.cfg.Retry.MaxRetries; attempt++ {
		if err = a.flusher.Flush(ctx); err == nil {
			a.onSuccess(ctx)
			a.logger.Info().Int("attempt", attempt).Msg("teardown flush complete")
			return nil
		}
		if attempt == a.cfg.Retry.MaxRetries {
			break
		}

		delay := a.cfg.Retry.NextDelay(attempt)
		a.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("teardown flush failed")
		if !sleepCtx(ctx, delay) {
			err = errors.Join(err, ctx.Err())
			break
		}
	}

	// ctx may already be done; the checkpoint gets its own deadline.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.onFailure(saveCtx, err)
	return fmt.Errorf("teardown flush: %w", err)
}

// Restore hands a checkpointed log from an earlier run to the flusher.
func (a *Autosaver) Restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	changes, err := a.store.LoadPending(ctx, a.cfg.CheckpointKey)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if len(changes) == 0 {
		return nil
	}

	a.mu.Lock()
	a.checkpointed = true
	a.mu.Unlock()

	a.logger.Info().Int("changes", len(changes)).Msg("restoring checkpointed changes")
	return a.flusher.Restore(changes)
}

func (a *Autosaver) onSuccess(ctx context.Context) {
	a.mu.Lock()
	recovered := a.failures > 0
	a.failures = 0
	a.alerted = false
	checkpointed := a.checkpointed
	a.mu.Unlock()

	if recovered {
		a.logger.Info().Msg("flush recovered")
	}
	if checkpointed {
		a.checkpoint(ctx)
	}
}

func (a *Autosaver) onFailure(ctx context.Context, cause error) {
	a.mu.Lock()
	a.failures++
	failures := a.failures
	alert := failures >= a.cfg.AlertAfterFailures && !a.alerted
	if alert {
		a.alerted = true
	}
	a.mu.Unlock()

	pending := len(a.flusher.PendingChanges())
	a.logger.Error().Err(cause).Int("failures", failures).Int("pending", pending).Msg("autosave flush failed")
	a.checkpoint(ctx)

	if alert && a.alerter != nil {
		if err := a.alerter.SyncFailing(ctx, failures, pending, cause); err != nil {
			a.logger.Error().Err(err).Msg("send sync alert")
		}
	}
}

// checkpoint mirrors the current log into the store; an empty log clears it.
func (a *Autosaver) checkpoint(ctx context.Context) {
	if a.store == nil {
		return
	}
	changes := a.flusher.PendingChanges()
	if err := a.store.SavePending(ctx, a.cfg.CheckpointKey, changes); err != nil {
		a.logger.Error().Err(err).Int("pending", len(changes)).Msg("checkpoint pending changes")
		return
	}
	a.mu.Lock()
	a.checkpointed = len(changes) > 0
	a.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
