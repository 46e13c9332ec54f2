// Package database stores the reference record API's queue, calendar and the
// ids of change batches it has already applied.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"concierge/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixed width so that text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type DB struct {
	*sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewDB opens (creating if needed) the SQLite file at path and migrates it.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "database").Logger()
	}

	// Создаем директорию для БД, если её нет
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps batches serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(sqlDB, l); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	l.Info().Str("path", path).Msg("database ready")
	return &DB{DB: sqlDB, logger: l, now: time.Now}, nil
}

func runMigrations(db *sql.DB, logger zerolog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// SeedQueue fills an untouched store with the configured queue. A store that
// has entries or has applied any change is left alone.
func (db *DB) SeedQueue(ctx context.Context, entries []models.QueueEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var used int
	if err := tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM client_queue) + (SELECT COUNT(*) FROM applied_changes)`,
	).Scan(&used); err != nil {
		return 0, fmt.Errorf("check seed state: %w", err)
	}
	if used > 0 {
		return 0, nil
	}

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("seed entry %d: %w", e.ID, err)
		}
		if err := upsertQueueEntry(ctx, tx, e, db.now()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	db.logger.Info().Int("entries", len(entries)).Msg("client queue seeded")
	return len(entries), nil
}

func (db *DB) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, estimated_duration_minutes FROM client_queue ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list client queue: %w", err)
	}
	defer rows.Close()

	entries := []models.QueueEntry{}
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.EstimatedDurationMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) ListAppointments(ctx context.Context) ([]models.Appointment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, title, start_at, end_at, source_queue_entry_id FROM appointments ORDER BY start_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	appts := []models.Appointment{}
	for rows.Next() {
		var (
			a          models.Appointment
			start, end string
			source     sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Title, &start, &end, &source); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		if a.Start, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("appointment %s start: %w", a.ID, err)
		}
		if a.End, err = time.Parse(timeLayout, end); err != nil {
			return nil, fmt.Errorf("appointment %s end: %w", a.ID, err)
		}
		if source.Valid {
			id := source.Int64
			a.SourceQueueEntryID = &id
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

// ApplyBatch applies the changes in order inside one transaction. Changes whose
// id was applied before are skipped, so a batch resent after a lost response
// is harmless. Any invalid change rolls back the whole batch.
func (db *DB) ApplyBatch(ctx context.Context, req models.BatchUpdateRequest) (*models.BatchUpdateResponse, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	resp := &models.BatchUpdateResponse{}
	now := db.now()
	for _, change := range req.Changes {
		if change.ID == "" {
			return nil, models.NewValidationError("changes.id", "is required")
		}

		var seen int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM applied_changes WHERE id = ?`, change.ID,
		).Scan(&seen); err != nil {
			return nil, fmt.Errorf("check change %s: %w", change.ID, err)
		}
		if seen > 0 {
			resp.Skipped++
			continue
		}

		if err := applyChange(ctx, tx, change, now); err != nil {
			return nil, err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO applied_changes (id, session_id, change_type, seq, changed_at, applied_at) VALUES (?, ?, ?, ?, ?, ?)`,
			change.ID, req.SessionID, string(change.Type), change.Seq,
			change.Timestamp.UTC().Format(timeLayout), now.UTC().Format(timeLayout),
		); err != nil {
			return nil, fmt.Errorf("record change %s: %w", change.ID, err)
		}
		resp.Applied++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	db.logger.Info().
		Str("session_id", req.SessionID).
		Int("applied", resp.Applied).
		Int("skipped", resp.Skipped).
		Msg("batch applied")
	return resp, nil
}

// HasApplied reports whether a change id has been applied.
func (db *DB) HasApplied(ctx context.Context, changeID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applied_changes WHERE id = ?`, changeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check change %s: %w", changeID, err)
	}
	return n > 0, nil
}

func applyChange(ctx context.Context, tx *sql.Tx, change models.PendingChange, now time.Time) error {
	switch change.Type {
	case models.ChangeAddToQueue:
		entry, err := change.QueueEntry()
		if err != nil {
			return models.NewValidationError("payload", err.Error())
		}
		if err := entry.Validate(); err != nil {
			return err
		}
		return upsertQueueEntry(ctx, tx, entry, now)

	case models.ChangeRemoveFromQueue:
		ref, err := change.QueueRef()
		if err != nil {
			return models.NewValidationError("payload", err.Error())
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM client_queue WHERE id = ?`, ref.ID); err != nil {
			return fmt.Errorf("remove queue entry %d: %w", ref.ID, err)
		}
		return nil

	case models.ChangeAddAppointment, models.ChangeUpdateAppointment:
		appt, err := change.Appointment()
		if err != nil {
			return models.NewValidationError("payload", err.Error())
		}
		if err := appt.Validate(); err != nil {
			return err
		}
		return upsertAppointment(ctx, tx, appt, now)

	case models.ChangeDeleteAppointment:
		ref, err := change.AppointmentRef()
		if err != nil {
			return models.NewValidationError("payload", err.Error())
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, ref.ID); err != nil {
			return fmt.Errorf("delete appointment %s: %w", ref.ID, err)
		}
		return nil

	default:
		return models.NewValidationError("type", fmt.Sprintf("unknown change type %q", change.Type))
	}
}

func upsertQueueEntry(ctx context.Context, tx *sql.Tx, e models.QueueEntry, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO client_queue (id, name, estimated_duration_minutes, position, created_at)
        VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM client_queue), ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            estimated_duration_minutes = excluded.estimated_duration_minutes`,
		e.ID, e.Name, e.EstimatedDurationMinutes, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert queue entry %d: %w", e.ID, err)
	}
	return nil
}

func upsertAppointment(ctx context.Context, tx *sql.Tx, a models.Appointment, now time.Time) error {
	var source sql.NullInt64
	if a.SourceQueueEntryID != nil {
		source = sql.NullInt64{Int64: *a.SourceQueueEntryID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO appointments (id, title, start_at, end_at, source_queue_entry_id, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            start_at = excluded.start_at,
            end_at = excluded.end_at,
            source_queue_entry_id = COALESCE(excluded.source_queue_entry_id, appointments.source_queue_entry_id),
            updated_at = excluded.updated_at`,
		a.ID, a.Title, a.Start.UTC().Format(timeLayout), a.End.UTC().Format(timeLayout), source, now.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert appointment %s: %w", a.ID, err)
	}
	return nil
}

type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatal().Msgf(format, v...)
}
