package domain

import (
	"context"

	"concierge/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Backend is the remote system of record for the queue and the calendar.
type Backend interface {
	FetchQueue(ctx context.Context) ([]models.QueueEntry, error)
	FetchAppointments(ctx context.Context) ([]models.Appointment, error)
	ApplyBatch(ctx context.Context, req models.BatchUpdateRequest) (*models.BatchUpdateResponse, error)
}

// PendingStore checkpoints an unsynced change log so it survives a restart.
type PendingStore interface {
	SavePending(ctx context.Context, key string, changes []models.PendingChange) error
	LoadPending(ctx context.Context, key string) ([]models.PendingChange, error)
	ClearPending(ctx context.Context, key string) error
}

// RecordStore is the storage behind the reference record API.
type RecordStore interface {
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)
	ListAppointments(ctx context.Context) ([]models.Appointment, error)
	ApplyBatch(ctx context.Context, req models.BatchUpdateRequest) (*models.BatchUpdateResponse, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// DropHandler converts a drop reported by a drag surface into an appointment.
type DropHandler func(event models.DropEvent) (models.Appointment, error)

// DragSurface is the calendar widget seen from the scheduler: it is told when a
// gesture starts and ends, and reports drops through the registered handler.
type DragSurface interface {
	BeginDrag(handle models.DragHandle) error
	EndDrag(handleID string)
	OnDrop(handler DropHandler)
}

// SyncAlerter is notified when flushes keep failing.
type SyncAlerter interface {
	SyncFailing(ctx context.Context, failures, pending int, cause error) error
}

// Flusher is the part of the scheduler the autosave worker drives.
type Flusher interface {
	Flush(ctx context.Context) error
	PendingChanges() []models.PendingChange
	Restore(changes []models.PendingChange) error
}

// TelegramSender is the slice of the bot API used for alerts.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
