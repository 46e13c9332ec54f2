package dragdrop_test

import (
	"context"

	"concierge/internal/models"
)

type staticBackend struct {
	queue []models.QueueEntry
}

func (b *staticBackend) FetchQueue(context.Context) ([]models.QueueEntry, error) {
	return b.queue, nil
}

func (b *staticBackend) FetchAppointments(context.Context) ([]models.Appointment, error) {
	return nil, nil
}

func (b *staticBackend) ApplyBatch(_ context.Context, req models.BatchUpdateRequest) (*models.BatchUpdateResponse, error) {
	return &models.BatchUpdateResponse{Applied: len(req.Changes)}, nil
}
