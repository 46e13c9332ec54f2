package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"concierge/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDBAt(t *testing.T, path string) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	return newTestDBAt(t, filepath.Join(t.TempDir(), "records.db"))
}

func change(t *testing.T, typ models.ChangeType, payload any, seq int64) models.PendingChange {
	t.Helper()
	c, err := models.NewPendingChange(typ, payload, time.Date(2025, 7, 12, 13, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	c.Seq = seq
	return c
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "records.db")
	db := newTestDBAt(t, dbPath)

	assert.FileExists(t, dbPath)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestNewDB_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "records.db")
	db, err := NewDB(dbPath, nil)
	require.NoError(t, err)
	_, err = db.SeedQueue(context.Background(), []models.QueueEntry{{ID: 1, Name: "Ann", EstimatedDurationMinutes: 15}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	again := newTestDBAt(t, dbPath)
	queue, err := again.ListQueue(context.Background())
	require.NoError(t, err)
	assert.Len(t, queue, 1)
}

func TestSeedQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seed := []models.QueueEntry{
		{ID: 5, Name: "Charlie Green", EstimatedDurationMinutes: 60},
		{ID: 2, Name: "Bo Diaz", EstimatedDurationMinutes: 45},
	}

	n, err := db.SeedQueue(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	queue, err := db.ListQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed, queue, "queue keeps insertion order")

	n, err = db.SeedQueue(ctx, seed)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding twice does nothing")

	_, err = setupTestDB(t).SeedQueue(ctx, []models.QueueEntry{{ID: 1, Name: "Bad"}})
	assert.True(t, models.IsValidation(err))
}

func TestApplyBatch_DropScenario(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := db.SeedQueue(ctx, []models.QueueEntry{{ID: 5, Name: "Charlie Green", EstimatedDurationMinutes: 60}})
	require.NoError(t, err)

	source := int64(5)
	start := time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC)
	appt := models.Appointment{ID: "a-1", Title: "Charlie Green", Start: start, End: start.Add(time.Hour), SourceQueueEntryID: &source}
	req := models.BatchUpdateRequest{
		SessionID: "s-1",
		Changes: []models.PendingChange{
			change(t, models.ChangeRemoveFromQueue, models.QueueRef{ID: 5}, 1),
			change(t, models.ChangeAddAppointment, appt, 2),
		},
		Timestamp: start,
	}

	resp, err := db.ApplyBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, &models.BatchUpdateResponse{Applied: 2}, resp)

	queue, err := db.ListQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	appts, err := db.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "Charlie Green", appts[0].Title)
	assert.True(t, appts[0].Start.Equal(start))
	assert.True(t, appts[0].End.Equal(start.Add(time.Hour)))
	require.NotNil(t, appts[0].SourceQueueEntryID)
	assert.Equal(t, int64(5), *appts[0].SourceQueueEntryID)

	// The same batch posted again after a lost response changes nothing.
	resp, err = db.ApplyBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, &models.BatchUpdateResponse{Skipped: 2}, resp)

	again, err := db.ListAppointments(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	applied, err := db.HasApplied(ctx, req.Changes[0].ID)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestApplyBatch_AllChangeTypes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, 7, 12, 9, 0, 0, 0, time.UTC)
	appt := models.Appointment{ID: "a-1", Title: "Call", Start: start, End: start.Add(30 * time.Minute)}
	moved := appt
	moved.Start = start.Add(time.Hour)
	moved.End = start.Add(2 * time.Hour)
	other := models.Appointment{ID: "a-2", Title: "Later", Start: start.Add(3 * time.Hour), End: start.Add(4 * time.Hour)}

	_, err := db.ApplyBatch(ctx, models.BatchUpdateRequest{
		SessionID: "s-1",
		Changes: []models.PendingChange{
			change(t, models.ChangeAddToQueue, models.QueueEntry{ID: 7, Name: "Eve Moss", EstimatedDurationMinutes: 25}, 1),
			change(t, models.ChangeAddToQueue, models.QueueEntry{ID: 8, Name: "Finn Ode", EstimatedDurationMinutes: 10}, 2),
			change(t, models.ChangeAddAppointment, appt, 3),
			change(t, models.ChangeAddAppointment, other, 4),
			change(t, models.ChangeUpdateAppointment, moved, 5),
			change(t, models.ChangeDeleteAppointment, models.AppointmentRef{ID: "a-2"}, 6),
			change(t, models.ChangeRemoveFromQueue, models.QueueRef{ID: 7}, 7),
		},
	})
	require.NoError(t, err)

	queue, err := db.ListQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.QueueEntry{{ID: 8, Name: "Finn Ode", EstimatedDurationMinutes: 10}}, queue)

	appts, err := db.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.True(t, appts[0].Start.Equal(moved.Start))
}

func TestApplyBatch_InvalidChangeRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	good := change(t, models.ChangeAddToQueue, models.QueueEntry{ID: 1, Name: "Ann", EstimatedDurationMinutes: 15}, 1)
	bad := change(t, models.ChangeAddAppointment, models.Appointment{ID: "x", Title: "Backwards",
		Start: time.Date(2025, 7, 12, 10, 0, 0, 0, time.UTC), End: time.Date(2025, 7, 12, 9, 0, 0, 0, time.UTC)}, 2)

	_, err := db.ApplyBatch(ctx, models.BatchUpdateRequest{Changes: []models.PendingChange{good, bad}})
	assert.True(t, models.IsValidation(err))

	queue, err := db.ListQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	applied, err := db.HasApplied(ctx, good.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = db.ApplyBatch(ctx, models.BatchUpdateRequest{Changes: []models.PendingChange{{Type: models.ChangeAddToQueue}}})
	assert.True(t, models.IsValidation(err), "missing change id")

	_, err = db.ApplyBatch(ctx, models.BatchUpdateRequest{Changes: []models.PendingChange{{ID: "z", Type: "rename"}}})
	assert.True(t, models.IsValidation(err), "unknown type")
}

func TestApplyBatch_UpdateKeepsSource(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	source := int64(5)
	start := time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC)
	appt := models.Appointment{ID: "a-1", Title: "Charlie Green", Start: start, End: start.Add(time.Hour), SourceQueueEntryID: &source}
	resized := appt
	resized.SourceQueueEntryID = nil
	resized.End = start.Add(90 * time.Minute)

	_, err := db.ApplyBatch(ctx, models.BatchUpdateRequest{Changes: []models.PendingChange{
		change(t, models.ChangeAddAppointment, appt, 1),
		change(t, models.ChangeUpdateAppointment, resized, 2),
	}})
	require.NoError(t, err)

	appts, err := db.ListAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	require.NotNil(t, appts[0].SourceQueueEntryID)
	assert.Equal(t, int64(5), *appts[0].SourceQueueEntryID)
	assert.True(t, appts[0].End.Equal(resized.End))
}
