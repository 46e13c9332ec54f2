package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"concierge/internal/domain"
	"concierge/internal/events"
	"concierge/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) FetchQueue(ctx context.Context) ([]models.QueueEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueueEntry), args.Error(1)
}

func (m *mockBackend) FetchAppointments(ctx context.Context) ([]models.Appointment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Appointment), args.Error(1)
}

func (m *mockBackend) ApplyBatch(ctx context.Context, req models.BatchUpdateRequest) (*models.BatchUpdateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BatchUpdateResponse), args.Error(1)
}

var fixedNow = time.Date(2025, 7, 12, 9, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newLoaded(t *testing.T, bus *events.EventBus, queue ...models.QueueEntry) (*Reconciler, *mockBackend) {
	t.Helper()
	backend := new(mockBackend)
	backend.On("FetchQueue", mock.Anything).Return(queue, nil).Once()
	backend.On("FetchAppointments", mock.Anything).Return(nil, models.ErrAppointmentsUnavailable).Once()

	logger := zerolog.Nop()
	var publisher domain.EventPublisher
	if bus != nil {
		publisher = bus
	}
	r := New(backend, publisher, &logger,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
		WithSessionID("session-1"),
	)
	require.NoError(t, r.Load(context.Background()))
	return r, backend
}

func charlie() models.QueueEntry {
	return models.QueueEntry{ID: 5, Name: "Charlie Green", EstimatedDurationMinutes: 60}
}

func TestCompleteDrop_CharlieGreen(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	handle := r.BeginDrag(charlie())
	require.NotNil(t, handle)
	assert.Equal(t, "Charlie Green", handle.DisplayTitle)
	assert.Equal(t, 60, handle.DurationMinutes)

	dropAt := time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC)
	appt, err := r.CompleteDrop(handle, dropAt)
	require.NoError(t, err)

	assert.Equal(t, "Charlie Green", appt.Title)
	assert.Equal(t, dropAt, appt.Start)
	assert.Equal(t, time.Date(2025, 7, 12, 15, 0, 0, 0, time.UTC), appt.End)
	require.NotNil(t, appt.SourceQueueEntryID)
	assert.Equal(t, int64(5), *appt.SourceQueueEntryID)

	state := r.Snapshot()
	assert.Empty(t, state.Queue)
	require.Len(t, state.Appointments, 1)
	assert.Equal(t, appt, state.Appointments[0])
}

func TestCompleteDrop_EveryEntryMovesExactlyOnce(t *testing.T) {
	queue := []models.QueueEntry{
		{ID: 1, Name: "Ann Lee", EstimatedDurationMinutes: 30},
		{ID: 2, Name: "Bo Diaz", EstimatedDurationMinutes: 45},
		charlie(),
	}
	r, _ := newLoaded(t, nil, queue...)

	dropAt := time.Date(2025, 7, 12, 10, 0, 0, 0, time.UTC)
	for i, e := range queue {
		handle := r.BeginDrag(e)
		require.NotNil(t, handle)
		_, err := r.CompleteDrop(handle, dropAt.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)

		state := r.Snapshot()
		for _, q := range state.Queue {
			assert.NotEqual(t, e.ID, q.ID)
		}
		sourced := 0
		for _, a := range state.Appointments {
			if a.FromQueueEntry(e.ID) {
				sourced++
			}
		}
		assert.Equal(t, 1, sourced, "entry %d", e.ID)
	}
}

func TestCompleteDrop_LogsRemovalThenAddition(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	handle := r.BeginDrag(charlie())
	appt, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	pending := r.PendingChanges()
	require.Len(t, pending, 2)
	assert.Equal(t, models.ChangeRemoveFromQueue, pending[0].Type)
	assert.Equal(t, models.ChangeAddAppointment, pending[1].Type)
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	ref, err := pending[0].QueueRef()
	require.NoError(t, err)
	assert.Equal(t, int64(5), ref.ID)

	logged, err := pending[1].Appointment()
	require.NoError(t, err)
	assert.Equal(t, appt.ID, logged.ID)
}

func TestCompleteDrop_EntryAlreadyRemoved(t *testing.T) {
	t.Run("RemovedProgrammatically", func(t *testing.T) {
		r, _ := newLoaded(t, nil, charlie())

		handle := r.BeginDrag(charlie())
		require.NoError(t, r.RemoveFromQueue(5))

		appt, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, appt.FromQueueEntry(5))

		state := r.Snapshot()
		assert.Len(t, state.Appointments, 1)

		pending := r.PendingChanges()
		require.Len(t, pending, 2)
		assert.Equal(t, models.ChangeRemoveFromQueue, pending[0].Type)
		assert.Equal(t, models.ChangeAddAppointment, pending[1].Type)
	})

	t.Run("DuplicateDrop", func(t *testing.T) {
		r, _ := newLoaded(t, nil, charlie())

		first := r.BeginDrag(charlie())
		second := r.BeginDrag(charlie())
		require.NotNil(t, first)
		require.NotNil(t, second)

		dropAt := time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC)
		appt, err := r.CompleteDrop(first, dropAt)
		require.NoError(t, err)
		before := r.PendingChanges()

		again, err := r.CompleteDrop(second, dropAt.Add(time.Hour))
		assert.NoError(t, err)
		assert.Equal(t, appt, again)
		assert.Len(t, r.Snapshot().Appointments, 1)
		assert.Equal(t, before, r.PendingChanges())
	})
}

func TestCompleteDrop_Validation(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())
	before := r.Snapshot()

	handle := r.BeginDrag(charlie())
	_, err := r.CompleteDrop(handle, time.Time{})

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "drop_timestamp", verr.Field)
	assert.Equal(t, before, r.Snapshot())

	// The gesture went back to idle and cannot be dropped again.
	_, err = r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, models.ErrGestureNotActive)

	_, err = r.CompleteDrop(nil, time.Now())
	assert.ErrorIs(t, err, models.ErrGestureNotActive)
}

func TestCompleteDrop_NonPositiveDuration(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	// Entries with bad durations can only arrive from the backend.
	r.mu.Lock()
	r.queue[0].EstimatedDurationMinutes = 0
	r.mu.Unlock()

	handle := r.BeginDrag(charlie())
	_, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	assert.True(t, models.IsValidation(err))
	assert.Len(t, r.Snapshot().Queue, 1)
	assert.Empty(t, r.PendingChanges())
}

func TestCompleteDrop_DurationTooLong(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	err := r.AddToQueue(models.QueueEntry{ID: 9, Name: "Marathon", EstimatedDurationMinutes: 153722868})
	assert.True(t, models.IsValidation(err))

	// A duration this large would wrap the end time before the start.
	r.mu.Lock()
	r.queue[0].EstimatedDurationMinutes = 153722868
	r.mu.Unlock()

	handle := r.BeginDrag(charlie())
	_, err = r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duration_minutes", verr.Field)

	assert.Len(t, r.Snapshot().Queue, 1)
	assert.Empty(t, r.Snapshot().Appointments)
	assert.Empty(t, r.PendingChanges())
	_, active := r.ActiveDrag(handle.ID)
	assert.False(t, active)
}

func TestRejectDrop(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())
	before := r.Snapshot()

	handle := r.BeginDrag(charlie())
	reason := models.NewValidationError("drop_timestamp", "unreadable")
	err := r.RejectDrop(handle.ID, reason)
	assert.ErrorIs(t, err, reason)

	_, active := r.ActiveDrag(handle.ID)
	assert.False(t, active)
	assert.Equal(t, before, r.Snapshot())

	assert.ErrorIs(t, r.RejectDrop(handle.ID, reason), models.ErrGestureNotActive)
}

func TestBeginDrag_EntryNotQueued(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	assert.Nil(t, r.BeginDrag(models.QueueEntry{ID: 42, Name: "Ghost", EstimatedDurationMinutes: 15}))
	assert.Empty(t, r.PendingChanges())
}

func TestCancelDrag_IsNoOp(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())
	before := r.Snapshot()

	handle := r.BeginDrag(charlie())
	r.CancelDrag(handle)

	assert.Equal(t, before, r.Snapshot())
	_, active := r.ActiveDrag(handle.ID)
	assert.False(t, active)

	_, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, models.ErrGestureNotActive)

	// Cancelling twice or cancelling nothing is harmless.
	r.CancelDrag(handle)
	r.CancelDrag(nil)
	assert.Equal(t, before, r.Snapshot())
}

func TestQueueMutations(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	t.Run("AddToQueue", func(t *testing.T) {
		err := r.AddToQueue(models.QueueEntry{ID: 6, Name: "Dana Fox", EstimatedDurationMinutes: 20})
		require.NoError(t, err)
		assert.Len(t, r.Snapshot().Queue, 2)

		pending := r.PendingChanges()
		require.Len(t, pending, 1)
		assert.Equal(t, models.ChangeAddToQueue, pending[0].Type)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		err := r.AddToQueue(models.QueueEntry{ID: 5, Name: "Other", EstimatedDurationMinutes: 20})
		assert.True(t, models.IsValidation(err))
		assert.Len(t, r.PendingChanges(), 1)
	})

	t.Run("InvalidEntry", func(t *testing.T) {
		err := r.AddToQueue(models.QueueEntry{ID: 7, Name: "No Duration"})
		assert.True(t, models.IsValidation(err))
	})

	t.Run("RemoveFromQueue", func(t *testing.T) {
		require.NoError(t, r.RemoveFromQueue(6))
		assert.Len(t, r.Snapshot().Queue, 1)
		assert.Len(t, r.PendingChanges(), 2)
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		err := r.RemoveFromQueue(6)
		assert.True(t, models.IsNotFound(err))
		assert.Len(t, r.PendingChanges(), 2)
	})
}

func TestAppointmentMutations(t *testing.T) {
	r, _ := newLoaded(t, nil)
	start := time.Date(2025, 7, 12, 11, 0, 0, 0, time.UTC)

	added, err := r.AddAppointment(models.Appointment{Title: "Walk-in", Start: start, End: start.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	_, err = r.AddAppointment(models.Appointment{Title: "Backwards", Start: start, End: start.Add(-time.Minute)})
	assert.True(t, models.IsValidation(err))

	_, err = r.AddAppointment(added)
	assert.True(t, models.IsValidation(err), "duplicate id")

	moved := added
	moved.Start = start.Add(time.Hour)
	moved.End = start.Add(2 * time.Hour)
	require.NoError(t, r.UpdateAppointment(moved))
	assert.Equal(t, moved.End, r.Snapshot().Appointments[0].End)

	err = r.UpdateAppointment(models.Appointment{ID: "missing", Start: start, End: start.Add(time.Minute)})
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, r.DeleteAppointment(added.ID))
	assert.Empty(t, r.Snapshot().Appointments)
	assert.True(t, models.IsNotFound(r.DeleteAppointment(added.ID)))

	types := []models.ChangeType{}
	for _, c := range r.PendingChanges() {
		types = append(types, c.Type)
	}
	assert.Equal(t, []models.ChangeType{
		models.ChangeAddAppointment,
		models.ChangeUpdateAppointment,
		models.ChangeDeleteAppointment,
	}, types)
}

func TestUpdateAppointment_KeepsQueueOrigin(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())
	handle := r.BeginDrag(charlie())
	appt, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	resized := appt
	resized.SourceQueueEntryID = nil
	resized.End = appt.End.Add(15 * time.Minute)
	require.NoError(t, r.UpdateAppointment(resized))

	got := r.Snapshot().Appointments[0]
	assert.True(t, got.FromQueueEntry(5))
	assert.Equal(t, resized.End, got.End)
}

func TestFlush(t *testing.T) {
	t.Run("EmptyLogMakesNoRequest", func(t *testing.T) {
		r, backend := newLoaded(t, nil, charlie())

		require.NoError(t, r.Flush(context.Background()))
		backend.AssertNotCalled(t, "ApplyBatch", mock.Anything, mock.Anything)
		assert.Nil(t, r.SyncState().LastSavedAt)
	})

	t.Run("SuccessClearsLog", func(t *testing.T) {
		r, backend := newLoaded(t, nil, charlie())
		handle := r.BeginDrag(charlie())
		_, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		sent := r.PendingChanges()

		backend.On("ApplyBatch", mock.Anything, mock.MatchedBy(func(req models.BatchUpdateRequest) bool {
			return req.SessionID == "session-1" && assert.ObjectsAreEqual(sent, req.Changes)
		})).Return(&models.BatchUpdateResponse{Applied: 2}, nil).Once()

		require.NoError(t, r.Flush(context.Background()))
		backend.AssertExpectations(t)

		state := r.SyncState()
		assert.Empty(t, state.PendingChanges)
		require.NotNil(t, state.LastSavedAt)
		assert.Equal(t, fixedNow, *state.LastSavedAt)
		assert.False(t, state.IsSyncing)
	})

	t.Run("FailureKeepsLog", func(t *testing.T) {
		r, backend := newLoaded(t, nil, charlie())
		require.NoError(t, r.RemoveFromQueue(5))
		before := r.PendingChanges()

		cause := errors.New("connection refused")
		backend.On("ApplyBatch", mock.Anything, mock.Anything).Return(nil, cause).Once()

		err := r.Flush(context.Background())
		var syncErr *models.SyncError
		require.ErrorAs(t, err, &syncErr)
		assert.Equal(t, 1, syncErr.Pending)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, before, r.PendingChanges())
		assert.Nil(t, r.SyncState().LastSavedAt)

		// A retry sends the same changes again, not duplicates.
		backend.On("ApplyBatch", mock.Anything, mock.MatchedBy(func(req models.BatchUpdateRequest) bool {
			return assert.ObjectsAreEqual(before, req.Changes)
		})).Return(&models.BatchUpdateResponse{Applied: 1}, nil).Once()
		require.NoError(t, r.Flush(context.Background()))
		assert.Empty(t, r.PendingChanges())
	})

	t.Run("ChangesDuringFlightAreKept", func(t *testing.T) {
		r, backend := newLoaded(t, nil, charlie())
		require.NoError(t, r.RemoveFromQueue(5))

		var nested error
		backend.On("ApplyBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			assert.True(t, r.SyncState().IsSyncing)
			nested = r.Flush(context.Background())
			require.NoError(t, r.AddToQueue(models.QueueEntry{ID: 8, Name: "Late Arrival", EstimatedDurationMinutes: 15}))
		}).Return(&models.BatchUpdateResponse{Applied: 1}, nil).Once()

		require.NoError(t, r.Flush(context.Background()))
		assert.ErrorIs(t, nested, models.ErrFlushInProgress)

		pending := r.PendingChanges()
		require.Len(t, pending, 1)
		assert.Equal(t, models.ChangeAddToQueue, pending[0].Type)
		backend.AssertNumberOfCalls(t, "ApplyBatch", 1)
	})
}

func TestLoad(t *testing.T) {
	t.Run("DuplicateQueueIDsDropped", func(t *testing.T) {
		r, _ := newLoaded(t, nil, charlie(), models.QueueEntry{ID: 5, Name: "Charlie Again", EstimatedDurationMinutes: 30})
		queue := r.Snapshot().Queue
		require.Len(t, queue, 1)
		assert.Equal(t, "Charlie Green", queue[0].Name)
	})

	t.Run("QueueFailure", func(t *testing.T) {
		backend := new(mockBackend)
		backend.On("FetchQueue", mock.Anything).Return(nil, errors.New("boom")).Once()
		r := New(backend, nil, nil)
		assert.Error(t, r.Load(context.Background()))
	})

	t.Run("AppointmentsFailure", func(t *testing.T) {
		backend := new(mockBackend)
		backend.On("FetchQueue", mock.Anything).Return([]models.QueueEntry{charlie()}, nil).Once()
		backend.On("FetchAppointments", mock.Anything).Return(nil, errors.New("boom")).Once()
		r := New(backend, nil, nil)
		assert.Error(t, r.Load(context.Background()))
	})

	t.Run("ReloadReplaysPending", func(t *testing.T) {
		r, backend := newLoaded(t, nil, charlie())
		require.NoError(t, r.RemoveFromQueue(5))

		start := time.Date(2025, 7, 12, 8, 0, 0, 0, time.UTC)
		existing := models.Appointment{ID: "remote-1", Title: "Existing", Start: start, End: start.Add(time.Hour)}
		backend.On("FetchQueue", mock.Anything).Return([]models.QueueEntry{charlie()}, nil).Once()
		backend.On("FetchAppointments", mock.Anything).Return([]models.Appointment{existing}, nil).Once()

		require.NoError(t, r.Load(context.Background()))
		state := r.Snapshot()
		assert.Empty(t, state.Queue, "unsynced removal must survive reload")
		assert.Equal(t, []models.Appointment{existing}, state.Appointments)
		assert.Len(t, state.Sync.PendingChanges, 1)
	})
}

func TestRestore(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())

	start := time.Date(2025, 7, 12, 16, 0, 0, 0, time.UTC)
	removal, err := models.NewPendingChange(models.ChangeRemoveFromQueue, models.QueueRef{ID: 5}, fixedNow)
	require.NoError(t, err)
	addition, err := models.NewPendingChange(models.ChangeAddAppointment,
		models.Appointment{ID: "old-1", Title: "Charlie Green", Start: start, End: start.Add(time.Hour)}, fixedNow)
	require.NoError(t, err)
	broken := models.PendingChange{ID: "broken", Type: models.ChangeAddToQueue}

	err = r.Restore([]models.PendingChange{removal, addition, broken})
	assert.Error(t, err, "undecodable change is reported")

	state := r.Snapshot()
	assert.Empty(t, state.Queue)
	require.Len(t, state.Appointments, 1)
	assert.Equal(t, "old-1", state.Appointments[0].ID)

	pending := r.PendingChanges()
	require.Len(t, pending, 2)
	assert.Equal(t, removal.ID, pending[0].ID)
	assert.Equal(t, addition.ID, pending[1].ID)
	assert.Less(t, pending[0].Seq, pending[1].Seq)

	// Restoring the same changes twice does not duplicate them.
	require.NoError(t, r.Restore([]models.PendingChange{removal, addition}))
	assert.Len(t, r.PendingChanges(), 2)
	require.NoError(t, r.Restore(nil))
}

func TestDispatch(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie())
	start := time.Date(2025, 7, 12, 11, 0, 0, 0, time.UTC)

	cmds := []Command{
		AddToQueueCmd{Entry: models.QueueEntry{ID: 9, Name: "Eve Moss", EstimatedDurationMinutes: 25}},
		RemoveFromQueueCmd{ID: 5},
		AddAppointmentCmd{Appointment: models.Appointment{ID: "a-1", Title: "Call", Start: start, End: start.Add(time.Hour)}},
		UpdateAppointmentCmd{Appointment: models.Appointment{ID: "a-1", Title: "Call", Start: start, End: start.Add(2 * time.Hour)}},
		DeleteAppointmentCmd{ID: "a-1"},
	}
	for _, cmd := range cmds {
		require.NoError(t, r.Dispatch(cmd), "%T", cmd)
	}

	pending := r.PendingChanges()
	require.Len(t, pending, len(cmds))
	for i, cmd := range cmds {
		assert.Equal(t, cmd.ChangeType(), pending[i].Type)
	}

	assert.Error(t, r.Dispatch(nil))
}

func TestEventsPublished(t *testing.T) {
	bus := events.NewEventBus()
	var got []string
	bus.SubscribeAll(func(e *events.Event) error {
		got = append(got, e.Type)
		return nil
	})

	r, backend := newLoaded(t, bus, charlie())
	handle := r.BeginDrag(charlie())
	_, err := r.CompleteDrop(handle, time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	backend.On("ApplyBatch", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()
	_ = r.Flush(context.Background())

	assert.Equal(t, []string{
		events.EventStateLoaded,
		events.EventAppointmentScheduled,
		events.EventSyncFailed,
	}, got)
}

type fakeSurface struct {
	begun  []models.DragHandle
	ended  []string
	onDrop domain.DropHandler
}

func (f *fakeSurface) BeginDrag(handle models.DragHandle) error {
	f.begun = append(f.begun, handle)
	return nil
}

func (f *fakeSurface) EndDrag(handleID string) {
	f.ended = append(f.ended, handleID)
}

func (f *fakeSurface) OnDrop(handler domain.DropHandler) {
	f.onDrop = handler
}

func TestBind(t *testing.T) {
	r, _ := newLoaded(t, nil, charlie(), models.QueueEntry{ID: 6, Name: "Dana Fox", EstimatedDurationMinutes: 20})
	surface := &fakeSurface{}
	r.Bind(surface)
	require.NotNil(t, surface.onDrop)

	t.Run("DropThroughSurface", func(t *testing.T) {
		handle := r.BeginDrag(charlie())
		require.Len(t, surface.begun, 1)

		appt, err := surface.onDrop(models.DropEvent{
			HandleID:           handle.ID,
			DraggedTitle:       "Charlie Green",
			DurationMinutes:    60,
			DropTimestamp:      time.Date(2025, 7, 12, 14, 0, 0, 0, time.UTC),
			OriginQueueEntryID: 5,
		})
		require.NoError(t, err)
		assert.Equal(t, "Charlie Green", appt.Title)
		assert.Contains(t, surface.ended, handle.ID)
	})

	t.Run("MismatchedOrigin", func(t *testing.T) {
		handle := r.BeginDrag(models.QueueEntry{ID: 6})
		require.NotNil(t, handle)

		_, err := surface.onDrop(models.DropEvent{
			HandleID:           handle.ID,
			DropTimestamp:      time.Date(2025, 7, 12, 15, 0, 0, 0, time.UTC),
			OriginQueueEntryID: 99,
		})
		assert.True(t, models.IsValidation(err))
		_, active := r.ActiveDrag(handle.ID)
		assert.False(t, active)
		assert.Len(t, r.Snapshot().Queue, 1)
	})

	t.Run("UnknownHandle", func(t *testing.T) {
		_, err := surface.onDrop(models.DropEvent{HandleID: "nope", DropTimestamp: time.Now()})
		assert.ErrorIs(t, err, models.ErrGestureNotActive)
	})
}
