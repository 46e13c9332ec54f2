// Package reconciler owns the waiting-client queue and the appointment calendar and
// keeps them consistent while clients are dragged from one onto the other.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"concierge/internal/domain"
	"concierge/internal/events"
	"concierge/internal/metrics"
	"concierge/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a point-in-time copy of everything the reconciler owns.
type State struct {
	Queue        []models.QueueEntry  `json:"queue"`
	Appointments []models.Appointment `json:"appointments"`
	Sync         models.SyncState     `json:"sync"`
}

type Option func(*Reconciler)

// WithClock overrides the time source used for change timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator overrides how appointment and drag handle ids are produced.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) { r.newID = fn }
}

// WithSessionID fixes the session id sent with every batch.
func WithSessionID(id string) Option {
	return func(r *Reconciler) { r.sessionID = id }
}

// Reconciler is the state container for one scheduling session.
// All list mutations and their log entries happen under mu.
type Reconciler struct {
	backend   domain.Backend
	publisher domain.EventPublisher
	logger    zerolog.Logger

	now       func() time.Time
	newID     func() string
	sessionID string

	mu           sync.Mutex
	queue        []models.QueueEntry
	appointments []models.Appointment
	pending      []models.PendingChange
	nextSeq      int64
	lastSavedAt  *time.Time
	drags        map[string]models.DragHandle
	surface      domain.DragSurface

	syncing atomic.Bool
}

type emitted struct {
	eventType string
	payload   any
}

func New(backend domain.Backend, publisher domain.EventPublisher, logger *zerolog.Logger, opts ...Option) *Reconciler {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "reconciler").Logger()
	}

	r := &Reconciler{
		backend:   backend,
		publisher: publisher,
		logger:    base,
		now:       time.Now,
		newID:     uuid.NewString,
		drags:     make(map[string]models.DragHandle),
		nextSeq:   1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sessionID == "" {
		r.sessionID = uuid.NewString()
	}
	return r
}

func (r *Reconciler) SessionID() string {
	return r.sessionID
}

// Bind attaches a drag surface: gestures started here are announced to it and
// drops it reports are completed here.
func (r *Reconciler) Bind(surface domain.DragSurface) {
	r.mu.Lock()
	r.surface = surface
	r.mu.Unlock()
	surface.OnDrop(r.handleDrop)
}

// Load replaces the lists with the backend's copy and replays any pending
// changes on top, so unsynced local edits survive a reload.
func (r *Reconciler) Load(ctx context.Context) error {
	queue, err := r.backend.FetchQueue(ctx)
	if err != nil {
		return fmt.Errorf("load client queue: %w", err)
	}

	appointments, err := r.backend.FetchAppointments(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrAppointmentsUnavailable) {
			return fmt.Errorf("load appointments: %w", err)
		}
		r.logger.Warn().Err(err).Msg("appointments endpoint unavailable, starting with an empty calendar")
		appointments = nil
	}

	r.mu.Lock()
	r.queue = r.uniqueQueue(queue)
	r.appointments = cloneAppointments(appointments)
	for _, change := range r.pending {
		if err := r.applyLocked(change); err != nil {
			r.logger.Error().Err(err).Str("change_id", change.ID).Msg("replay pending change")
		}
	}
	summary := events.StateEventPayload{
		QueueSize:        len(r.queue),
		AppointmentCount: len(r.appointments),
		Pending:          len(r.pending),
	}
	r.mu.Unlock()

	r.logger.Info().
		Int("queue_size", summary.QueueSize).
		Int("appointments", summary.AppointmentCount).
		Int("pending", summary.Pending).
		Msg("state loaded")
	r.emit(emitted{events.EventStateLoaded, summary})
	return nil
}

// Restore appends changes left over from an earlier session and applies them to
// the lists. Changes already in the log are ignored.
func (r *Reconciler) Restore(changes []models.PendingChange) error {
	if len(changes) == 0 {
		return nil
	}

	r.mu.Lock()
	known := make(map[string]struct{}, len(r.pending))
	for _, c := range r.pending {
		known[c.ID] = struct{}{}
	}

	restored := 0
	var errs []error
	for _, change := range changes {
		if _, ok := known[change.ID]; ok {
			continue
		}
		if err := r.applyLocked(change); err != nil {
			errs = append(errs, err)
			continue
		}
		r.appendLocked(change)
		known[change.ID] = struct{}{}
		restored++
	}
	pending := len(r.pending)
	r.mu.Unlock()

	metrics.SetPending(pending)
	r.logger.Info().Int("restored", restored).Int("pending", pending).Msg("pending changes restored")
	return errors.Join(errs...)
}

// BeginDrag starts a gesture for a queued client. Only entry.ID is consulted;
// the title and duration come from the queued copy. Returns nil when the entry
// is no longer queued. Neither list is modified.
func (r *Reconciler) BeginDrag(entry models.QueueEntry) *models.DragHandle {
	r.mu.Lock()
	idx := r.queueIndex(entry.ID)
	if idx < 0 {
		r.mu.Unlock()
		r.logger.Debug().Int64("queue_entry_id", entry.ID).Msg("begin drag for entry not in queue")
		return nil
	}

	queued := r.queue[idx]
	handle := models.DragHandle{
		ID:              r.newID(),
		QueueEntryID:    queued.ID,
		DisplayTitle:    queued.Name,
		DurationMinutes: queued.EstimatedDurationMinutes,
	}
	r.drags[handle.ID] = handle
	surface := r.surface
	r.mu.Unlock()

	if surface != nil {
		if err := surface.BeginDrag(handle); err != nil {
			r.logger.Warn().Err(err).Str("handle_id", handle.ID).Msg("drag surface rejected gesture")
		}
	}
	return &handle
}

// ActiveDrag returns the gesture registered under id, if it is still in flight.
func (r *Reconciler) ActiveDrag(id string) (models.DragHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.drags[id]
	return h, ok
}

// CancelDrag discards a gesture. Nothing else changes.
func (r *Reconciler) CancelDrag(handle *models.DragHandle) {
	if handle == nil {
		return
	}

	r.mu.Lock()
	_, ok := r.drags[handle.ID]
	delete(r.drags, handle.ID)
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().Str("handle_id", handle.ID).Msg("cancel for inactive gesture")
		return
	}
	r.endDrag(handle.ID)
	metrics.IncDrop("cancelled")
}

// RejectDrop closes a gesture whose drop could not be read and returns reason.
// ErrGestureNotActive is returned instead when the gesture is already closed.
func (r *Reconciler) RejectDrop(handleID string, reason error) error {
	r.mu.Lock()
	_, ok := r.drags[handleID]
	delete(r.drags, handleID)
	r.mu.Unlock()

	if !ok {
		return models.ErrGestureNotActive
	}
	r.endDrag(handleID)
	metrics.IncDrop("rejected")
	r.logger.Debug().Err(reason).Str("handle_id", handleID).Msg("drop rejected")
	return reason
}

// CompleteDrop schedules the dragged client at dropAt. The appointment is added,
// the queue entry removed and both changes logged in one critical section.
//
// If the entry has already left the queue the drop still succeeds: an existing
// appointment made from it is returned unchanged, otherwise a new one is created
// without a queue removal.
func (r *Reconciler) CompleteDrop(handle *models.DragHandle, dropAt time.Time) (models.Appointment, error) {
	if handle == nil {
		return models.Appointment{}, models.ErrGestureNotActive
	}

	r.mu.Lock()
	active, ok := r.drags[handle.ID]
	if !ok {
		r.mu.Unlock()
		return models.Appointment{}, models.ErrGestureNotActive
	}
	delete(r.drags, handle.ID)

	if err := validateDrop(active, dropAt); err != nil {
		r.mu.Unlock()
		r.endDrag(active.ID)
		metrics.IncDrop("rejected")
		return models.Appointment{}, err
	}

	now := r.now()
	idx := r.queueIndex(active.QueueEntryID)
	if idx < 0 {
		r.logger.Warn().
			Err(models.NewNotFoundError(models.KindQueueEntry, active.QueueEntryID)).
			Str("handle_id", active.ID).
			Msg("queue entry already removed at drop")

		if existing, found := r.appointmentFromEntry(active.QueueEntryID); found {
			r.mu.Unlock()
			r.endDrag(active.ID)
			metrics.IncDrop("duplicate")
			return existing, nil
		}
	}

	source := active.QueueEntryID
	appt := models.Appointment{
		ID:                 r.newID(),
		Title:              active.DisplayTitle,
		Start:              dropAt,
		End:                dropAt.Add(time.Duration(active.DurationMinutes) * time.Minute),
		SourceQueueEntryID: &source,
	}
	if err := appt.Validate(); err != nil {
		r.mu.Unlock()
		r.endDrag(active.ID)
		metrics.IncDrop("rejected")
		return models.Appointment{}, err
	}

	var changes []models.PendingChange
	if idx >= 0 {
		removal, err := models.NewPendingChange(models.ChangeRemoveFromQueue, models.QueueRef{ID: source}, now)
		if err != nil {
			r.mu.Unlock()
			r.endDrag(active.ID)
			return models.Appointment{}, err
		}
		changes = append(changes, removal)
	}
	addition, err := models.NewPendingChange(models.ChangeAddAppointment, appt, now)
	if err != nil {
		r.mu.Unlock()
		r.endDrag(active.ID)
		return models.Appointment{}, err
	}
	changes = append(changes, addition)

	payload := events.AppointmentEventPayload{Appointment: appt.Clone()}
	if idx >= 0 {
		r.queue = append(r.queue[:idx:idx], r.queue[idx+1:]...)
		removed := source
		payload.RemovedQueueEntryID = &removed
	}
	r.appointments = append(r.appointments, appt)
	for _, c := range changes {
		r.appendLocked(c)
	}
	pending := len(r.pending)
	r.mu.Unlock()

	r.endDrag(active.ID)
	metrics.IncDrop("scheduled")
	metrics.SetPending(pending)
	r.logger.Info().
		Str("appointment_id", appt.ID).
		Int64("queue_entry_id", source).
		Time("start", appt.Start).
		Time("end", appt.End).
		Msg("client scheduled")
	r.emit(emitted{events.EventAppointmentScheduled, payload})
	return appt.Clone(), nil
}

// AddToQueue appends a client to the queue.
func (r *Reconciler) AddToQueue(entry models.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.queueIndex(entry.ID) >= 0 {
		r.mu.Unlock()
		return models.NewValidationError("id", fmt.Sprintf("%d is already queued", entry.ID))
	}
	change, err := models.NewPendingChange(models.ChangeAddToQueue, entry, r.now())
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.queue = append(r.queue, entry)
	r.appendLocked(change)
	pending := len(r.pending)
	r.mu.Unlock()

	metrics.SetPending(pending)
	r.emit(emitted{events.EventQueueEntryAdded, events.QueueEventPayload{Entry: entry}})
	return nil
}

// RemoveFromQueue drops a client from the queue outside of a drag gesture.
func (r *Reconciler) RemoveFromQueue(id int64) error {
	r.mu.Lock()
	idx := r.queueIndex(id)
	if idx < 0 {
		r.mu.Unlock()
		return models.NewNotFoundError(models.KindQueueEntry, id)
	}
	change, err := models.NewPendingChange(models.ChangeRemoveFromQueue, models.QueueRef{ID: id}, r.now())
	if err != nil {
		r.mu.Unlock()
		return err
	}
	entry := r.queue[idx]
	r.queue = append(r.queue[:idx:idx], r.queue[idx+1:]...)
	r.appendLocked(change)
	pending := len(r.pending)
	r.mu.Unlock()

	metrics.SetPending(pending)
	r.emit(emitted{events.EventQueueEntryRemoved, events.QueueEventPayload{Entry: entry}})
	return nil
}

// AddAppointment records an appointment created directly on the calendar.
// An empty id is filled in.
func (r *Reconciler) AddAppointment(appt models.Appointment) (models.Appointment, error) {
	if appt.ID == "" {
		appt.ID = r.newID()
	}
	if err := appt.Validate(); err != nil {
		return models.Appointment{}, err
	}
	appt = appt.Clone()

	r.mu.Lock()
	if r.appointmentIndex(appt.ID) >= 0 {
		r.mu.Unlock()
		return models.Appointment{}, models.NewValidationError("id", fmt.Sprintf("appointment %s already exists", appt.ID))
	}
	change, err := models.NewPendingChange(models.ChangeAddAppointment, appt, r.now())
	if err != nil {
		r.mu.Unlock()
		return models.Appointment{}, err
	}
	r.appointments = append(r.appointments, appt)
	r.appendLocked(change)
	pending := len(r.pending)
	r.mu.Unlock()

	metrics.SetPending(pending)
	r.emit(emitted{events.EventAppointmentAdded, events.AppointmentEventPayload{Appointment: appt.Clone()}})
	return appt.Clone(), nil
}

// UpdateAppointment applies a move or resize. The queue origin is kept when the
// update does not carry one.
func (r *Reconciler) UpdateAppointment(appt models.Appointment) error {
	if err := appt.Validate(); err != nil {
		return err
	}
	appt = appt.Clone()

	r.mu.Lock()
	idx := r.appointmentIndex(appt.ID)
	if idx < 0 {
		r.mu.Unlock()
		return models.NewNotFoundError(models.KindAppointment, appt.ID)
	}
	if appt.SourceQueueEntryID == nil {
		appt.SourceQueueEntryID = r.appointments[idx].Clone().SourceQueueEntryID
	}
	change, err := models.NewPendingChange(models.ChangeUpdateAppointment, appt, r.now())
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.appointments[idx] = appt
	r.appendLocked(change)
	pending := len(r.pending)
	r.mu.Unlock()

	metrics.SetPending(pending)
	r.emit(emitted{events.EventAppointmentUpdated, events.AppointmentEventPayload{Appointment: appt.Clone()}})
	return nil
}

func (r *Reconciler) DeleteAppointment(id string) error {
	r.mu.Lock()
	idx := r.appointmentIndex(id)
	if idx < 0 {
		r.mu.Unlock()
		return models.NewNotFoundError(models.KindAppointment, id)
	}
	change, err := models.NewPendingChange(models.ChangeDeleteAppointment, models.AppointmentRef{ID: id}, r.now())
	if err != nil {
		r.mu.Unlock()
		return err
	}
	removed := r.appointments[idx]
	r.appointments = append(r.appointments[:idx:idx], r.appointments[idx+1:]...)
	r.appendLocked(change)
	pending := len(r.pending)
	r.mu.Unlock()

	metrics.SetPending(pending)
	r.emit(emitted{events.EventAppointmentDeleted, events.AppointmentEventPayload{Appointment: removed}})
	return nil
}

// Flush sends the whole pending log as one batch. On success exactly the sent
// changes are dropped from the log; on failure the log is left as it was and a
// *models.SyncError is returned. An empty log makes no request. A second call
// while one is in flight returns models.ErrFlushInProgress.
func (r *Reconciler) Flush(ctx context.Context) error {
	if !r.syncing.CompareAndSwap(false, true) {
		return models.ErrFlushInProgress
	}
	defer r.syncing.Store(false)

	r.mu.Lock()
	batch := append([]models.PendingChange(nil), r.pending...)
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	req := models.BatchUpdateRequest{
		SessionID: r.sessionID,
		Changes:   batch,
		Timestamp: r.now(),
	}
	resp, err := r.backend.ApplyBatch(ctx, req)
	if err != nil {
		metrics.ObserveFlush("error", time.Since(start))
		syncErr := &models.SyncError{Pending: len(batch), Err: err}
		r.logger.Warn().Err(err).Int("pending", len(batch)).Msg("flush failed, changes kept for retry")
		r.emit(emitted{events.EventSyncFailed, events.SyncEventPayload{Pending: len(batch), Error: err.Error()}})
		return syncErr
	}

	savedAt := r.now()
	r.mu.Lock()
	// Only Flush removes from the log and it is not reentrant, so the sent
	// changes are still the head of the log.
	r.pending = append([]models.PendingChange(nil), r.pending[len(batch):]...)
	r.lastSavedAt = &savedAt
	remaining := len(r.pending)
	r.mu.Unlock()

	metrics.ObserveFlush("ok", time.Since(start))
	metrics.SetPending(remaining)

	logEvent := r.logger.Info().Int("sent", len(batch)).Int("remaining", remaining)
	if resp != nil {
		logEvent = logEvent.Int("applied", resp.Applied).Int("skipped", resp.Skipped)
	}
	logEvent.Msg("pending changes flushed")

	r.emit(emitted{events.EventSyncSucceeded, events.SyncEventPayload{
		Sent:        len(batch),
		Pending:     remaining,
		LastSavedAt: &savedAt,
	}})
	return nil
}

func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return State{
		Queue:        append([]models.QueueEntry{}, r.queue...),
		Appointments: cloneAppointments(r.appointments),
		Sync:         r.syncStateLocked(),
	}
}

func (r *Reconciler) SyncState() models.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncStateLocked()
}

// PendingChanges returns a copy of the unsynced log in order.
func (r *Reconciler) PendingChanges() []models.PendingChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PendingChange{}, r.pending...)
}

func (r *Reconciler) handleDrop(event models.DropEvent) (models.Appointment, error) {
	active, ok := r.ActiveDrag(event.HandleID)
	if !ok {
		return models.Appointment{}, models.ErrGestureNotActive
	}
	if event.OriginQueueEntryID != 0 && event.OriginQueueEntryID != active.QueueEntryID {
		r.CancelDrag(&active)
		return models.Appointment{}, models.NewValidationError("origin_queue_entry_id", "does not match the dragged entry")
	}
	return r.CompleteDrop(&active, event.DropTimestamp)
}

func (r *Reconciler) syncStateLocked() models.SyncState {
	state := models.SyncState{
		IsSyncing:      r.syncing.Load(),
		PendingChanges: append([]models.PendingChange{}, r.pending...),
	}
	if r.lastSavedAt != nil {
		saved := *r.lastSavedAt
		state.LastSavedAt = &saved
	}
	return state
}

func (r *Reconciler) appendLocked(change models.PendingChange) {
	change.Seq = r.nextSeq
	r.nextSeq++
	r.pending = append(r.pending, change)
}

func (r *Reconciler) endDrag(handleID string) {
	r.mu.Lock()
	surface := r.surface
	r.mu.Unlock()
	if surface != nil {
		surface.EndDrag(handleID)
	}
}

func (r *Reconciler) emit(evts ...emitted) {
	if r.publisher == nil {
		return
	}
	for _, e := range evts {
		if err := r.publisher.PublishJSON(e.eventType, e.payload); err != nil {
			r.logger.Error().Err(err).Str("event", e.eventType).Msg("publish event")
		}
	}
}

func (r *Reconciler) uniqueQueue(entries []models.QueueEntry) []models.QueueEntry {
	seen := make(map[int64]struct{}, len(entries))
	out := make([]models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			r.logger.Warn().Int64("queue_entry_id", e.ID).Msg("duplicate queue entry from backend dropped")
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (r *Reconciler) queueIndex(id int64) int {
	for i := range r.queue {
		if r.queue[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) appointmentIndex(id string) int {
	for i := range r.appointments {
		if r.appointments[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) appointmentFromEntry(queueEntryID int64) (models.Appointment, bool) {
	for _, a := range r.appointments {
		if a.FromQueueEntry(queueEntryID) {
			return a.Clone(), true
		}
	}
	return models.Appointment{}, false
}

func validateDrop(handle models.DragHandle, dropAt time.Time) error {
	if dropAt.IsZero() {
		return models.NewValidationError("drop_timestamp", "is required")
	}
	if handle.DurationMinutes <= 0 {
		return models.NewValidationError("duration_minutes", "must be positive")
	}
	if handle.DurationMinutes > models.MaxDurationMinutes {
		return models.NewValidationError("duration_minutes", fmt.Sprintf("must not exceed %d", models.MaxDurationMinutes))
	}
	return nil
}

func cloneAppointments(in []models.Appointment) []models.Appointment {
	out := make([]models.Appointment, 0, len(in))
	for _, a := range in {
		out = append(out, a.Clone())
	}
	return out
}
