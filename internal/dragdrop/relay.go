// Package dragdrop adapts the browser calendar widget, which reports gestures over
// HTTP, to the scheduler's drag surface.
package dragdrop

import (
	"errors"
	"sort"
	"sync"

	"concierge/internal/domain"
	"concierge/internal/models"

	"github.com/rs/zerolog"
)

var ErrNoDropHandler = errors.New("no drop handler registered")

// Relay tracks which drag handles the widget may still drop and forwards drops
// to the registered handler.
type Relay struct {
	mu      sync.RWMutex
	armed   map[string]models.DragHandle
	handler domain.DropHandler
	logger  zerolog.Logger
}

func NewRelay(logger *zerolog.Logger) *Relay {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "drag_relay").Logger()
	}
	return &Relay{
		armed:  make(map[string]models.DragHandle),
		logger: l,
	}
}

func (r *Relay) BeginDrag(handle models.DragHandle) error {
	if handle.ID == "" {
		return models.NewValidationError("handle_id", "is required")
	}
	r.mu.Lock()
	r.armed[handle.ID] = handle
	r.mu.Unlock()
	r.logger.Debug().Str("handle_id", handle.ID).Int64("queue_entry_id", handle.QueueEntryID).Msg("drag armed")
	return nil
}

func (r *Relay) EndDrag(handleID string) {
	r.mu.Lock()
	delete(r.armed, handleID)
	r.mu.Unlock()
}

func (r *Relay) OnDrop(handler domain.DropHandler) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// Drop forwards a drop reported by the widget. Fields the widget left empty are
// taken from the armed handle.
func (r *Relay) Drop(event models.DropEvent) (models.Appointment, error) {
	r.mu.RLock()
	handler := r.handler
	handle, ok := r.armed[event.HandleID]
	r.mu.RUnlock()

	if handler == nil {
		return models.Appointment{}, ErrNoDropHandler
	}
	if !ok {
		return models.Appointment{}, models.ErrGestureNotActive
	}

	if event.DraggedTitle == "" {
		event.DraggedTitle = handle.DisplayTitle
	}
	if event.DurationMinutes == 0 {
		event.DurationMinutes = handle.DurationMinutes
	}
	if event.OriginQueueEntryID == 0 {
		event.OriginQueueEntryID = handle.QueueEntryID
	}

	// The handler ends the gesture through EndDrag, so no lock is held here.
	return handler(event)
}

// Armed reports whether a handle can still be dropped.
func (r *Relay) Armed(handleID string) (models.DragHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.armed[handleID]
	return h, ok
}

// Active lists armed handles ordered by id.
func (r *Relay) Active() []models.DragHandle {
	r.mu.RLock()
	out := make([]models.DragHandle, 0, len(r.armed))
	for _, h := range r.armed {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
