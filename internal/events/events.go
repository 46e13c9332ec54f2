package events

import (
	"encoding/json"
	"sync"
	"time"

	"concierge/internal/models"
)

const (
	EventQueueEntryAdded      = "queue_entry_added"
	EventQueueEntryRemoved    = "queue_entry_removed"
	EventAppointmentScheduled = "appointment_scheduled"
	EventAppointmentAdded     = "appointment_added"
	EventAppointmentUpdated   = "appointment_updated"
	EventAppointmentDeleted   = "appointment_deleted"
	EventStateLoaded          = "state_loaded"
	EventSyncSucceeded        = "sync_succeeded"
	EventSyncFailed           = "sync_failed"
)

// QueueEventPayload describes a queue mutation.
type QueueEventPayload struct {
	Entry models.QueueEntry `json:"entry"`
}

// AppointmentEventPayload describes an appointment mutation. RemovedQueueEntryID is
// set when the appointment was scheduled from the queue in the same update.
type AppointmentEventPayload struct {
	Appointment         models.Appointment `json:"appointment"`
	RemovedQueueEntryID *int64             `json:"removed_queue_entry_id,omitempty"`
}

// SyncEventPayload reports the outcome of a flush.
type SyncEventPayload struct {
	Sent        int        `json:"sent"`
	Pending     int        `json:"pending"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StateEventPayload summarizes a (re)load from the backend.
type StateEventPayload struct {
	QueueSize        int `json:"queue_size"`
	AppointmentCount int `json:"appointment_count"`
	Pending          int `json:"pending"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
