package models

import "time"

// Appointment is a scheduled calendar event.
type Appointment struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	SourceQueueEntryID *int64    `json:"source_queue_entry_id,omitempty"`
}

func (a Appointment) Validate() error {
	if a.ID == "" {
		return NewValidationError("id", "is required")
	}
	if a.Start.IsZero() {
		return NewValidationError("start", "is required")
	}
	if !a.End.After(a.Start) {
		return NewValidationError("end", "must be after start")
	}
	return nil
}

// FromQueueEntry reports whether the appointment was created from the given queue entry.
func (a Appointment) FromQueueEntry(id int64) bool {
	return a.SourceQueueEntryID != nil && *a.SourceQueueEntryID == id
}

// Clone returns a copy that does not share the source pointer.
func (a Appointment) Clone() Appointment {
	if a.SourceQueueEntryID != nil {
		id := *a.SourceQueueEntryID
		a.SourceQueueEntryID = &id
	}
	return a
}

// AppointmentRef identifies an appointment in delete payloads.
type AppointmentRef struct {
	ID string `json:"id"`
}
