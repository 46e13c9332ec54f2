package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ChangeType string

const (
	ChangeAddToQueue        ChangeType = "add_to_queue"
	ChangeRemoveFromQueue   ChangeType = "remove_from_queue"
	ChangeAddAppointment    ChangeType = "add_appointment"
	ChangeUpdateAppointment ChangeType = "update_appointment"
	ChangeDeleteAppointment ChangeType = "delete_appointment"
)

func (t ChangeType) Valid() bool {
	switch t {
	case ChangeAddToQueue, ChangeRemoveFromQueue, ChangeAddAppointment, ChangeUpdateAppointment, ChangeDeleteAppointment:
		return true
	default:
		return false
	}
}

// PendingChange is an unsaved mutation waiting for the backend to confirm it.
// ID is stable across retries and sessions; Seq orders changes within the log.
type PendingChange struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Type      ChangeType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPendingChange encodes payload and stamps the change with a fresh id.
func NewPendingChange(changeType ChangeType, payload any, at time.Time) (PendingChange, error) {
	if !changeType.Valid() {
		return PendingChange{}, fmt.Errorf("unknown change type: %s", changeType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return PendingChange{}, fmt.Errorf("encode %s payload: %w", changeType, err)
	}
	return PendingChange{
		ID:        uuid.NewString(),
		Type:      changeType,
		Payload:   raw,
		Timestamp: at,
	}, nil
}

func (c PendingChange) QueueEntry() (QueueEntry, error) {
	var e QueueEntry
	err := c.decode(&e)
	return e, err
}

func (c PendingChange) QueueRef() (QueueRef, error) {
	var ref QueueRef
	err := c.decode(&ref)
	return ref, err
}

func (c PendingChange) Appointment() (Appointment, error) {
	var a Appointment
	err := c.decode(&a)
	return a, err
}

func (c PendingChange) AppointmentRef() (AppointmentRef, error) {
	var ref AppointmentRef
	err := c.decode(&ref)
	return ref, err
}

func (c PendingChange) decode(out any) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("change %s: empty payload", c.ID)
	}
	if err := json.Unmarshal(c.Payload, out); err != nil {
		return fmt.Errorf("change %s: decode %s payload: %w", c.ID, c.Type, err)
	}
	return nil
}
