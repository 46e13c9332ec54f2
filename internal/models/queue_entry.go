package models

import (
	"fmt"
	"time"
)

// QueueEntry is a client waiting to be scheduled.
type QueueEntry struct {
	ID                       int64  `json:"id" yaml:"id"`
	Name                     string `json:"name" yaml:"name"`
	EstimatedDurationMinutes int    `json:"estimated_duration_minutes" yaml:"estimated_duration_minutes"`
}

// Duration returns the estimated appointment length.
func (e QueueEntry) Duration() time.Duration {
	return time.Duration(e.EstimatedDurationMinutes) * time.Minute
}

func (e QueueEntry) Validate() error {
	if e.ID == 0 {
		return NewValidationError("id", "must be non-zero")
	}
	if e.Name == "" {
		return NewValidationError("name", "is required")
	}
	if e.EstimatedDurationMinutes <= 0 {
		return NewValidationError("estimated_duration_minutes", "must be positive")
	}
	if e.EstimatedDurationMinutes > MaxDurationMinutes {
		return NewValidationError("estimated_duration_minutes", fmt.Sprintf("must not exceed %d", MaxDurationMinutes))
	}
	return nil
}

// QueueRef identifies a queue entry in removal payloads.
type QueueRef struct {
	ID int64 `json:"id"`
}
