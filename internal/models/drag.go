package models

import "time"

// DragHandle is the transient payload carried while a queue entry is dragged.
type DragHandle struct {
	ID              string `json:"id"`
	QueueEntryID    int64  `json:"queue_entry_id"`
	DisplayTitle    string `json:"display_title"`
	DurationMinutes int    `json:"duration_minutes"`
}

// DropEvent is what the calendar widget reports when a dragged entry is released.
type DropEvent struct {
	HandleID           string    `json:"handle_id"`
	DraggedTitle       string    `json:"dragged_title"`
	DurationMinutes    int       `json:"duration_minutes"`
	DropTimestamp      time.Time `json:"drop_timestamp"`
	OriginQueueEntryID int64     `json:"origin_queue_entry_id"`
}
