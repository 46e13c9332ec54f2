package models

import "time"

// SyncState describes the persistence status of the in-memory lists.
type SyncState struct {
	IsSyncing      bool            `json:"is_syncing"`
	LastSavedAt    *time.Time      `json:"last_saved_at,omitempty"`
	PendingChanges []PendingChange `json:"pending_changes"`
}

// BatchUpdateRequest is the body of POST /api/appointments/batch-update.
type BatchUpdateRequest struct {
	SessionID string          `json:"session_id"`
	Changes   []PendingChange `json:"changes"`
	Timestamp time.Time       `json:"timestamp"`
}

// BatchUpdateResponse reports how many changes the backend applied and how many
// it had already seen.
type BatchUpdateResponse struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}
