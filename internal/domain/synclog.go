package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SyncStatus is the terminal status recorded for an orchestration run.
type SyncStatus string

const (
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncLogEntry is the append-only record of one orchestration run.
type SyncLogEntry struct {
	ID            string
	UserID        string
	Platform      string
	StartedAt     time.Time
	CompletedAt   time.Time
	Status        SyncStatus
	RecordsSynced int
	ErrorMessage  string
}

// ValidationErrorEntry is the append-only record of a rejected vendor payload.
type ValidationErrorEntry struct {
	ID         string
	UserID     string
	Platform   string
	RecordType string
	RecordID   string
	Reason     string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// SyncEvent is emitted through the outbox when a run finishes or a connection is deactivated.
type SyncEvent struct {
	Type          string    `json:"-"`
	UserID        string    `json:"user_id"`
	Platform      string    `json:"platform"`
	SyncLogID     string    `json:"sync_log_id,omitempty"`
	Status        string    `json:"status"`
	RecordsSynced int       `json:"records_synced"`
	Dates         []string  `json:"dates,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Outbox event types.
const (
	EventSyncCompleted         = "wearable.sync_completed"
	EventConnectionDeactivated = "wearable.connection_deactivated"
)

// Cursor models the sync-log pagination token.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// SyncLogRepository appends sync outcomes. Entries are never updated.
type SyncLogRepository interface {
	// AppendSyncLog writes the entry and any accompanying outbox events atomically.
	AppendSyncLog(ctx context.Context, entry SyncLogEntry, events ...SyncEvent) error
	AppendValidationErrors(ctx context.Context, entries []ValidationErrorEntry) error
	ListSyncLogs(ctx context.Context, userID string, cursor *Cursor, limit int) ([]SyncLogEntry, *Cursor, error)
}
