package syncer

import (
	"example.com/wearablesync/internal/domain"
)

// Signal tells the caller what follow-up a run needs.
type Signal int

const (
	// SignalNone means no follow-up: the run completed or failed in a way only an
	// operator can address.
	SignalNone Signal = iota
	// SignalReconnect means the user must re-authorize the platform.
	SignalReconnect
	// SignalRetryLater means the next scheduled run is expected to succeed.
	SignalRetryLater
)

func (s Signal) String() string {
	switch s {
	case SignalReconnect:
		return "reconnect"
	case SignalRetryLater:
		return "retry_later"
	default:
		return "none"
	}
}

// User-presentable messages. Raw errors never reach the sync log.
const (
	MessageReconnect   = "Please reconnect your account"
	MessageNotLinked   = "No wearable connection found. Please connect your account"
	MessageRetryLater  = "Temporary issue, will retry automatically"
	MessageUnexpected  = "Sync failed unexpectedly. Our team has been notified"
	MessageAlreadyBusy = "A sync is already running for this account"
)

// Result is the outcome of one user's run.
type Result struct {
	UserID        string
	SyncLogID     string
	Status        domain.SyncStatus
	Signal        Signal
	RecordsSynced int
	Rejected      int
	Message       string
	// Err is the underlying failure, for logs and callers. It is never persisted.
	Err error
}

// OK reports whether the run completed.
func (r Result) OK() bool { return r.Status == domain.SyncStatusCompleted }
