// Package domain defines the records the wearable sync engine reads and writes.
package domain

import (
	"context"
	"errors"
	"time"
)

// PlatformWhoop is the only wearable platform the engine currently syncs.
const PlatformWhoop = "whoop"

var (
	// ErrConnectionNotFound is returned when no connection exists for a user/platform.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrTokenNotFound is returned when no token record exists for a user.
	ErrTokenNotFound = errors.New("token record not found")
)

// Connection is a user's authorization link to one wearable platform.
type Connection struct {
	UserID               string
	Platform             string
	IsActive             bool
	InitialSyncCompleted bool
	LastSyncAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TokenRecord holds decrypted OAuth credentials. Stores encrypt both tokens at rest.
type TokenRecord struct {
	UserID       string
	Platform     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// ConnectionRepository captures connection state operations.
type ConnectionRepository interface {
	GetConnection(ctx context.Context, userID, platform string) (*Connection, error)
	ListActiveConnections(ctx context.Context, platform string) ([]Connection, error)
	// ActivateConnection creates the connection or reactivates an existing one.
	ActivateConnection(ctx context.Context, userID, platform string, at time.Time) error
	DeactivateConnection(ctx context.Context, userID, platform string, at time.Time) error
	// MarkSynced sets last_sync_at and reports whether this flipped initial_sync_completed.
	MarkSynced(ctx context.Context, userID, platform string, at time.Time) (firstSync bool, err error)
}

// TokenRepository persists OAuth credentials. Records are never cached by callers
// beyond a single sync run.
type TokenRepository interface {
	// GetToken returns nil, nil when no record exists.
	GetToken(ctx context.Context, userID, platform string) (*TokenRecord, error)
	SaveToken(ctx context.Context, record TokenRecord) error
	DeleteToken(ctx context.Context, userID, platform string) error
}
