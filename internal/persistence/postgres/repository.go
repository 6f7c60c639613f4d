// Package postgres implements the repositories on Postgres through pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/outbox"
	"example.com/wearablesync/internal/tokencrypt"
)

// Repository implements every domain repository. Tokens are sealed before they are
// written and opened after they are read.
type Repository struct {
	pool   *pgxpool.Pool
	sealer *tokencrypt.Sealer
	topic  string
}

// NewRepository constructs a Repository. Events are enqueued on topic.
func NewRepository(pool *pgxpool.Pool, sealer *tokencrypt.Sealer, topic string) *Repository {
	if topic == "" {
		topic = outbox.DefaultTopic
	}
	return &Repository{pool: pool, sealer: sealer, topic: topic}
}

// GetConnection implements domain.ConnectionRepository.
func (r *Repository) GetConnection(ctx context.Context, userID, platform string) (*domain.Connection, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, platform, is_active, initial_sync_completed, last_sync_at, created_at, updated_at
		   FROM wearable_connections WHERE user_id = $1 AND platform = $2`, userID, platform)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListActiveConnections implements domain.ConnectionRepository.
func (r *Repository) ListActiveConnections(ctx context.Context, platform string) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, platform, is_active, initial_sync_completed, last_sync_at, created_at, updated_at
		   FROM wearable_connections WHERE platform = $1 AND is_active
		  ORDER BY user_id`, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]domain.Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// ActivateConnection implements domain.ConnectionRepository.
func (r *Repository) ActivateConnection(ctx context.Context, userID, platform string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wearable_connections (user_id, platform, is_active, created_at, updated_at)
		 VALUES ($1, $2, TRUE, $3, $3)
		 ON CONFLICT (user_id, platform) DO UPDATE SET is_active = TRUE, updated_at = EXCLUDED.updated_at`,
		userID, platform, at)
	return err
}

// DeactivateConnection implements domain.ConnectionRepository.
func (r *Repository) DeactivateConnection(ctx context.Context, userID, platform string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE wearable_connections SET is_active = FALSE, updated_at = $3 WHERE user_id = $1 AND platform = $2`,
		userID, platform, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// MarkSynced implements domain.ConnectionRepository. The previous flag is read in the
// same statement so concurrent callers cannot both see a first sync.
func (r *Repository) MarkSynced(ctx context.Context, userID, platform string, at time.Time) (bool, error) {
	var wasCompleted bool
	err := r.pool.QueryRow(ctx,
		`UPDATE wearable_connections c
		    SET initial_sync_completed = TRUE, last_sync_at = $3, updated_at = $3
		   FROM (SELECT initial_sync_completed FROM wearable_connections
		          WHERE user_id = $1 AND platform = $2 FOR UPDATE) prev
		  WHERE c.user_id = $1 AND c.platform = $2
		  RETURNING prev.initial_sync_completed`,
		userID, platform, at).Scan(&wasCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrConnectionNotFound
	}
	if err != nil {
		return false, err
	}
	return !wasCompleted, nil
}

// GetToken implements domain.TokenRepository.
func (r *Repository) GetToken(ctx context.Context, userID, platform string) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	var accessEnc, refreshEnc string
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, platform, access_token_enc, refresh_token_enc, expires_at, updated_at
		   FROM wearable_tokens WHERE user_id = $1 AND platform = $2`, userID, platform,
	).Scan(&rec.UserID, &rec.Platform, &accessEnc, &refreshEnc, &rec.ExpiresAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.AccessToken, err = r.sealer.Open(userID, accessEnc); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if rec.RefreshToken, err = r.sealer.Open(userID, refreshEnc); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return &rec, nil
}

// SaveToken implements domain.TokenRepository.
func (r *Repository) SaveToken(ctx context.Context, rec domain.TokenRecord) error {
	accessEnc, err := r.sealer.Seal(rec.UserID, rec.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refreshEnc, err := r.sealer.Seal(rec.UserID, rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO wearable_tokens (user_id, platform, access_token_enc, refresh_token_enc, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, platform) DO UPDATE SET
		     access_token_enc = EXCLUDED.access_token_enc,
		     refresh_token_enc = EXCLUDED.refresh_token_enc,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.Platform, accessEnc, refreshEnc, rec.ExpiresAt, rec.UpdatedAt)
	return err
}

// DeleteToken implements domain.TokenRepository.
func (r *Repository) DeleteToken(ctx context.Context, userID, platform string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM wearable_tokens WHERE user_id = $1 AND platform = $2`, userID, platform)
	return err
}

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(&c.UserID, &c.Platform, &c.IsActive, &c.InitialSyncCompleted, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
