package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/outbox"
)

// AppendSyncLog implements domain.SyncLogRepository. The entry and its outbox rows
// share one transaction.
func (r *Repository) AppendSyncLog(ctx context.Context, entry domain.SyncLogEntry, events ...domain.SyncEvent) error {
	msgs := make([]outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.FromEvent(event, r.topic)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sync_logs (id, user_id, platform, started_at, completed_at, status, records_synced, error_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.ID, entry.UserID, entry.Platform, entry.StartedAt, entry.CompletedAt,
			string(entry.Status), entry.RecordsSynced, entry.ErrorMessage,
		); err != nil {
			return fmt.Errorf("insert sync log: %w", err)
		}
		return outbox.Enqueue(ctx, tx, msgs...)
	})
}

// AppendValidationErrors implements domain.SyncLogRepository.
func (r *Repository) AppendValidationErrors(ctx context.Context, entries []domain.ValidationErrorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.ID, e.UserID, e.Platform, e.RecordType, e.RecordID, e.Reason, string(e.Payload), e.CreatedAt})
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"validation_errors"},
		[]string{"id", "user_id", "platform", "record_type", "record_id", "reason", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ListSyncLogs implements domain.SyncLogRepository, newest first.
func (r *Repository) ListSyncLogs(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.SyncLogEntry, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT id, user_id, platform, started_at, completed_at, status, records_synced, error_message
	            FROM sync_logs WHERE user_id = $1`
	if cursor != nil {
		query += ` AND (started_at, id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	entries := make([]domain.SyncLogEntry, 0, limit)
	for rows.Next() {
		var e domain.SyncLogEntry
		var status string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Platform, &e.StartedAt, &e.CompletedAt, &status, &e.RecordsSynced, &e.ErrorMessage); err != nil {
			return nil, nil, err
		}
		e.Status = domain.SyncStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(entries) == limit {
		last := entries[len(entries)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return entries, next, nil
}
