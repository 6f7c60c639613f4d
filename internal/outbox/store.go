package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store claims pending rows and records their delivery outcome.
type Store interface {
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
	DeadLetter(ctx context.Context, msg Message, reason string) error
}

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue inserts msgs through q, normally inside the caller's transaction.
func Enqueue(ctx context.Context, q Execer, msgs ...Message) error {
	for _, msg := range msgs {
		if _, err := q.Exec(ctx,
			`INSERT INTO outbox (aggregate_id, event_type, topic, schema_subject, partition_key, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.AggregateID, msg.EventType, msg.Topic, msg.SchemaSubject, msg.PartitionKey, msg.Payload,
		); err != nil {
			return fmt.Errorf("enqueue %s: %w", msg.EventType, err)
		}
	}
	return nil
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Claim locks up to limit unpublished rows, skipping rows claimed by another
// dispatcher, and stamps claimed_at.
func (s *PGStore) Claim(ctx context.Context, limit int) (msgs []Message, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil || len(msgs) == 0 {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`SELECT event_id, aggregate_id, event_type, topic, schema_subject, partition_key, payload
		   FROM outbox
		  WHERE published_at IS NULL
		  ORDER BY event_id
		  LIMIT $1
		  FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkPublished stamps published_at on ids.
func (s *PGStore) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// DeadLetter copies msg into outbox_dlq for a later replay.
func (s *PGStore) DeadLetter(ctx context.Context, msg Message, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, aggregate_id, event_type, topic, schema_subject, partition_key, payload, reason, next_retry_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		msg.EventID, msg.AggregateID, msg.EventType, msg.Topic, msg.SchemaSubject, msg.PartitionKey, msg.Payload, reason,
	)
	return err
}

// DeadLetterEntry is an outbox_dlq row selected for replay.
type DeadLetterEntry struct {
	ID         int64
	Message    Message
	Reason     string
	RetryCount int
}

// DueDeadLetters returns up to limit non-quarantined entries whose retry time has come.
func (s *PGStore) DueDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dlq_id, event_id, aggregate_id, event_type, topic, schema_subject, partition_key, payload, reason, retry_count
		   FROM outbox_dlq
		  WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		  ORDER BY created_at
		  LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DeadLetterEntry
	for rows.Next() {
		var e DeadLetterEntry
		m := &e.Message
		if err := rows.Scan(&e.ID, &m.EventID, &m.AggregateID, &m.EventType, &m.Topic, &m.SchemaSubject, &m.PartitionKey, &m.Payload, &e.Reason, &e.RetryCount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Requeue moves entry back into the outbox in one transaction.
func (s *PGStore) Requeue(ctx context.Context, entry DeadLetterEntry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := Enqueue(ctx, tx, entry.Message); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
}

// Reschedule bumps the retry count and pushes the next attempt out by delay.
func (s *PGStore) Reschedule(ctx context.Context, entry DeadLetterEntry, delay time.Duration, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_dlq
		    SET retry_count = retry_count + 1,
		        last_attempt_at = NOW(),
		        next_retry_at = NOW() + $1::interval,
		        reason = $2
		  WHERE dlq_id = $3`,
		delay, reason, entry.ID)
	return err
}

// Quarantine parks entry for manual inspection.
func (s *PGStore) Quarantine(ctx context.Context, entry DeadLetterEntry, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
		reason, entry.ID)
	return err
}
