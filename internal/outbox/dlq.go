package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DeadLetterStore is the dead-letter side of the outbox tables.
type DeadLetterStore interface {
	DueDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	Requeue(ctx context.Context, entry DeadLetterEntry) error
	Reschedule(ctx context.Context, entry DeadLetterEntry, delay time.Duration, reason string) error
	Quarantine(ctx context.Context, entry DeadLetterEntry, reason string) error
}

// Replayer moves dead-lettered events back into the outbox until they exhaust their
// retries.
type Replayer struct {
	store      DeadLetterStore
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewReplayer constructs a Replayer. Non-positive values fall back to five retries
// and a one-minute base delay.
func NewReplayer(store DeadLetterStore, maxRetries int, baseDelay time.Duration, logger *zap.Logger) *Replayer {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{store: store, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

// RunOnce handles up to batchSize due entries and returns how many were requeued.
func (r *Replayer) RunOnce(ctx context.Context, batchSize int) (int, error) {
	entries, err := r.store.DueDeadLetters(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("load dead letters: %w", err)
	}

	var errs error
	requeued := 0
	for _, entry := range entries {
		ok, err := r.handle(ctx, entry)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if ok {
			requeued++
		}
	}
	if len(entries) > 0 {
		r.logger.Info("dead letters replayed", zap.Int("due", len(entries)), zap.Int("requeued", requeued))
	}
	return requeued, errs
}

func (r *Replayer) handle(ctx context.Context, entry DeadLetterEntry) (bool, error) {
	if entry.RetryCount >= r.maxRetries {
		replayCounter.WithLabelValues("quarantined").Inc()
		r.logger.Warn("dead letter quarantined",
			zap.Int64("dlq_id", entry.ID),
			zap.String("event_type", entry.Message.EventType),
			zap.String("reason", entry.Reason),
		)
		return false, r.store.Quarantine(ctx, entry, "retry limit reached")
	}

	if err := r.store.Requeue(ctx, entry); err != nil {
		replayCounter.WithLabelValues("rescheduled").Inc()
		delay := r.backoff(entry.RetryCount + 1)
		if schedErr := r.store.Reschedule(ctx, entry, delay, err.Error()); schedErr != nil {
			return false, errors.Join(err, schedErr)
		}
		return false, nil
	}
	replayCounter.WithLabelValues("requeued").Inc()
	return true, nil
}

// backoff doubles baseDelay per attempt, capped at one hour.
func (r *Replayer) backoff(attempt int) time.Duration {
	if attempt > 12 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * r.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
