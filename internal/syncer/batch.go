package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/observability"
)

// DefaultConcurrency bounds simultaneous per-user runs so aggregate vendor traffic
// stays inside the per-key rate limit.
const DefaultConcurrency = 5

// UserSyncer runs one user's pipeline.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) Result
}

// BatchSummary aggregates one sync-all-active invocation.
type BatchSummary struct {
	Total      int
	Successful int
	Failed     int
	Results    []Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// BatchRunner syncs every active connection of a platform.
type BatchRunner struct {
	connections domain.ConnectionRepository
	syncer      UserSyncer
	platform    string
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// BatchOption configures the BatchRunner.
type BatchOption func(*BatchRunner)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchRunner) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *zap.Logger) BatchOption {
	return func(b *BatchRunner) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBatchPlatform overrides the platform key.
func WithBatchPlatform(platform string) BatchOption {
	return func(b *BatchRunner) {
		if platform != "" {
			b.platform = platform
		}
	}
}

// NewBatchRunner constructs a BatchRunner.
func NewBatchRunner(connections domain.ConnectionRepository, syncer UserSyncer, opts ...BatchOption) *BatchRunner {
	b := &BatchRunner{
		connections: connections,
		syncer:      syncer,
		platform:    domain.PlatformWhoop,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SyncAllActive runs every active connection with at most concurrency runs in flight.
// A user's failure is recorded in its Result and never stops the others.
func (b *BatchRunner) SyncAllActive(ctx context.Context) (BatchSummary, error) {
	summary := BatchSummary{StartedAt: b.now().UTC()}

	conns, err := b.connections.ListActiveConnections(ctx, b.platform)
	if err != nil {
		return summary, fmt.Errorf("list active connections: %w", err)
	}
	summary.Total = len(conns)
	summary.Results = make([]Result, len(conns))
	b.logger.Info("batch sync starting", zap.Int("connections", len(conns)), zap.Int("concurrency", b.concurrency))

	// Workers never return errors; only ctx cancels the runs.
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, conn := range conns {
		g.Go(func() error {
			inFlightGauge.Inc()
			defer inFlightGauge.Dec()
			summary.Results[i] = b.syncUser(ctx, conn.UserID)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range summary.Results {
		if res.OK() {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	summary.FinishedAt = b.now().UTC()
	observability.RecordBatchCompleted(summary.FinishedAt, summary.Total)

	b.logger.Info("batch sync finished",
		zap.Int("total", summary.Total),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// syncUser isolates one user's run so a panic is reported as that user's failure.
func (b *BatchRunner) syncUser(ctx context.Context, userID string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("sync run panicked", zap.String("user_id", userID), zap.Any("panic", p))
			res = Result{
				UserID:  userID,
				Status:  domain.SyncStatusFailed,
				Message: MessageUnexpected,
				Err:     fmt.Errorf("sync panicked: %v", p),
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result{UserID: userID, Status: domain.SyncStatusFailed, Signal: SignalRetryLater, Message: MessageRetryLater, Err: err}
	}
	return b.syncer.SyncUser(ctx, userID)
}
