package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wearablesync/internal/syncer"
)

type blockingBatch struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
}

func (b *blockingBatch) SyncAllActive(ctx context.Context) (syncer.BatchSummary, error) {
	b.calls.Add(1)
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return syncer.BatchSummary{}, ctx.Err()
		}
	}
	return syncer.BatchSummary{Total: 1, Successful: 1}, nil
}

func TestRunBatchSkipsOverlappingRuns(t *testing.T) {
	batch := &blockingBatch{release: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(batch, "")

	done := make(chan error, 1)
	go func() {
		_, err := s.RunBatch(context.Background())
		done <- err
	}()
	<-batch.started

	_, err := s.RunBatch(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(batch.release)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, batch.calls.Load())

	summary, err := s.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Successful)
}

func TestRunBatchHonorsBudget(t *testing.T) {
	batch := &blockingBatch{release: make(chan struct{})}
	s := New(batch, "", WithBudget(20*time.Millisecond))

	_, err := s.RunBatch(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := New(&blockingBatch{}, "not a cron spec")
	require.Error(t, s.Start())
	require.Error(t, s.AddJob("replay", "also bad", func(context.Context) error { return nil }))
}

func TestScheduledJobsRunAndStop(t *testing.T) {
	batch := &blockingBatch{}
	s := New(batch, "@every 10ms")

	var replays atomic.Int32
	require.NoError(t, s.AddJob("replay", "@every 10ms", func(ctx context.Context) error {
		replays.Add(1)
		return nil
	}))
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return batch.calls.Load() > 0 && replays.Load() > 0 }, 3*time.Second, 10*time.Millisecond)
	s.Stop()
}
