package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/persistence/memory"
)

type countingSyncer struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	seen     []string
	fail     map[string]bool
	panics   map[string]bool
}

func (c *countingSyncer) SyncUser(ctx context.Context, userID string) Result {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.seen = append(c.seen, userID)
	c.mu.Unlock()

	if c.panics[userID] {
		panic("boom")
	}
	if c.fail[userID] {
		return Result{UserID: userID, Status: domain.SyncStatusFailed, Signal: SignalRetryLater, Err: errors.New("vendor down")}
	}
	return Result{UserID: userID, Status: domain.SyncStatusCompleted}
}

func seedConnections(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.ActivateConnection(context.Background(), fmt.Sprintf("user-%02d", i), domain.PlatformWhoop, testNow))
	}
}

func TestSyncAllActiveBoundsConcurrency(t *testing.T) {
	store := memory.NewStore()
	seedConnections(t, store, 12)
	require.NoError(t, store.DeactivateConnection(context.Background(), "user-11", domain.PlatformWhoop, testNow))

	syncer := &countingSyncer{
		fail:   map[string]bool{"user-03": true},
		panics: map[string]bool{"user-07": true},
	}
	summary, err := NewBatchRunner(store, syncer).SyncAllActive(context.Background())
	require.NoError(t, err)

	require.Equal(t, 11, summary.Total)
	require.Equal(t, 9, summary.Successful)
	require.Equal(t, 2, summary.Failed)
	require.Len(t, syncer.seen, 11, "every active user runs despite failures")
	require.NotContains(t, syncer.seen, "user-11")
	require.LessOrEqual(t, syncer.peak.Load(), int32(DefaultConcurrency))
	require.Greater(t, syncer.peak.Load(), int32(1))

	for i, res := range summary.Results {
		require.Equal(t, fmt.Sprintf("user-%02d", i), res.UserID)
	}
	require.Equal(t, MessageUnexpected, summary.Results[7].Message)
}

func TestSyncAllActiveHonorsCustomConcurrency(t *testing.T) {
	store := memory.NewStore()
	seedConnections(t, store, 6)

	syncer := &countingSyncer{}
	summary, err := NewBatchRunner(store, syncer, WithConcurrency(1)).SyncAllActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, summary.Successful)
	require.EqualValues(t, 1, syncer.peak.Load())
}

func TestSyncAllActiveSkipsRunsAfterCancel(t *testing.T) {
	store := memory.NewStore()
	seedConnections(t, store, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	syncer := &countingSyncer{}
	summary, err := NewBatchRunner(store, syncer).SyncAllActive(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Failed)
	require.Empty(t, syncer.seen)
	for _, res := range summary.Results {
		require.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestSyncAllActiveWithOrchestrator(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.ActivateConnection(context.Background(), "user-2", domain.PlatformWhoop, testNow))

	summary, err := NewBatchRunner(h.store, h.orch).SyncAllActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Successful)
	require.Len(t, h.store.SyncLogs(), 2)
}
