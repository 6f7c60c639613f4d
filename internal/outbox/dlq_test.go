package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDeadLetters struct {
	due         []DeadLetterEntry
	requeueErr  error
	requeued    []int64
	rescheduled map[int64]time.Duration
	quarantined []int64
}

func (f *fakeDeadLetters) DueDeadLetters(context.Context, int) ([]DeadLetterEntry, error) {
	return f.due, nil
}

func (f *fakeDeadLetters) Requeue(_ context.Context, e DeadLetterEntry) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.requeued = append(f.requeued, e.ID)
	return nil
}

func (f *fakeDeadLetters) Reschedule(_ context.Context, e DeadLetterEntry, delay time.Duration, _ string) error {
	if f.rescheduled == nil {
		f.rescheduled = make(map[int64]time.Duration)
	}
	f.rescheduled[e.ID] = delay
	return nil
}

func (f *fakeDeadLetters) Quarantine(_ context.Context, e DeadLetterEntry, _ string) error {
	f.quarantined = append(f.quarantined, e.ID)
	return nil
}

func TestReplayerRequeuesAndQuarantines(t *testing.T) {
	store := &fakeDeadLetters{due: []DeadLetterEntry{
		{ID: 1, RetryCount: 0},
		{ID: 2, RetryCount: 5},
		{ID: 3, RetryCount: 2},
	}}

	n, err := NewReplayer(store, 5, time.Minute, nil).RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []int64{1, 3}, store.requeued)
	require.Equal(t, []int64{2}, store.quarantined)
}

func TestReplayerReschedulesWithBackoff(t *testing.T) {
	store := &fakeDeadLetters{
		due:        []DeadLetterEntry{{ID: 1, RetryCount: 0}, {ID: 2, RetryCount: 3}},
		requeueErr: errors.New("outbox unavailable"),
	}

	n, err := NewReplayer(store, 10, time.Minute, nil).RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, time.Minute, store.rescheduled[1])
	require.Equal(t, 8*time.Minute, store.rescheduled[2])
}

func TestReplayerBackoffCaps(t *testing.T) {
	r := NewReplayer(&fakeDeadLetters{}, 0, 0, nil)
	require.Equal(t, time.Minute, r.backoff(1))
	require.Equal(t, time.Hour, r.backoff(7))
	require.Equal(t, time.Hour, r.backoff(40))
}
