package tokens

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/persistence/memory"
	"example.com/wearablesync/internal/whoop"
)

type stubRefresher struct {
	calls int
	set   whoop.TokenSet
	err   error
}

func (s *stubRefresher) Refresh(_ context.Context, refreshToken string) (whoop.TokenSet, error) {
	s.calls++
	if s.err != nil {
		return whoop.TokenSet{}, s.err
	}
	return s.set, nil
}

var fixedNow = time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, expiresAt time.Time) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.ActivateConnection(ctx, "user-1", domain.PlatformWhoop, fixedNow.Add(-24*time.Hour)))
	require.NoError(t, store.SaveToken(ctx, domain.TokenRecord{
		UserID:       "user-1",
		Platform:     domain.PlatformWhoop,
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    expiresAt,
	}))
	return store
}

func newManager(store *memory.Store, refresher Refresher) *Manager {
	return NewManager(store, store, refresher, WithClock(func() time.Time { return fixedNow }))
}

func TestEnsureValidTokenSkipsRefreshWhenFresh(t *testing.T) {
	store := seed(t, fixedNow.Add(10*time.Minute))
	refresher := &stubRefresher{}

	res := newManager(store, refresher).EnsureValidToken(context.Background(), "user-1")
	require.True(t, res.OK())
	require.Equal(t, "old-access", res.AccessToken)
	require.Zero(t, refresher.calls)
}

func TestEnsureValidTokenRefreshesInsideBuffer(t *testing.T) {
	store := seed(t, fixedNow.Add(30*time.Second))
	refresher := &stubRefresher{set: whoop.TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: fixedNow.Add(time.Hour)}}

	res := newManager(store, refresher).EnsureValidToken(context.Background(), "user-1")
	require.Equal(t, OutcomeValid, res.Outcome)
	require.Equal(t, "new-access", res.AccessToken)
	require.Equal(t, 1, refresher.calls)

	rec, err := store.GetToken(context.Background(), "user-1", domain.PlatformWhoop)
	require.NoError(t, err)
	require.Equal(t, "new-refresh", rec.RefreshToken)
	require.Equal(t, fixedNow.Add(time.Hour), rec.ExpiresAt)
}

func TestEnsureValidTokenNoToken(t *testing.T) {
	store := memory.NewStore()
	res := newManager(store, &stubRefresher{}).EnsureValidToken(context.Background(), "nobody")
	require.Equal(t, OutcomeNoToken, res.Outcome)
	require.ErrorIs(t, res.Err, ErrNoToken)
}

func TestEnsureValidTokenUnauthorizedDeactivates(t *testing.T) {
	store := seed(t, fixedNow.Add(-time.Minute))
	refresher := &stubRefresher{err: &whoop.OAuthError{StatusCode: http.StatusUnauthorized}}

	res := newManager(store, refresher).EnsureValidToken(context.Background(), "user-1")
	require.Equal(t, OutcomeReauthRequired, res.Outcome)
	require.ErrorIs(t, res.Err, ErrReauthRequired)

	conn, err := store.GetConnection(context.Background(), "user-1", domain.PlatformWhoop)
	require.NoError(t, err)
	require.False(t, conn.IsActive)

	rec, err := store.GetToken(context.Background(), "user-1", domain.PlatformWhoop)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestEnsureValidTokenRateLimitedLeavesStateUntouched(t *testing.T) {
	store := seed(t, fixedNow.Add(-time.Minute))
	refresher := &stubRefresher{err: &whoop.OAuthError{StatusCode: http.StatusTooManyRequests}}

	res := newManager(store, refresher).EnsureValidToken(context.Background(), "user-1")
	require.Equal(t, OutcomeTransient, res.Outcome)
	require.ErrorIs(t, res.Err, ErrTransientRefresh)

	conn, err := store.GetConnection(context.Background(), "user-1", domain.PlatformWhoop)
	require.NoError(t, err)
	require.True(t, conn.IsActive)

	rec, err := store.GetToken(context.Background(), "user-1", domain.PlatformWhoop)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "old-refresh", rec.RefreshToken)
}

func TestEnsureValidTokenUnknownErrorIsTransient(t *testing.T) {
	store := seed(t, fixedNow.Add(-time.Minute))
	refresher := &stubRefresher{err: errors.New("decode token response: unexpected end")}

	res := newManager(store, refresher).EnsureValidToken(context.Background(), "user-1")
	require.Equal(t, OutcomeTransient, res.Outcome)

	rec, err := store.GetToken(context.Background(), "user-1", domain.PlatformWhoop)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"invalid grant", &whoop.OAuthError{StatusCode: http.StatusBadRequest, Code: whoop.OAuthInvalidGrant}, ClassPermanent},
		{"forbidden", &whoop.OAuthError{StatusCode: http.StatusForbidden}, ClassPermanent},
		{"revoked despite conflict status", &whoop.OAuthError{StatusCode: http.StatusConflict, Code: whoop.OAuthTokenRevoked}, ClassPermanent},
		{"temporarily unavailable", &whoop.OAuthError{StatusCode: http.StatusBadRequest, Code: whoop.OAuthTemporarilyUnavailable}, ClassTransient},
		{"bad gateway", &whoop.OAuthError{StatusCode: http.StatusBadGateway}, ClassTransient},
		{"api unauthorized", &whoop.HTTPError{StatusCode: http.StatusUnauthorized}, ClassPermanent},
		{"connection reset", syscall.ECONNRESET, ClassTransient},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"teapot", &whoop.OAuthError{StatusCode: http.StatusTeapot}, ClassUnknown},
		{"plain", errors.New("boom"), ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
