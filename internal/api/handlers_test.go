package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wearablesync/internal/auth"
	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/persistence/memory"
	"example.com/wearablesync/internal/syncer"
)

var testAuth = auth.Config{Secret: "test-secret", Issuer: "test-issuer"}

type stubSyncer struct {
	result syncer.Result
	calls  []string
}

func (s *stubSyncer) SyncUser(_ context.Context, userID string) syncer.Result {
	s.calls = append(s.calls, userID)
	res := s.result
	res.UserID = userID
	return res
}

type stubConnector struct {
	err   error
	users []string
	codes []string
}

func (c *stubConnector) Connect(_ context.Context, userID, code string) error {
	if c.err != nil {
		return c.err
	}
	c.users = append(c.users, userID)
	c.codes = append(c.codes, code)
	return nil
}

type stubConsent struct{}

func (stubConsent) AuthorizeURL(state string) string {
	return "https://vendor.example/auth?state=" + url.QueryEscape(state)
}

type fixture struct {
	handler   *Handler
	syncer    *stubSyncer
	connector *stubConnector
	store     *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		syncer:    &stubSyncer{result: syncer.Result{SyncLogID: "log-1", Status: domain.SyncStatusCompleted, RecordsSynced: 4}},
		connector: &stubConnector{},
		store:     memory.NewStore(),
	}
	f.handler = NewHandler(Dependencies{
		Syncer:    f.syncer,
		SyncLogs:  f.store,
		Connector: f.connector,
		Consent:   stubConsent{},
		Auth:      testAuth,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target string, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	f.handler.Routes().ServeHTTP(rr, req)
	return rr
}

func claimsFor(subject string, scopes ...string) *auth.Claims {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &auth.Claims{Subject: subject, Scopes: set, ExpiresAt: time.Now().Add(time.Hour)}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["type"]
}

func TestTriggerSyncCompleted(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/v1/users/user-1/sync", claimsFor("user-1", auth.ScopeSyncWrite))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "completed", resp.Status)
	require.Equal(t, "none", resp.Signal)
	require.Equal(t, 4, resp.RecordsSynced)
	require.Equal(t, []string{"user-1"}, f.syncer.calls)
}

func TestTriggerSyncStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		result     syncer.Result
		wantStatus int
		retryAfter string
	}{
		{
			name:       "reconnect",
			result:     syncer.Result{Status: domain.SyncStatusFailed, Signal: syncer.SignalReconnect, Message: syncer.MessageReconnect},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "retry later",
			result:     syncer.Result{Status: domain.SyncStatusFailed, Signal: syncer.SignalRetryLater, Message: syncer.MessageRetryLater},
			wantStatus: http.StatusServiceUnavailable,
			retryAfter: "300",
		},
		{
			name:       "unexpected",
			result:     syncer.Result{Status: domain.SyncStatusFailed, Message: syncer.MessageUnexpected},
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.syncer.result = tc.result

			rr := f.do(t, http.MethodPost, "/v1/users/user-1/sync", claimsFor("user-1", auth.ScopeSyncWrite))
			require.Equal(t, tc.wantStatus, rr.Code)
			require.Equal(t, tc.retryAfter, rr.Header().Get("Retry-After"))

			var resp SyncResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			require.Equal(t, tc.result.Message, resp.Message)
		})
	}
}

func TestTriggerSyncInProgress(t *testing.T) {
	f := newFixture(t)
	f.syncer.result = syncer.Result{Err: syncer.ErrSyncInProgress, Message: syncer.MessageAlreadyBusy}

	rr := f.do(t, http.MethodPost, "/v1/users/user-1/sync", claimsFor("user-1", auth.ScopeSyncWrite))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "sync_in_progress", decodeError(t, rr))
}

func TestTriggerSyncAuthorization(t *testing.T) {
	cases := []struct {
		name   string
		claims *auth.Claims
		want   int
	}{
		{name: "anonymous", claims: nil, want: http.StatusUnauthorized},
		{name: "read scope only", claims: claimsFor("user-1", auth.ScopeSyncRead), want: http.StatusForbidden},
		{name: "other user", claims: claimsFor("user-2", auth.ScopeSyncWrite), want: http.StatusForbidden},
		{name: "supervisor", claims: claimsFor("ops", auth.ScopeSyncSupervise), want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.do(t, http.MethodPost, "/v1/users/user-1/sync", tc.claims)
			require.Equal(t, tc.want, rr.Code)
			if tc.want != http.StatusOK {
				require.Empty(t, f.syncer.calls)
			}
		})
	}
}

func TestListSyncLogsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, f.store.AppendSyncLog(ctx, domain.SyncLogEntry{
			ID: fmt.Sprintf("log-%d", i), UserID: "user-1", Platform: domain.PlatformWhoop,
			StartedAt: started, CompletedAt: started.Add(time.Second),
			Status: domain.SyncStatusCompleted, RecordsSynced: i,
		}))
	}
	require.NoError(t, f.store.AppendSyncLog(ctx, domain.SyncLogEntry{ID: "other", UserID: "user-2", StartedAt: base}))

	claims := claimsFor("user-1", auth.ScopeSyncRead)
	rr := f.do(t, http.MethodGet, "/v1/users/user-1/sync-logs?limit=2", claims)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page ListSyncLogsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, "log-2", page.Items[0].ID)
	require.NotEmpty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/v1/users/user-1/sync-logs?limit=2&cursor="+url.QueryEscape(page.NextCursor), claims)
	require.Equal(t, http.StatusOK, rr.Code)
	page = ListSyncLogsResponse{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, "log-0", page.Items[0].ID)
	require.Empty(t, page.NextCursor)
}

func TestListSyncLogsRejectsBadCursor(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/users/user-1/sync-logs?cursor=!!!", claimsFor("user-1", auth.ScopeSyncRead))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "validation_failed", decodeError(t, rr))
}

func TestConnectAndCallback(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/users/user-1/connect", claimsFor("user-1", auth.ScopeSyncWrite))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp ConnectResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	consent, err := url.Parse(resp.AuthorizeURL)
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	rr = f.do(t, http.MethodGet, "/v1/oauth/callback?code=abc&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, []string{"user-1"}, f.connector.users)
	require.Equal(t, []string{"abc"}, f.connector.codes)
}

func TestCallbackRejectsBadState(t *testing.T) {
	f := newFixture(t)
	bearer, err := auth.Issue(testAuth, "user-1", []string{auth.ScopeSyncWrite}, time.Minute, time.Now())
	require.NoError(t, err)

	for name, target := range map[string]string{
		"missing state":   "/v1/oauth/callback?code=abc",
		"forged state":    "/v1/oauth/callback?code=abc&state=not-a-jwt",
		"wrong scope":     "/v1/oauth/callback?code=abc&state=" + bearer,
		"consent refused": "/v1/oauth/callback?error=access_denied",
	} {
		t.Run(name, func(t *testing.T) {
			rr := f.do(t, http.MethodGet, target, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	require.Empty(t, f.connector.users)
}

func TestCallbackConnectFailures(t *testing.T) {
	state, err := auth.Issue(testAuth, "user-1", []string{auth.ScopeOAuthState}, time.Minute, time.Now())
	require.NoError(t, err)

	f := newFixture(t)
	f.connector.err = syncer.ErrMissingCode
	rr := f.do(t, http.MethodGet, "/v1/oauth/callback?state="+state, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	f.connector.err = errors.New("vendor down")
	rr = f.do(t, http.MethodGet, "/v1/oauth/callback?code=abc&state="+state, nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, "connect_failed", decodeError(t, rr))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
