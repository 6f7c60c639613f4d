package downstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/wearablesync/internal/auth"
)

func TestClientCallsCollaborators(t *testing.T) {
	cfg := auth.Config{Secret: "s", Issuer: "wearable-sync"}
	var bodies = map[string]map[string]string{}
	var authorized = map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies[r.URL.Path] = body
		header := r.Header.Get("Authorization")
		claims, err := auth.Parse(header[len("Bearer "):], cfg)
		authorized[r.URL.Path] = err == nil && claims.HasScope(auth.ScopeSyncSupervise)

		switch r.URL.Path {
		case "/v1/summaries/daily":
			_, _ = w.Write([]byte(`{"processed":3,"errors":["user-9: missing sleep"]}`))
		case "/v1/alerts/evaluate":
			_, _ = w.Write([]byte(`{"alerts_created":2}`))
		case "/v1/care-team/auto-assign":
			_, _ = w.Write([]byte(`{"relationship_created":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, ServiceToken(cfg, "wearable-sync"))
	ctx := context.Background()
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	summary, err := client.GenerateDailySummary(ctx, day)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Processed)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "2025-03-01", bodies["/v1/summaries/daily"]["date"])

	alerts, err := client.CheckMetricsAgainstThresholds(ctx, "user-1", day)
	require.NoError(t, err)
	require.Equal(t, 2, alerts)
	require.Equal(t, "user-1", bodies["/v1/alerts/evaluate"]["user_id"])

	assigned, err := client.AutoAssignToDefaultSupervisor(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, assigned.RelationshipCreated)

	for path, ok := range authorized {
		require.True(t, ok, path)
	}
}

func TestClientReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no default supervisor configured", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).AutoAssignToDefaultSupervisor(context.Background(), "user-1")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	require.Equal(t, "no default supervisor configured", statusErr.Body)
}
