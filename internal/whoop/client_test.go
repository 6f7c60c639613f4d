package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func writePage(w http.ResponseWriter, n int, next string) {
	records := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, json.RawMessage(fmt.Sprintf(`{"id":%d}`, i)))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Page{Records: records, NextToken: next})
}

func window() (time.Time, time.Time) {
	end := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -7), end
}

func TestFetchPaginatedRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writePage(w, 4, "")
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(srv.URL, WithSleeper(sleeper.sleep))
	start, end := window()

	records, err := client.FetchPaginated(context.Background(), EndpointCycles, "access", start, end)
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestFetchPaginatedStopsAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(srv.URL, WithSleeper(sleeper.sleep))
	start, end := window()

	_, err := client.FetchPaginated(context.Background(), EndpointRecovery, "access", start, end)
	require.Error(t, err)
	require.EqualValues(t, 3, hits.Load())
	require.Len(t, sleeper.delays, 2)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestFetchPaginatedDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"no such resource"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithSleeper((&recordingSleeper{}).sleep))
	start, end := window()

	_, err := client.FetchPaginated(context.Background(), EndpointSleep, "access", start, end)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, "not_found", httpErr.Code)
	require.Equal(t, "no such resource", httpErr.Message)
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchPaginatedFollowsContinuationTokens(t *testing.T) {
	var tokens []string
	var firstQuery url.Values
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if firstQuery == nil {
			firstQuery = r.URL.Query()
			authHeader = r.Header.Get("Authorization")
		}
		token := r.URL.Query().Get("nextToken")
		tokens = append(tokens, token)
		switch token {
		case "":
			writePage(w, 25, "page-2")
		case "page-2":
			writePage(w, 25, "page-3")
		case "page-3":
			writePage(w, 10, "")
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	start, end := window()

	records, err := client.FetchPaginated(context.Background(), EndpointWorkouts, "access", start, end)
	require.NoError(t, err)
	require.Len(t, records, 60)
	require.Equal(t, []string{"", "page-2", "page-3"}, tokens)
	require.Equal(t, "Bearer access", authHeader)
	require.Equal(t, "2025-03-03T12:00:00Z", firstQuery.Get("start"))
	require.Equal(t, "2025-03-10T12:00:00Z", firstQuery.Get("end"))
	require.Equal(t, "25", firstQuery.Get("limit"))
}

func TestFetchPaginatedHonorsRetryAfterUpToCap(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writePage(w, 1, "")
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(srv.URL, WithSleeper(sleeper.sleep))
	start, end := window()

	_, err := client.FetchPaginated(context.Background(), EndpointCycles, "access", start, end)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{8 * time.Second}, sleeper.delays)
}

func TestFetchPaginatedAbortsWhenSleepCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	start, end := window()

	_, err := client.FetchPaginated(ctx, EndpointCycles, "access", start, end)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != string(EndpointProfile) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"user_id":10129,"email":"jo@example.com","first_name":"Jo","last_name":"Doe"}`))
	}))
	defer srv.Close()

	profile, err := NewClient(srv.URL).FetchProfile(context.Background(), "access")
	require.NoError(t, err)
	require.Equal(t, FlexID("10129"), profile.UserID)
	require.Equal(t, "Jo", profile.FirstName)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 8*time.Second, p.Delay(4))
	require.Equal(t, 8*time.Second, p.Delay(10))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&HTTPError{StatusCode: http.StatusTooManyRequests}))
	require.True(t, IsRetryable(&HTTPError{StatusCode: http.StatusGatewayTimeout}))
	require.False(t, IsRetryable(&HTTPError{StatusCode: http.StatusUnauthorized}))
	require.False(t, IsRetryable(context.Canceled))
	require.False(t, IsRetryable(errors.New("boom")))
	require.True(t, IsRetryable(fmt.Errorf("read body: %w", io.ErrUnexpectedEOF)))
	require.True(t, IsRetryable(&url.Error{Op: "Get", URL: "http://vendor", Err: timeoutErr{}}))
	require.False(t, IsRetryable(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

// stallFirst delays the first response past the client timeout, then serves a page.
func stallFirst(hits *atomic.Int32, stall time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-time.After(stall):
			case <-r.Context().Done():
			}
			return
		}
		writePage(w, 2, "")
	}
}

func TestFetchPaginatedRetriesClientTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(stallFirst(&hits, 300*time.Millisecond))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(srv.URL,
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
		WithSleeper(sleeper.sleep),
	)
	start, end := window()

	records, err := client.FetchPaginated(context.Background(), EndpointCycles, "access", start, end)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.EqualValues(t, 2, hits.Load())
	require.Equal(t, []time.Duration{time.Second}, sleeper.delays)
}

func TestFetchPaginatedDoesNotRetryCallerDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(stallFirst(&hits, 2*time.Second))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	client := NewClient(srv.URL, WithSleeper(sleeper.sleep))
	start, end := window()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.FetchPaginated(ctx, EndpointCycles, "access", start, end)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, hits.Load())
	require.Empty(t, sleeper.delays)
}
