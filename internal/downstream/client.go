// Package downstream calls the aggregation, alerting and care-team services that
// consume freshly synced metrics.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/wearablesync/internal/auth"
)

// SummaryResult is the aggregation job's response.
type SummaryResult struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors,omitempty"`
}

// AssignmentResult is the auto-assignment response.
type AssignmentResult struct {
	RelationshipCreated bool `json:"relationship_created"`
}

// StatusError is a non-2xx collaborator response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream %s: status=%d body=%s", e.Path, e.StatusCode, e.Body)
}

// TokenSource mints the bearer token attached to each call.
type TokenSource func(now time.Time) (string, error)

// ServiceToken returns a TokenSource signing short-lived service tokens.
func ServiceToken(cfg auth.Config, subject string) TokenSource {
	return func(now time.Time) (string, error) {
		return auth.Issue(cfg, subject, []string{auth.ScopeSyncSupervise}, 5*time.Minute, now)
	}
}

// Client implements the three collaborator calls over JSON/HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
}

// NewClient constructs a Client. A nil token source sends unauthenticated requests.
func NewClient(baseURL string, timeout time.Duration, token TokenSource) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

// GenerateDailySummary recomputes the daily aggregate for date.
func (c *Client) GenerateDailySummary(ctx context.Context, date time.Time) (SummaryResult, error) {
	var out SummaryResult
	err := c.post(ctx, "/v1/summaries/daily", map[string]string{"date": date.Format(time.DateOnly)}, &out)
	return out, err
}

// CheckMetricsAgainstThresholds evaluates alert rules for one user and day and returns
// the number of alerts created.
func (c *Client) CheckMetricsAgainstThresholds(ctx context.Context, userID string, date time.Time) (int, error) {
	var out struct {
		AlertsCreated int `json:"alerts_created"`
	}
	err := c.post(ctx, "/v1/alerts/evaluate", map[string]string{"user_id": userID, "date": date.Format(time.DateOnly)}, &out)
	return out.AlertsCreated, err
}

// AutoAssignToDefaultSupervisor links the user to the default monitoring clinician.
func (c *Client) AutoAssignToDefaultSupervisor(ctx context.Context, userID string) (AssignmentResult, error) {
	var out AssignmentResult
	err := c.post(ctx, "/v1/care-team/auto-assign", map[string]string{"user_id": userID}, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token(time.Now())
		if err != nil {
			return fmt.Errorf("sign service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
