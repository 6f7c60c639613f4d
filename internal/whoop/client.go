// Package whoop talks to the wearable vendor's OAuth and developer APIs.
package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Endpoint is a developer API path.
type Endpoint string

// Windowed, paginated collections.
const (
	EndpointCycles   Endpoint = "/v1/cycle"
	EndpointRecovery Endpoint = "/v1/recovery"
	EndpointSleep    Endpoint = "/v1/activity/sleep"
	EndpointWorkouts Endpoint = "/v1/activity/workout"
)

// Non-windowed resources.
const (
	EndpointProfile Endpoint = "/v1/user/profile/basic"
	EndpointBody    Endpoint = "/v1/user/measurement/body"
)

// maxPages guards against a vendor that never stops returning continuation tokens.
const maxPages = 1000

// ErrTooManyPages is returned when pagination exceeds maxPages.
var ErrTooManyPages = errors.New("pagination did not terminate")

// Page is one response of a paginated collection.
type Page struct {
	Records   []json.RawMessage `json:"records"`
	NextToken string            `json:"next_token,omitempty"`
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p.normalized()
	}
}

// WithSleeper overrides how the client waits between attempts.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithLimiter shares a request limiter across every user sync hitting the same API key.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithPageSize sets the limit query parameter.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger overrides the logger used to report attempts.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client fetches vendor records with retry and pagination.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	sleep      Sleeper
	pageSize   int
	logger     *zap.Logger
}

// NewClient constructs a Client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      DefaultRetryPolicy(),
		sleep:      SleepContext,
		pageSize:   25,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPaginated returns every record of endpoint within [start, end], following
// continuation tokens until none is returned. Each page is retried independently.
func (c *Client) FetchPaginated(ctx context.Context, endpoint Endpoint, accessToken string, start, end time.Time) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(c.pageSize))

	var records []json.RawMessage
	for pageNum := 1; ; pageNum++ {
		if pageNum > maxPages {
			return nil, fmt.Errorf("%s: %w", endpoint, ErrTooManyPages)
		}

		var page Page
		err := c.fetchWithRetry(ctx, string(endpoint), func(ctx context.Context) error {
			page = Page{}
			return c.getJSON(ctx, endpoint, accessToken, params, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", endpoint, pageNum, err)
		}

		records = append(records, page.Records...)
		pagesCounter.WithLabelValues(string(endpoint)).Inc()

		if strings.TrimSpace(page.NextToken) == "" {
			break
		}
		params.Set("nextToken", page.NextToken)
	}

	recordsCounter.WithLabelValues(string(endpoint)).Add(float64(len(records)))
	return records, nil
}

// FetchProfile returns the user's basic profile.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (RawProfile, error) {
	var profile RawProfile
	err := c.fetchWithRetry(ctx, string(EndpointProfile), func(ctx context.Context) error {
		return c.getJSON(ctx, EndpointProfile, accessToken, nil, &profile)
	})
	return profile, err
}

// FetchBodyMeasurement returns the user's latest body measurement.
func (c *Client) FetchBodyMeasurement(ctx context.Context, accessToken string) (RawBodyMeasurement, error) {
	var body RawBodyMeasurement
	err := c.fetchWithRetry(ctx, string(EndpointBody), func(ctx context.Context) error {
		return c.getJSON(ctx, EndpointBody, accessToken, nil, &body)
	})
	return body, err
}

// fetchWithRetry runs fn up to MaxAttempts times, backing off between retryable
// failures. Non-retryable errors are returned immediately.
func (c *Client) fetchWithRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("vendor request succeeded after retry", zap.String("endpoint", op), zap.Int("attempt", attempt))
			}
			attemptsCounter.WithLabelValues(op, "success").Inc()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			attemptsCounter.WithLabelValues(op, "cancelled").Inc()
			return err
		}
		if !IsRetryable(err) {
			attemptsCounter.WithLabelValues(op, "fatal").Inc()
			c.logger.Warn("vendor request failed without retry", zap.String("endpoint", op), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		attemptsCounter.WithLabelValues(op, "retryable").Inc()

		if attempt == c.retry.MaxAttempts {
			c.logger.Warn("vendor request retries exhausted", zap.String("endpoint", op), zap.Int("attempt", attempt), zap.Error(err))
			break
		}

		delay := c.retry.Delay(attempt)
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
			delay = min(httpErr.RetryAfter, c.retry.MaxDelay)
		}
		c.logger.Info("vendor request failed, retrying",
			zap.String("endpoint", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if waitErr := c.sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func (c *Client) getJSON(ctx context.Context, endpoint Endpoint, accessToken string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	target := c.baseURL + string(endpoint)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	requestDuration.WithLabelValues(string(endpoint), strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeHTTPError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	var parsed struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		httpErr.Code = coalesce(parsed.Code, parsed.Error)
		if strings.TrimSpace(parsed.Message) != "" {
			httpErr.Message = parsed.Message
		}
	}
	return httpErr
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
