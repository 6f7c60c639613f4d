package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Standard OAuth2 error codes the token endpoint may return.
const (
	OAuthInvalidGrant           = "invalid_grant"
	OAuthInvalidClient          = "invalid_client"
	OAuthUnauthorizedClient     = "unauthorized_client"
	OAuthAccessDenied           = "access_denied"
	OAuthTokenRevoked           = "token_revoked"
	OAuthServerError            = "server_error"
	OAuthTemporarilyUnavailable = "temporarily_unavailable"
)

// ErrEmptyAccessToken is returned when a grant succeeds without an access token.
var ErrEmptyAccessToken = errors.New("token endpoint returned no access token")

// OAuthError is a non-2xx token endpoint response.
type OAuthError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *OAuthError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("oauth token endpoint: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("oauth token endpoint: status=%d %s: %s", e.StatusCode, e.Code, e.Description)
}

// TokenSet is the result of a successful grant.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// OAuthConfig holds client credentials for the token endpoint.
type OAuthConfig struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OAuthClient performs authorization-code and refresh-token grants. Credentials go in
// the form body, not an Authorization header.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuthClient constructs an OAuthClient. A nil httpClient uses a 15s timeout client.
func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &OAuthClient{cfg: cfg, httpClient: httpClient, now: time.Now}
}

// AuthorizeURL is the consent page the user is sent to. state comes back unchanged on
// the redirect.
func (c *OAuthClient) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURL)
	q.Set("state", state)
	if len(c.cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}
	sep := "?"
	if strings.Contains(c.cfg.AuthURL, "?") {
		sep = "&"
	}
	return c.cfg.AuthURL + sep + q.Encode()
}

// ExchangeCode redeems an authorization code from the consent callback.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)
	return c.grant(ctx, "authorization_code", form)
}

// Refresh exchanges a refresh token for a new access token. The vendor may rotate the
// refresh token; when it does not, the previous one is carried over.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("scope", "offline")
	set, err := c.grant(ctx, "refresh_token", form)
	if err != nil {
		return TokenSet{}, err
	}
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}
	return set, nil
}

func (c *OAuthClient) grant(ctx context.Context, grantType string, form url.Values) (TokenSet, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	if len(c.cfg.Scopes) > 0 && form.Get("scope") == "" {
		form.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenSet{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tokenGrantCounter.WithLabelValues(grantType, "network_error").Inc()
		return TokenSet{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		tokenGrantCounter.WithLabelValues(grantType, "network_error").Inc()
		return TokenSet{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tokenGrantCounter.WithLabelValues(grantType, "rejected").Inc()
		oauthErr := &OAuthError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, oauthErr)
		oauthErr.StatusCode = resp.StatusCode
		return TokenSet{}, oauthErr
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		tokenGrantCounter.WithLabelValues(grantType, "malformed").Inc()
		return TokenSet{}, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		tokenGrantCounter.WithLabelValues(grantType, "malformed").Inc()
		return TokenSet{}, ErrEmptyAccessToken
	}

	tokenGrantCounter.WithLabelValues(grantType, "success").Inc()
	return TokenSet{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    c.now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second),
		Scope:        payload.Scope,
	}, nil
}
