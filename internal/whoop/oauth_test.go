package whoop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRefreshSendsCredentialsInBody(t *testing.T) {
	var form url.Values
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		if err := r.ParseForm(); err == nil {
			form = r.PostForm
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","expires_in":3600,"scope":"offline read:recovery"}`))
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL, ClientID: "client", ClientSecret: "secret"}, nil)
	now := time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	set, err := client.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Empty(t, authHeader)
	require.Equal(t, "refresh_token", form.Get("grant_type"))
	require.Equal(t, "old-refresh", form.Get("refresh_token"))
	require.Equal(t, "client", form.Get("client_id"))
	require.Equal(t, "secret", form.Get("client_secret"))
	require.Equal(t, "offline", form.Get("scope"))

	require.Equal(t, "new-access", set.AccessToken)
	require.Equal(t, "old-refresh", set.RefreshToken, "unrotated refresh token is carried over")
	require.Equal(t, now.Add(time.Hour), set.ExpiresAt)
}

func TestRefreshReturnsOAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL, ClientID: "client", ClientSecret: "secret"}, srv.Client())
	_, err := client.Refresh(context.Background(), "stale")

	var oauthErr *OAuthError
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, http.StatusBadRequest, oauthErr.StatusCode)
	require.Equal(t, OAuthInvalidGrant, oauthErr.Code)
}

func TestExchangeCode(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			form = r.PostForm
		}
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","expires_in":60}`))
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{
		TokenURL:     srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/callback",
		Scopes:       []string{"offline", "read:cycles"},
	}, nil)

	set, err := client.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "auth-code", form.Get("code"))
	require.Equal(t, "https://app.example.com/callback", form.Get("redirect_uri"))
	require.Equal(t, "offline read:cycles", form.Get("scope"))
	require.Equal(t, "r", set.RefreshToken)
}

func TestGrantRejectsMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in":60}`))
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL}, nil)
	_, err := client.Refresh(context.Background(), "r")
	require.ErrorIs(t, err, ErrEmptyAccessToken)
}

func TestAuthorizeURL(t *testing.T) {
	client := NewOAuthClient(OAuthConfig{
		AuthURL:     "https://vendor.example/oauth/auth",
		ClientID:    "client",
		RedirectURL: "https://sync.example/v1/oauth/callback",
		Scopes:      []string{"offline", "read:cycles"},
	}, nil)

	u, err := url.Parse(client.AuthorizeURL("signed-state"))
	require.NoError(t, err)
	require.Equal(t, "/oauth/auth", u.Path)
	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "client", q.Get("client_id"))
	require.Equal(t, "signed-state", q.Get("state"))
	require.Equal(t, "offline read:cycles", q.Get("scope"))
	require.Equal(t, "https://sync.example/v1/oauth/callback", q.Get("redirect_uri"))
}
