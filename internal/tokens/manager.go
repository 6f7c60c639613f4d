// Package tokens keeps a user's vendor access token usable, refreshing it ahead of
// expiry and retiring the connection when the grant is permanently gone.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/whoop"
)

// DefaultRefreshBuffer is how far ahead of expiry a token is refreshed.
const DefaultRefreshBuffer = 60 * time.Second

var (
	// ErrReauthRequired marks a refresh the vendor rejected for good.
	ErrReauthRequired = errors.New("reauthorization required")
	// ErrTransientRefresh marks a refresh that may succeed on a later run.
	ErrTransientRefresh = errors.New("token refresh temporarily failed")
	// ErrNoToken is returned when the user never connected.
	ErrNoToken = errors.New("no token on file")
)

// Outcome is the result variant of EnsureValidToken.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeNoToken
	OutcomeReauthRequired
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeNoToken:
		return "no_token"
	case OutcomeReauthRequired:
		return "reauth_required"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Result carries a usable access token or the reason there is none.
type Result struct {
	AccessToken string
	Outcome     Outcome
	Err         error
}

// OK reports whether AccessToken can be used.
func (r Result) OK() bool { return r.Outcome == OutcomeValid }

// Refresher exchanges a refresh token for a new token set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (whoop.TokenSet, error)
}

// Option configures the Manager.
type Option func(*Manager)

// WithRefreshBuffer overrides DefaultRefreshBuffer.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.buffer = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPlatform overrides the platform key.
func WithPlatform(platform string) Option {
	return func(m *Manager) {
		if platform != "" {
			m.platform = platform
		}
	}
}

// Manager implements the token lifecycle for one platform.
type Manager struct {
	tokens    domain.TokenRepository
	conns     domain.ConnectionRepository
	refresher Refresher
	platform  string
	buffer    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(tokens domain.TokenRepository, conns domain.ConnectionRepository, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		tokens:    tokens,
		conns:     conns,
		refresher: refresher,
		platform:  domain.PlatformWhoop,
		buffer:    DefaultRefreshBuffer,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValidToken returns an access token valid for at least the refresh buffer.
// A token that is still fresh is returned without any network call.
func (m *Manager) EnsureValidToken(ctx context.Context, userID string) Result {
	logger := m.logger.With(zap.String("user_id", userID), zap.String("platform", m.platform))

	record, err := m.tokens.GetToken(ctx, userID, m.platform)
	if err != nil {
		logger.Error("load token failed", zap.Error(err))
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("%w: load token: %w", ErrTransientRefresh, err)}
	}
	if record == nil || record.AccessToken == "" {
		return Result{Outcome: OutcomeNoToken, Err: ErrNoToken}
	}

	now := m.now().UTC()
	if now.Add(m.buffer).Before(record.ExpiresAt) {
		return Result{AccessToken: record.AccessToken, Outcome: OutcomeValid}
	}

	if record.RefreshToken == "" {
		logger.Warn("token expired without refresh token")
		m.revoke(ctx, logger, userID, now)
		return Result{Outcome: OutcomeReauthRequired, Err: fmt.Errorf("%w: no refresh token", ErrReauthRequired)}
	}

	set, err := m.refresher.Refresh(ctx, record.RefreshToken)
	if err != nil {
		class := Classify(err)
		refreshCounter.WithLabelValues(class.String()).Inc()
		switch class {
		case ClassPermanent:
			logger.Warn("token refresh rejected, deactivating connection", zap.Error(err))
			m.revoke(ctx, logger, userID, now)
			return Result{Outcome: OutcomeReauthRequired, Err: fmt.Errorf("%w: %w", ErrReauthRequired, err)}
		case ClassTransient:
			logger.Info("token refresh failed transiently", zap.Error(err))
		default:
			logger.Error("token refresh failed with unclassified error", zap.Error(err))
		}
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("%w: %w", ErrTransientRefresh, err)}
	}

	updated := domain.TokenRecord{
		UserID:       userID,
		Platform:     m.platform,
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.ExpiresAt,
		UpdatedAt:    now,
	}
	if err := m.tokens.SaveToken(ctx, updated); err != nil {
		refreshCounter.WithLabelValues("store_error").Inc()
		logger.Error("persist refreshed token failed", zap.Error(err))
		return Result{Outcome: OutcomeTransient, Err: fmt.Errorf("%w: save token: %w", ErrTransientRefresh, err)}
	}

	refreshCounter.WithLabelValues("success").Inc()
	logger.Debug("token refreshed", zap.Time("expires_at", set.ExpiresAt))
	return Result{AccessToken: set.AccessToken, Outcome: OutcomeValid}
}

// revoke deactivates the connection and deletes stored credentials. Failures are
// logged; the caller still reports reauthorization as required.
func (m *Manager) revoke(ctx context.Context, logger *zap.Logger, userID string, at time.Time) {
	if err := m.conns.DeactivateConnection(ctx, userID, m.platform, at); err != nil && !errors.Is(err, domain.ErrConnectionNotFound) {
		logger.Error("deactivate connection failed", zap.Error(err))
	}
	if err := m.tokens.DeleteToken(ctx, userID, m.platform); err != nil && !errors.Is(err, domain.ErrTokenNotFound) {
		logger.Error("delete token failed", zap.Error(err))
	}
}
