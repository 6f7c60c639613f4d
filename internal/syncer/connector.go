package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/wearablesync/internal/domain"
	"example.com/wearablesync/internal/whoop"
)

// ErrMissingCode is returned when the consent callback carries no authorization code.
var ErrMissingCode = errors.New("authorization code is required")

// CodeExchanger redeems an authorization code.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (whoop.TokenSet, error)
}

// Connector links a user's account after the vendor consent redirect.
type Connector struct {
	exchanger   CodeExchanger
	tokens      domain.TokenRepository
	connections domain.ConnectionRepository
	platform    string
	now         func() time.Time
	logger      *zap.Logger
}

// NewConnector constructs a Connector.
func NewConnector(exchanger CodeExchanger, tokens domain.TokenRepository, connections domain.ConnectionRepository, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		exchanger:   exchanger,
		tokens:      tokens,
		connections: connections,
		platform:    domain.PlatformWhoop,
		now:         time.Now,
		logger:      logger,
	}
}

// Connect exchanges code, stores the tokens and creates or reactivates the connection.
// A reactivated connection keeps its initial-sync flag.
func (c *Connector) Connect(ctx context.Context, userID, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrMissingCode
	}
	set, err := c.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	now := c.now().UTC()
	if err := c.tokens.SaveToken(ctx, domain.TokenRecord{
		UserID:       userID,
		Platform:     c.platform,
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    set.ExpiresAt,
		UpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := c.connections.ActivateConnection(ctx, userID, c.platform, now); err != nil {
		return fmt.Errorf("activate connection: %w", err)
	}
	c.logger.Info("wearable connected", zap.String("user_id", userID), zap.String("platform", c.platform))
	return nil
}
