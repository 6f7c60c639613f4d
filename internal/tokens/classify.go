package tokens

import (
	"context"
	"errors"
	"net/http"

	"example.com/wearablesync/internal/whoop"
)

// Class is the disposition of a failed refresh.
type Class int

const (
	// ClassTransient failures are expected to succeed later without user action.
	ClassTransient Class = iota
	// ClassPermanent failures mean the grant is gone and the user must reconnect.
	ClassPermanent
	// ClassUnknown failures are treated as transient but surfaced to operators.
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var permanentOAuthCodes = map[string]struct{}{
	whoop.OAuthInvalidGrant:       {},
	whoop.OAuthInvalidClient:      {},
	whoop.OAuthUnauthorizedClient: {},
	whoop.OAuthAccessDenied:       {},
	whoop.OAuthTokenRevoked:       {},
}

var transientOAuthCodes = map[string]struct{}{
	whoop.OAuthServerError:            {},
	whoop.OAuthTemporarilyUnavailable: {},
}

// Classify maps a refresh failure onto the three-way taxonomy using status codes and
// OAuth error codes.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var oauthErr *whoop.OAuthError
	if errors.As(err, &oauthErr) {
		if _, ok := transientOAuthCodes[oauthErr.Code]; ok {
			return ClassTransient
		}
		if _, ok := permanentOAuthCodes[oauthErr.Code]; ok {
			return ClassPermanent
		}
		return classifyStatus(oauthErr.StatusCode)
	}

	var httpErr *whoop.HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}

	if whoop.IsNetworkError(err) {
		return ClassTransient
	}
	return ClassUnknown
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ClassPermanent
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return ClassTransient
	default:
		return ClassUnknown
	}
}
