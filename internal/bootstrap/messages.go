package bootstrap

import (
	"context"
	"errors"
	"strings"

	"github.com/vibesec/vibesec-login/internal/exchange"
)

// User-facing failure messages. Nothing else in the flow is shown to the user.
const (
	MsgInvalidCodeFormat = "Invalid authentication code format"
	MsgInvalidCode       = "Invalid authentication code"
	MsgExchangeFailed    = "Authentication failed"
	MsgTransportFailed   = "Authentication failed. Please try again."
	MsgTimedOut          = "Authentication timed out. Please try again."
	MsgSessionNotSaved   = "Could not save your session. Please try again."
	MsgCodeAlreadyUsed   = "This sign-in link was already used. Please sign in again."
)

func providerMessage(code, description string) string {
	code = strings.TrimSpace(code)
	description = strings.TrimSpace(description)
	msg := "Sign-in was rejected by the identity provider: " + code
	if description != "" {
		msg += " (" + description + ")"
	}
	return msg
}

func envelopeMessage(err error) string {
	if errors.Is(err, ErrIncompleteEnvelope) {
		return MsgInvalidCode
	}
	return MsgInvalidCodeFormat
}

// exchangeMessage maps an exchange error to what the user sees. The caller
// has already ruled out teardown.
func exchangeMessage(err error) string {
	var statusErr *exchange.StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Message != "" {
			return statusErr.Message
		}
		return MsgExchangeFailed
	case errors.Is(err, exchange.ErrIncompleteResult):
		return MsgExchangeFailed
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimedOut
	default:
		return MsgTransportFailed
	}
}
