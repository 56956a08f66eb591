package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/auth"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/store"
)

var (
	// ErrConfigMissing is returned when an account has no client configuration.
	ErrConfigMissing = errors.New("client configuration missing")
	// ErrConfigInvalid is returned when a client configuration cannot be used.
	ErrConfigInvalid = errors.New("client configuration invalid")
	// ErrReauthRequired is returned when the account needs interactive
	// authentication but none is possible.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrRefreshFailed marks a failed silent refresh.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrVerificationFailed is returned when the post-acquisition probe fails.
	ErrVerificationFailed = errors.New("credential verification failed")
	// ErrTransport is the transport error class shared with the mail clients.
	ErrTransport = mail.ErrTransport
	// ErrUnknownProvider is returned for a kind without a registered provider.
	ErrUnknownProvider = errors.New("no provider registered")
)

// AccountError is a failure to make one account usable.
type AccountError struct {
	Account  string
	Provider account.Kind
	Err      error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s (%s): %v", e.Account, e.Provider, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// Remedy tells the operator what to do about a failure.
type Remedy string

const (
	RemedyNone           Remedy = "none"
	RemedyReauthenticate Remedy = "reauthenticate"
	RemedyReconfigure    Remedy = "reconfigure"
	RemedyRetry          Remedy = "retry"
)

// Classify maps an error to its remedy.
func Classify(err error) Remedy {
	var (
		authErr  *auth.Error
		nameErr  *account.NameError
		dupErr   *store.DuplicateError
		provider *mail.ProviderError
	)
	switch {
	case err == nil:
		return RemedyNone
	case errors.Is(err, ErrConfigMissing), errors.Is(err, ErrConfigInvalid),
		errors.Is(err, ErrUnknownProvider), errors.Is(err, store.ErrConfigWrite),
		errors.As(err, &nameErr), errors.As(err, &dupErr):
		return RemedyReconfigure
	case errors.Is(err, ErrTransport), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, store.ErrTokenWrite):
		return RemedyRetry
	case errors.Is(err, ErrReauthRequired), errors.Is(err, ErrRefreshFailed),
		errors.Is(err, mail.ErrCredentialsExpired), errors.As(err, &authErr):
		return RemedyReauthenticate
	case errors.As(err, &provider):
		// The provider refused a verified credential: API disabled, wrong
		// tenant, missing mailbox.
		if errors.Is(err, ErrVerificationFailed) {
			return RemedyReconfigure
		}
		return RemedyNone
	default:
		return RemedyRetry
	}
}
