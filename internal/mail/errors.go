package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/account"
)

var (
	// ErrTransport marks requests that did not complete.
	ErrTransport = errors.New("transport error")
	// ErrCredentialsExpired marks requests rejected because the credentials
	// are no longer valid.
	ErrCredentialsExpired = errors.New("credentials expired or revoked")
)

// ProviderError is a request the provider processed and rejected.
type ProviderError struct {
	Provider   account.Kind
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s rejected (%d %s): %s", e.Provider, e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s rejected (%d): %s", e.Provider, e.Op, e.StatusCode, e.Message)
}

// ClassifyStatus turns a non-2xx HTTP response into the matching error class.
func ClassifyStatus(kind account.Kind, op string, status int, code, message string) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w: %s", kind, op, ErrCredentialsExpired, message)
	case status == http.StatusTooManyRequests, status >= 400 && status < 500:
		return &ProviderError{Provider: kind, Op: op, StatusCode: status, Code: code, Message: message}
	default:
		return fmt.Errorf("%s %s: %w: status %d: %s", kind, op, ErrTransport, status, message)
	}
}

// ClassifyTransport wraps an error returned by the HTTP client. Token
// refresh failures surface as ErrCredentialsExpired; context errors are
// returned unchanged.
func ClassifyTransport(kind account.Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%s %s: %w: %w", kind, op, ErrCredentialsExpired, err)
	}
	return fmt.Errorf("%s %s: %w: %w", kind, op, ErrTransport, err)
}

// IsRejected reports whether err is a provider rejection.
func IsRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
