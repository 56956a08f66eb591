package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Strategy names.
const (
	NameCallback = "callback"
	NameManual   = "manual"
	NameDevice   = "device"
	NameImport   = "import"
)

// Stage identifies where a flow failed.
type Stage string

const (
	StageDeviceCode Stage = "device_code"
	StagePolling    Stage = "polling"
	StageExchange   Stage = "exchange"
	StageListener   Stage = "listener"
	StageImport     Stage = "import"
)

var (
	// ErrTimeout is returned when the user did not finish in time.
	ErrTimeout = errors.New("timed out waiting for authorization")
	// ErrDenied is returned when the user or provider refused authorization.
	ErrDenied = errors.New("authorization denied")
	// ErrExpired is returned when a device code expired before approval.
	ErrExpired = errors.New("device code expired")
	// ErrStateMismatch is returned when a redirect carries a foreign state.
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// Error is a failed authentication flow.
type Error struct {
	Strategy string
	Stage    Stage
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s authentication failed during %s: %v", e.Strategy, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(strategy string, stage Stage, err error) error {
	return &Error{Strategy: strategy, Stage: stage, Err: err}
}

// Strategy obtains a fresh token interactively or from elsewhere.
type Strategy interface {
	// Name returns the strategy name.
	Name() string
	// Initiate starts the flow and returns what the user must act on.
	Initiate(ctx context.Context) (*Pending, error)
	// Complete finishes the flow. input is the pasted code for Manual and
	// the token source for Import; other strategies ignore it.
	Complete(ctx context.Context, p *Pending, input string) (*oauth2.Token, error)
}

// Pending is a started flow waiting for the user.
type Pending struct {
	Strategy string
	// AuthURL is the authorization URL to open (callback and manual).
	AuthURL string
	// NetworkURL reaches the local listener from another machine.
	NetworkURL string
	// RedirectURL is the redirect registered with the provider.
	RedirectURL string
	// UserCode and VerificationURL are shown for the device flow.
	UserCode        string
	VerificationURL string
	// ExpiresAt bounds the device flow.
	ExpiresAt time.Time
	// Interval is the device flow poll interval.
	Interval time.Duration
	// Instructions is a human readable prompt.
	Instructions string

	state      string
	verifier   string
	deviceCode string
	result     chan callbackResult
	server     *http.Server
	listener   net.Listener

	closeOnce sync.Once
	closeErr  error
}

// Close releases resources held by the flow (the callback listener).
// Safe to call more than once.
func (p *Pending) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		if p.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			p.closeErr = p.server.Shutdown(ctx)
		}
		// Shutdown only closes listeners Serve has already picked up.
		if p.listener != nil {
			if err := p.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) && p.closeErr == nil {
				p.closeErr = err
			}
		}
	})
	return p.closeErr
}

// authCodeOptions request offline access with forced consent so the
// provider grants a refresh token on every authorization.
func authCodeOptions(extra ...oauth2.AuthCodeOption) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	return append(opts, extra...)
}

// withRedirect returns a copy of conf using redirect.
func withRedirect(conf *oauth2.Config, redirect string) *oauth2.Config {
	c := *conf
	c.RedirectURL = redirect
	return &c
}

// withHTTPClient makes oauth2 calls use client.
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
