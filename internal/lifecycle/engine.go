package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/auth"
	"github.com/teemow/clawmail/internal/instrumentation"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/settings"
	"github.com/teemow/clawmail/internal/store"
)

// Provider is the per-kind plug-in the engine builds clients through.
type Provider interface {
	ScopeChecker
	Kind() account.Kind
	// OAuthConfig parses a client configuration file.
	OAuthConfig(clientConfig []byte) (*oauth2.Config, error)
	// ManualRedirectURL is the out-of-band redirect for the manual strategy.
	ManualRedirectURL() string
	// NewClient builds a mail client over an authorized HTTP client.
	NewClient(ctx context.Context, accountID string, httpClient *http.Client) (mail.Client, error)
}

// Config configures an Engine.
type Config struct {
	Settings settings.Config
	// Interactor relays interactive flows. Nil makes the engine
	// non-interactive: accounts needing authentication fail with
	// ErrReauthRequired.
	Interactor Interactor
	// HTTPClient is the base client for token endpoints and APIs.
	HTTPClient *http.Client
	// Strategy overrides strategy selection.
	Strategy StrategyFunc
	// OpenBrowser opens URLs for the callback strategy.
	OpenBrowser func(url string) error
	// BrowserAvailable decides the auto mode for Gmail; defaults to
	// BrowserLikely.
	BrowserAvailable func() bool
	Metrics          *instrumentation.Metrics
	Logger           *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs the token lifecycle for accounts of one credential store.
// It is not safe for concurrent use; accounts are processed one at a time.
type Engine struct {
	store     *store.Store
	providers map[account.Kind]Provider
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an engine over st with one provider per account kind.
func New(st *store.Store, providers []Provider, cfg Config) *Engine {
	e := &Engine{
		store:     st,
		providers: make(map[account.Kind]Provider, len(providers)),
		cfg:       cfg,
		logger:    logging.OrDefault(cfg.Logger),
		now:       cfg.Now,
	}
	for _, p := range providers {
		e.providers[p.Kind()] = p
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.cfg.Settings.HTTPTimeout <= 0 {
		e.cfg.Settings.HTTPTimeout = settings.Default().HTTPTimeout
	}
	return e
}

// Store returns the credential store.
func (e *Engine) Store() *store.Store { return e.store }

// Session is an account made ready by the engine.
type Session struct {
	Descriptor account.Descriptor
	Client     mail.Client
	// Entry is the token state found before acquisition.
	Entry State
	// Strategy names the authentication strategy used, if any.
	Strategy string
	// ReauthRequired is set when a silent refresh failed and the account
	// fell back to interactive authentication.
	ReauthRequired bool
	// Profile is the result of the liveness probe, nil when disabled.
	Profile *mail.Profile
	Token   *store.Token
}

// Acquire returns a verified client for desc, refreshing or
// re-authenticating as needed.
func (e *Engine) Acquire(ctx context.Context, desc account.Descriptor) (*Session, error) {
	return e.acquire(ctx, desc, false)
}

// Renew is Acquire for a token the provider has just rejected: a token that
// looks valid is refreshed or re-authenticated anyway.
func (e *Engine) Renew(ctx context.Context, desc account.Descriptor) (*Session, error) {
	return e.acquire(ctx, desc, true)
}

func (e *Engine) acquire(ctx context.Context, desc account.Descriptor, force bool) (_ *Session, err error) {
	ctx, span := instrumentation.StartAcquireSpan(ctx, desc.Kind.String(), desc.ID)
	defer func() {
		if err != nil {
			instrumentation.SetSpanError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		span.End()
	}()

	logger := logging.WithAccount(e.logger, desc.ID, desc.Kind.String())
	fail := func(err error) error {
		return &AccountError{Account: desc.ID, Provider: desc.Kind, Err: err}
	}

	p, conf, err := e.prepare(desc)
	if err != nil {
		return nil, fail(err)
	}

	tok := e.loadToken(desc, logger)
	state := Evaluate(tok, e.now(), DefaultSkew, p)
	sess := &Session{Descriptor: desc, Entry: state}
	logger.Debug("token evaluated", logging.State(string(state)))

	if force && state == StateValid {
		state = StateDead
		if tok.Refreshable() {
			state = StateExpiredRefreshable
		}
	}

	if state == StateExpiredRefreshable {
		refreshed, rerr := e.refresh(ctx, desc, conf, tok)
		switch {
		case rerr == nil:
			tok, state = refreshed, StateValid
		case errors.Is(rerr, store.ErrTokenWrite):
			return nil, fail(rerr)
		default:
			sess.ReauthRequired = true
			logger.Warn("silent refresh failed, re-authentication required", logging.Err(rerr))
			state = StateNoToken
		}
	}

	if state != StateValid {
		if e.cfg.Interactor == nil {
			return nil, fail(ErrReauthRequired)
		}
		strategy, serr := e.strategyFor(desc, p, conf)
		if serr != nil {
			return nil, fail(serr)
		}
		sess.Strategy = strategy.Name()
		tok, err = e.authenticate(ctx, desc, conf, strategy, "")
		if err != nil {
			return nil, fail(err)
		}
	}

	if err := e.finish(ctx, sess, p, conf, tok, logger); err != nil {
		return nil, fail(err)
	}
	return sess, nil
}

// AuthURL starts the manual flow for desc and returns the authorization
// URL without waiting; CompleteCode finishes it, possibly in another
// process.
func (e *Engine) AuthURL(ctx context.Context, desc account.Descriptor) (*auth.Pending, error) {
	p, conf, err := e.prepare(desc)
	if err != nil {
		return nil, &AccountError{Account: desc.ID, Provider: desc.Kind, Err: err}
	}
	m := &auth.Manual{Config: conf, RedirectURL: p.ManualRedirectURL(), HTTPClient: e.cfg.HTTPClient}
	return m.Initiate(ctx)
}

// CompleteCode exchanges a pasted authorization code for desc.
func (e *Engine) CompleteCode(ctx context.Context, desc account.Descriptor, code string) (*Session, error) {
	return e.mintWith(ctx, desc, func(p Provider, conf *oauth2.Config) auth.Strategy {
		return &auth.Manual{Config: conf, RedirectURL: p.ManualRedirectURL(), HTTPClient: e.cfg.HTTPClient}
	}, code)
}

// Import stores a token minted elsewhere for desc. source is a file path
// or the token JSON.
func (e *Engine) Import(ctx context.Context, desc account.Descriptor, source string) (*Session, error) {
	return e.mintWith(ctx, desc, func(Provider, *oauth2.Config) auth.Strategy {
		return &auth.Import{}
	}, source)
}

func (e *Engine) mintWith(ctx context.Context, desc account.Descriptor, build func(Provider, *oauth2.Config) auth.Strategy, input string) (*Session, error) {
	fail := func(err error) error {
		return &AccountError{Account: desc.ID, Provider: desc.Kind, Err: err}
	}
	logger := logging.WithAccount(e.logger, desc.ID, desc.Kind.String())

	p, conf, err := e.prepare(desc)
	if err != nil {
		return nil, fail(err)
	}
	entry := Evaluate(e.loadToken(desc, logger), e.now(), DefaultSkew, p)

	strategy := build(p, conf)
	tok, err := e.authenticate(ctx, desc, conf, strategy, input)
	if err != nil {
		return nil, fail(err)
	}
	sess := &Session{Descriptor: desc, Entry: entry, Strategy: strategy.Name()}
	if err := e.finish(ctx, sess, p, conf, tok, logger); err != nil {
		return nil, fail(err)
	}
	return sess, nil
}

// prepare loads the provider and OAuth configuration of desc.
func (e *Engine) prepare(desc account.Descriptor) (Provider, *oauth2.Config, error) {
	p, ok := e.providers[desc.Kind]
	if !ok {
		return nil, nil, fmt.Errorf("%w for %s", ErrUnknownProvider, desc.Kind)
	}
	blob, err := e.store.GetConfig(desc.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfigMissing, err)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	conf, err := p.OAuthConfig(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, desc.ConfigFile, err)
	}
	return p, conf, nil
}

// loadToken returns the stored token, or nil when there is none or it
// cannot be decoded.
func (e *Engine) loadToken(desc account.Descriptor, logger *slog.Logger) *store.Token {
	tok, err := e.store.GetToken(desc.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("ignoring unreadable token record", logging.Err(err))
		}
		return nil
	}
	return tok
}

// refresh exchanges the refresh token and persists the result.
func (e *Engine) refresh(ctx context.Context, desc account.Descriptor, conf *oauth2.Config, tok *store.Token) (*store.Token, error) {
	ctx, cancel := context.WithTimeout(e.oauthContext(ctx), e.cfg.Settings.HTTPTimeout)
	defer cancel()

	// An empty access token forces the token source to refresh.
	fresh, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		e.cfg.Metrics.RecordTokenRefresh(ctx, desc.Kind.String(), instrumentation.ResultFailure)
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	e.cfg.Metrics.RecordTokenRefresh(ctx, desc.Kind.String(), instrumentation.ResultSuccess)

	rec := store.NewToken(desc, fresh, tok.Scopes)
	if err := e.store.PutToken(desc.ID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// authenticate runs strategy to completion and persists the token.
func (e *Engine) authenticate(ctx context.Context, desc account.Descriptor, conf *oauth2.Config, strategy auth.Strategy, input string) (*store.Token, error) {
	logger := logging.WithAccount(e.logger, desc.ID, desc.Kind.String()).With(logging.Strategy(strategy.Name()))
	start := e.now()

	tok, err := e.runStrategy(ctx, desc, strategy, input)
	result := instrumentation.ResultSuccess
	if err != nil {
		result = instrumentation.ResultFailure
	}
	e.cfg.Metrics.RecordAuthAttempt(ctx, desc.Kind.String(), strategy.Name(), result)
	if err != nil {
		logger.Warn("authentication failed", logging.Err(err))
		return nil, err
	}

	rec := store.NewToken(desc, tok, conf.Scopes)
	if err := e.store.PutToken(desc.ID, rec); err != nil {
		return nil, err
	}
	logger.Info("authenticated", "duration", e.now().Sub(start), "refreshable", rec.Refreshable())
	return rec, nil
}

func (e *Engine) runStrategy(ctx context.Context, desc account.Descriptor, strategy auth.Strategy, input string) (*oauth2.Token, error) {
	pending, err := strategy.Initiate(ctx)
	if err != nil {
		return nil, err
	}
	defer pending.Close()

	if input == "" && e.cfg.Interactor != nil {
		if err := e.cfg.Interactor.Present(ctx, desc, pending); err != nil {
			return nil, err
		}
		if needsInput(strategy) {
			if input, err = e.cfg.Interactor.Input(ctx, desc, pending); err != nil {
				return nil, err
			}
		}
	}
	return strategy.Complete(ctx, pending, input)
}

// finish binds a client to tok and runs the liveness probe.
func (e *Engine) finish(ctx context.Context, sess *Session, p Provider, conf *oauth2.Config, tok *store.Token, logger *slog.Logger) error {
	desc := sess.Descriptor
	src := &persistingSource{
		src:  conf.TokenSource(e.oauthContext(context.Background()), tok.OAuth2()),
		last: tok.AccessToken,
		save: func(t *oauth2.Token) error {
			rec := store.NewToken(desc, t, tok.Scopes)
			if err := e.store.PutToken(desc.ID, rec); err != nil {
				return err
			}
			logger.Debug("persisted refreshed token", "token", logging.SanitizeToken(t.AccessToken))
			return nil
		},
	}
	httpClient := oauth2.NewClient(e.oauthContext(context.Background()), src)
	httpClient.Timeout = e.cfg.Settings.HTTPTimeout

	client, err := p.NewClient(ctx, desc.ID, httpClient)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	client = mail.WithInstrumentation(client, e.cfg.Metrics)
	client = mail.WithBreaker(client, e.logger)

	if e.cfg.Settings.Probe {
		profile, err := client.Profile(ctx)
		if err != nil {
			logger.Warn("liveness probe failed", logging.Err(err))
			return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		}
		sess.Profile = profile
		logger.Info("account ready", logging.UserHash(profile.Address))
	}

	sess.Client = client
	sess.Token = tok
	return nil
}

// oauthContext carries the base HTTP client for oauth2 calls.
func (e *Engine) oauthContext(ctx context.Context) context.Context {
	if e.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.cfg.HTTPClient)
}
