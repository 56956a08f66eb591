package lifecycle

import (
	"errors"
	"time"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/store"
)

// Status describes an account's credentials without changing anything.
type Status struct {
	Descriptor    account.Descriptor
	State         State
	Expiry        time.Time
	Refreshable   bool
	Scopes        []string
	MissingScopes []string
	// ConfigErr is set when the client configuration is missing or unusable.
	ConfigErr error
	// TokenErr is set when a token file exists but cannot be decoded.
	TokenErr error
}

// Status reports the token state of desc. It performs no network calls and
// writes nothing.
func (e *Engine) Status(desc account.Descriptor) *Status {
	st := &Status{Descriptor: desc}

	p, _, err := e.prepare(desc)
	if err != nil {
		st.ConfigErr = err
	}

	tok, err := e.store.GetToken(desc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		st.TokenErr = err
	}
	if tok != nil {
		st.Expiry = tok.Expiry
		st.Refreshable = tok.Refreshable()
		st.Scopes = tok.Scopes
	}

	var scopes ScopeChecker
	if p != nil {
		scopes = p
		if tok != nil && len(tok.Scopes) > 0 {
			st.MissingScopes = p.MissingScopes(tok.Scopes)
		}
	}
	st.State = Evaluate(tok, e.now(), DefaultSkew, scopes)
	return st
}

// Usable reports whether the account can be used without user interaction.
func (s *Status) Usable() bool {
	return s.ConfigErr == nil && (s.State == StateValid || s.State == StateExpiredRefreshable)
}
