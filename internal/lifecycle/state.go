package lifecycle

import (
	"time"

	"github.com/teemow/clawmail/internal/store"
)

// DefaultSkew treats tokens this close to expiry as expired.
const DefaultSkew = time.Minute

// State classifies a stored token.
type State string

const (
	StateNoToken            State = "no_token"
	StateValid              State = "valid"
	StateExpiredRefreshable State = "expired_refreshable"
	StateDead               State = "dead"
)

// ScopeChecker reports the required scopes a grant lacks.
type ScopeChecker interface {
	MissingScopes(granted []string) []string
}

// Evaluate classifies tok at now. A token whose recorded scopes miss a
// required scope is Dead, since refreshing cannot widen a grant. Tokens
// without recorded scopes are not judged on scope. A token without an
// expiry is never Valid.
func Evaluate(tok *store.Token, now time.Time, skew time.Duration, scopes ScopeChecker) State {
	if tok == nil {
		return StateNoToken
	}
	if len(tok.Scopes) > 0 && scopes != nil && len(scopes.MissingScopes(tok.Scopes)) > 0 {
		return StateDead
	}
	if tok.AccessToken != "" && !tok.Expiry.IsZero() && now.Before(tok.Expiry.Add(-skew)) {
		return StateValid
	}
	if tok.Refreshable() {
		return StateExpiredRefreshable
	}
	return StateDead
}
