package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Manual authorizes through an out-of-band redirect: the provider shows the
// code (or the user copies it from the final URL) and the user pastes it.
// No listener is involved, so the authorization URL and the code exchange
// may happen in different processes.
type Manual struct {
	Config *oauth2.Config
	// RedirectURL is the out-of-band redirect of the provider.
	RedirectURL string
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
}

// Name returns "manual".
func (m *Manual) Name() string { return NameManual }

// Initiate builds the authorization URL.
func (m *Manual) Initiate(context.Context) (*Pending, error) {
	conf := withRedirect(m.Config, m.RedirectURL)
	p := &Pending{
		Strategy:     NameManual,
		RedirectURL:  m.RedirectURL,
		state:        uuid.NewString(),
		Instructions: "Open the URL, approve access, then paste the authorization code (or the full redirect URL).",
	}
	p.AuthURL = conf.AuthCodeURL(p.state, authCodeOptions()...)
	return p, nil
}

// Complete exchanges the pasted code.
func (m *Manual) Complete(ctx context.Context, p *Pending, input string) (*oauth2.Token, error) {
	code, err := ExtractCode(input)
	if err != nil {
		return nil, fail(NameManual, StageExchange, err)
	}
	conf := withRedirect(m.Config, m.RedirectURL)
	tok, err := conf.Exchange(withHTTPClient(ctx, m.HTTPClient), code)
	if err != nil {
		return nil, fail(NameManual, StageExchange, err)
	}
	return tok, nil
}

// ExtractCode accepts either a bare authorization code or a redirect URL
// carrying a code (or error) query parameter.
func ExtractCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("no authorization code provided")
	}
	if !strings.Contains(input, "code=") && !strings.Contains(input, "error=") {
		return input, nil
	}

	raw := input
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "", fmt.Errorf("could not parse redirect URL: %w", err)
	}
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("%w: %s", ErrDenied, e)
	}
	if code := q.Get("code"); code != "" {
		return code, nil
	}
	return "", errors.New("redirect URL carries no authorization code")
}
