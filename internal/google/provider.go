package google

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/gmail"
	"github.com/teemow/clawmail/internal/mail"
)

// Provider is the Gmail provider plug-in.
type Provider struct {
	// ClientOptions are appended when constructing Gmail services.
	ClientOptions []option.ClientOption
}

// NewProvider returns the Gmail provider plug-in.
func NewProvider(opts ...option.ClientOption) *Provider {
	return &Provider{ClientOptions: opts}
}

// Kind returns account.Gmail.
func (p *Provider) Kind() account.Kind { return account.Gmail }

// OAuthConfig parses a Gmail client configuration.
func (p *Provider) OAuthConfig(clientConfig []byte) (*oauth2.Config, error) {
	return ParseClientConfig(clientConfig, Scopes...)
}

// MissingScopes returns the required Gmail scopes absent from granted.
func (p *Provider) MissingScopes(granted []string) []string {
	return MissingScopes(granted)
}

// ManualRedirectURL returns the out-of-band redirect.
func (p *Provider) ManualRedirectURL() string { return OOBRedirectURL }

// NewClient builds a Gmail client over an authorized HTTP client.
func (p *Provider) NewClient(ctx context.Context, accountID string, httpClient *http.Client) (mail.Client, error) {
	return gmail.New(ctx, accountID, httpClient, p.ClientOptions...)
}
