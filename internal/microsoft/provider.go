package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/outlook"
)

const (
	graphScopePrefix = "https://graph.microsoft.com/"
	// NativeClientRedirectURL is the redirect registered for public desktop
	// clients; used for manual code entry.
	NativeClientRedirectURL = "https://login.microsoftonline.com/common/oauth2/nativeclient"
)

// Scopes are requested when authorizing an Outlook account.
var Scopes = []string{
	graphScopePrefix + "Mail.ReadWrite",
	graphScopePrefix + "Mail.Send",
	graphScopePrefix + "User.Read",
	"offline_access",
}

// requiredScopes are compared after normalisation; offline_access is not
// echoed back in token responses and is therefore not required.
// Mail.ReadWrite covers reading and marking messages read.
var requiredScopes = []string{"mail.readwrite", "mail.send"}

type clientConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Tenant       string `json:"tenant"`
	TenantID     string `json:"tenant_id"`
}

// Provider is the Outlook provider plug-in.
type Provider struct {
	// Tenant is used when a client configuration does not name one.
	Tenant string
	// Endpoint overrides the Azure AD endpoint derived from the tenant.
	Endpoint *oauth2.Endpoint
	// GraphURL overrides the Graph API root.
	GraphURL string
}

// NewProvider returns the Outlook provider plug-in for the default tenant.
func NewProvider(tenant string) *Provider {
	if tenant == "" {
		tenant = "common"
	}
	return &Provider{Tenant: tenant}
}

// Kind returns account.Outlook.
func (p *Provider) Kind() account.Kind { return account.Outlook }

// OAuthConfig parses an Outlook client configuration.
func (p *Provider) OAuthConfig(data []byte) (*oauth2.Config, error) {
	var cc clientConfig
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	if cc.ClientID == "" {
		return nil, errors.New("client configuration has no client_id")
	}

	tenant := p.Tenant
	switch {
	case cc.Tenant != "":
		tenant = cc.Tenant
	case cc.TenantID != "":
		tenant = cc.TenantID
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	if p.Endpoint != nil {
		endpoint = *p.Endpoint
	}
	if endpoint.DeviceAuthURL == "" && p.Endpoint == nil {
		endpoint.DeviceAuthURL = "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/devicecode"
	}
	// public clients have no secret; send credentials in the body so an
	// empty secret is simply omitted
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &oauth2.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       append([]string(nil), Scopes...),
	}, nil
}

// NormalizeScope strips the Graph resource prefix and lowercases a scope.
func NormalizeScope(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(graphScopePrefix) && strings.EqualFold(s[:len(graphScopePrefix)], graphScopePrefix) {
		s = s[len(graphScopePrefix):]
	}
	return strings.ToLower(s)
}

// MissingScopes returns the required Graph scopes absent from granted.
func (p *Provider) MissingScopes(granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[NormalizeScope(s)] = true
	}
	var missing []string
	for _, s := range requiredScopes {
		if !have[s] && !have[s+".shared"] {
			missing = append(missing, s)
		}
	}
	return missing
}

// ManualRedirectURL returns the native client redirect.
func (p *Provider) ManualRedirectURL() string { return NativeClientRedirectURL }

// NewClient builds an Outlook client over an authorized HTTP client.
func (p *Provider) NewClient(_ context.Context, accountID string, httpClient *http.Client) (mail.Client, error) {
	return outlook.New(accountID, httpClient, p.GraphURL), nil
}
