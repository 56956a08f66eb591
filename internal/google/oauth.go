package google

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OOBRedirectURL is the out-of-band redirect used for manual code entry.
const OOBRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

// flatConfig is the minimal {client_id, client_secret} shape.
type flatConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// ParseClientConfig parses a Google OAuth client configuration in the
// "installed", "web" or flat shape. The returned config requests scopes and
// has no redirect URL; strategies set their own.
func ParseClientConfig(data []byte, scopes ...string) (*oauth2.Config, error) {
	conf, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		conf, err = parseFlat(data, scopes)
		if err != nil {
			return nil, err
		}
	}
	if conf.ClientID == "" {
		return nil, errors.New("client configuration has no client_id")
	}
	if conf.Endpoint.DeviceAuthURL == "" {
		conf.Endpoint.DeviceAuthURL = google.Endpoint.DeviceAuthURL
	}
	conf.RedirectURL = ""
	return conf, nil
}

// parseFlat handles the flat shape, and nested shapes that lack the
// redirect_uris google.ConfigFromJSON insists on.
func parseFlat(data []byte, scopes []string) (*oauth2.Config, error) {
	var doc struct {
		flatConfig
		Installed *flatConfig `json:"installed"`
		Web       *flatConfig `json:"web"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	fc := doc.flatConfig
	switch {
	case doc.Installed != nil:
		fc = *doc.Installed
	case doc.Web != nil:
		fc = *doc.Web
	}
	if fc.ClientID == "" {
		return nil, errors.New(`client configuration must contain "installed", "web" or a top-level client_id`)
	}

	endpoint := google.Endpoint
	if fc.AuthURI != "" {
		endpoint.AuthURL = fc.AuthURI
	}
	if fc.TokenURI != "" {
		endpoint.TokenURL = fc.TokenURI
	}
	return &oauth2.Config{
		ClientID:     fc.ClientID,
		ClientSecret: fc.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}, nil
}
