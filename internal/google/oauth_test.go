package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/clawmail/internal/account"
)

func TestParseClientConfig(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantID    string
		wantToken string
		wantErr   bool
	}{
		{
			name:      "installed",
			data:      `{"installed":{"client_id":"cid","client_secret":"sec","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`,
			wantID:    "cid",
			wantToken: "https://oauth2.googleapis.com/token",
		},
		{
			name:      "web",
			data:      `{"web":{"client_id":"wid","client_secret":"sec","auth_uri":"https://a.example/auth","token_uri":"https://a.example/token","redirect_uris":["https://app.example/cb"]}}`,
			wantID:    "wid",
			wantToken: "https://a.example/token",
		},
		{
			name:      "flat",
			data:      `{"client_id":"fid","client_secret":"sec"}`,
			wantID:    "fid",
			wantToken: "https://oauth2.googleapis.com/token",
		},
		{
			name:    "empty object",
			data:    `{}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `nope`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := ParseClientConfig([]byte(tt.data), Scopes...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, conf.ClientID)
			assert.Equal(t, "sec", conf.ClientSecret)
			assert.Equal(t, tt.wantToken, conf.Endpoint.TokenURL)
			assert.Equal(t, "https://oauth2.googleapis.com/device/code", conf.Endpoint.DeviceAuthURL)
			assert.Empty(t, conf.RedirectURL)
			assert.Equal(t, Scopes, conf.Scopes)
		})
	}
}

func TestMissingScopes(t *testing.T) {
	tests := []struct {
		name    string
		granted []string
		want    []string
	}{
		{"requested set", Scopes, nil},
		{"full access", []string{FullAccessScope}, nil},
		{"modify implies read, send and labels", []string{gmail.GmailModifyScope}, nil},
		{"read only", []string{gmail.GmailReadonlyScope}, []string{gmail.GmailSendScope, gmail.GmailModifyScope, gmail.GmailLabelsScope}},
		{"read and send without modify", []string{gmail.GmailReadonlyScope, gmail.GmailSendScope}, []string{gmail.GmailModifyScope, gmail.GmailLabelsScope}},
		{"labels without modify", []string{gmail.GmailReadonlyScope, gmail.GmailSendScope, gmail.GmailLabelsScope}, []string{gmail.GmailModifyScope}},
		{"nothing", nil, Scopes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingScopes(tt.granted))
		})
	}
}

func TestProvider(t *testing.T) {
	p := NewProvider()
	assert.Equal(t, account.Gmail, p.Kind())
	assert.Equal(t, OOBRedirectURL, p.ManualRedirectURL())

	conf, err := p.OAuthConfig([]byte(`{"client_id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", conf.ClientID)
}

func TestParseClientConfig_InstalledWithoutRedirects(t *testing.T) {
	conf, err := ParseClientConfig([]byte(`{"installed":{"client_id":"cid","client_secret":"sec"}}`), Scopes...)
	require.NoError(t, err)
	assert.Equal(t, "cid", conf.ClientID)
	assert.Equal(t, "https://accounts.google.com/o/oauth2/auth", conf.Endpoint.AuthURL)
}
