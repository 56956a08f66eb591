package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/auth"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/settings"
	"github.com/teemow/clawmail/internal/store"
)

// provider is a fake token endpoint plus a fake profile API.
type provider struct {
	mu        sync.Mutex
	srv       *httptest.Server
	refreshes int
	exchanges int
	// profileStatus is returned by /profile when non-zero.
	profileStatus int
	// bearers records the Authorization headers seen by /profile.
	bearers []string
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/token":
		_ = r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			p.refreshes++
			if r.PostForm.Get("refresh_token") != "good-refresh" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been revoked."}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"refreshed-at","token_type":"Bearer","expires_in":3600}`)
		case "authorization_code":
			p.exchanges++
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":"invalid_grant"}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"minted-at","refresh_token":"good-refresh","token_type":"Bearer","expires_in":3600,"scope":"mail.read mail.send"}`)
		}
	case "/profile":
		p.bearers = append(p.bearers, r.Header.Get("Authorization"))
		if p.profileStatus != 0 {
			w.WriteHeader(p.profileStatus)
			fmt.Fprint(w, `{"error":"nope"}`)
			return
		}
		fmt.Fprint(w, `{"address":"me@example.com"}`)
	default:
		http.NotFound(w, r)
	}
}

func (p *provider) counts() (refreshes, exchanges int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes, p.exchanges
}

func (p *provider) Kind() account.Kind { return account.Gmail }

func (p *provider) OAuthConfig(data []byte) (*oauth2.Config, error) {
	var cc struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(data, &cc); err != nil {
		return nil, err
	}
	if cc.ClientID == "" {
		return nil, fmt.Errorf("client_id missing")
	}
	return &oauth2.Config{
		ClientID: cc.ClientID,
		Scopes:   []string{"mail.read", "mail.send"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://auth.example/authorize",
			TokenURL:  p.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func (p *provider) MissingScopes(granted []string) []string {
	if slices.Contains(granted, "mail.read") {
		return nil
	}
	return []string{"mail.read"}
}

func (p *provider) ManualRedirectURL() string { return "urn:ietf:wg:oauth:2.0:oob" }

func (p *provider) NewClient(_ context.Context, id string, hc *http.Client) (mail.Client, error) {
	return &profileClient{id: id, hc: hc, url: p.srv.URL + "/profile"}, nil
}

// profileClient only implements Profile against the fake API.
type profileClient struct {
	id  string
	hc  *http.Client
	url string
}

func (c *profileClient) Account() string    { return c.id }
func (c *profileClient) Kind() account.Kind { return account.Gmail }
func (c *profileClient) Read(context.Context, int, string) ([]mail.Message, error) {
	return nil, nil
}
func (c *profileClient) Search(context.Context, string, int) ([]mail.Message, error) {
	return nil, nil
}
func (c *profileClient) Send(context.Context, mail.Outgoing) (string, error) { return "", nil }
func (c *profileClient) MarkRead(context.Context, string) error { return nil }
func (c *profileClient) Profile(ctx context.Context) (*mail.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, mail.ClassifyTransport(account.Gmail, "profile", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, mail.ClassifyStatus(account.Gmail, "profile", resp.StatusCode, "", "profile failed")
	}
	var p mail.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// scripted is a strategy returning a fixed outcome.
type scripted struct {
	calls int
	tok   *oauth2.Token
	err   error
}

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) Initiate(context.Context) (*auth.Pending, error) {
	return &auth.Pending{Strategy: "scripted", AuthURL: "https://auth.example/authorize"}, nil
}
func (s *scripted) Complete(context.Context, *auth.Pending, string) (*oauth2.Token, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tok, nil
}

// recorder is an Interactor that answers with a fixed input.
type recorder struct {
	presented []string
	input     string
}

func (r *recorder) Present(_ context.Context, desc account.Descriptor, p *auth.Pending) error {
	r.presented = append(r.presented, desc.ID+" "+p.AuthURL)
	return nil
}

func (r *recorder) Input(context.Context, account.Descriptor, *auth.Pending) (string, error) {
	return r.input, nil
}

type fixture struct {
	store    *store.Store
	provider *provider
	strategy *scripted
	ui       *recorder
	engine   *Engine
	desc     account.Descriptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, st.PutConfig("account1", account.Gmail, []byte(`{"client_id":"cid"}`)))
	desc, err := st.Lookup("account1")
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		provider: newProvider(t),
		strategy: &scripted{tok: &oauth2.Token{AccessToken: "minted-at", RefreshToken: "good-refresh", Expiry: time.Now().Add(time.Hour)}},
		ui:       &recorder{},
		desc:     desc,
	}
	f.engine = New(st, []Provider{f.provider}, Config{
		Settings:   settings.Default(),
		Interactor: f.ui,
		Strategy: func(account.Descriptor, *oauth2.Config) (auth.Strategy, error) {
			return f.strategy, nil
		},
		Logger: logging.Discard(),
	})
	return f
}

func (f *fixture) putToken(t *testing.T, tok *store.Token) {
	t.Helper()
	require.NoError(t, f.store.PutToken(f.desc.ID, tok))
}

func (f *fixture) storedToken(t *testing.T) *store.Token {
	t.Helper()
	tok, err := f.store.GetToken(f.desc.ID)
	require.NoError(t, err)
	return tok
}

// breakTokenWrites makes every later PutToken fail by putting a directory
// where the store keeps its lock file.
func (f *fixture) breakTokenWrites(t *testing.T) {
	t.Helper()
	lock := filepath.Join(f.store.Dir(), ".tokens.lock")
	require.NoError(t, os.RemoveAll(lock))
	require.NoError(t, os.Mkdir(lock, 0o700))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
