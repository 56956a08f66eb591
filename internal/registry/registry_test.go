package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/lifecycle"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/store"
)

type staticDiscoverer struct {
	disc *store.Discovery
	err  error
}

func (s *staticDiscoverer) Discover() (*store.Discovery, error) { return s.disc, s.err }

// stampingDiscoverer reports per-account file stamps.
type stampingDiscoverer struct {
	staticDiscoverer
	stamps   map[string]store.Stamp
	stampErr error
}

func (s *stampingDiscoverer) Stamp(d account.Descriptor) (store.Stamp, error) {
	if s.stampErr != nil {
		return store.Stamp{}, s.stampErr
	}
	return s.stamps[d.ID], nil
}

func descs(ids ...string) []account.Descriptor {
	var out []account.Descriptor
	for _, id := range ids {
		kind := account.Gmail
		if id == "outlook" || id == "office" {
			kind = account.Outlook
		}
		out = append(out, account.Descriptor{ID: id, Kind: kind, ConfigFile: account.ConfigFilename(id, kind)})
	}
	return out
}

// fakeClient fails with failErr the first failures times.
type fakeClient struct {
	id       string
	kind     account.Kind
	gen      int
	failures int
	failErr  error
	calls    int
	marked   []string
}

func (c *fakeClient) Account() string    { return c.id }
func (c *fakeClient) Kind() account.Kind { return c.kind }
func (c *fakeClient) Read(context.Context, int, string) ([]mail.Message, error) {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return nil, c.failErr
	}
	return []mail.Message{{ID: fmt.Sprintf("%s-gen%d", c.id, c.gen)}}, nil
}
func (c *fakeClient) Search(ctx context.Context, q string, limit int) ([]mail.Message, error) {
	return c.Read(ctx, limit, q)
}
func (c *fakeClient) Send(context.Context, mail.Outgoing) (string, error) {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return "", c.failErr
	}
	return "sent", nil
}
func (c *fakeClient) MarkRead(_ context.Context, id string) error {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return c.failErr
	}
	c.marked = append(c.marked, fmt.Sprintf("%s@gen%d", id, c.gen))
	return nil
}
func (c *fakeClient) Profile(context.Context) (*mail.Profile, error) { return &mail.Profile{}, nil }

type fakeEngine struct {
	mu       sync.Mutex
	fail     map[string]error
	acquired []string
	renewed  []string
	renewErr error
	// first is the client handed out by Acquire.
	first map[string]*fakeClient
}

func (e *fakeEngine) session(desc account.Descriptor, gen int) *lifecycle.Session {
	c := &fakeClient{id: desc.ID, kind: desc.Kind, gen: gen}
	if gen == 1 && e.first != nil {
		if preset, ok := e.first[desc.ID]; ok {
			c = preset
		}
	}
	return &lifecycle.Session{Descriptor: desc, Client: c, Entry: lifecycle.StateValid}
}

func (e *fakeEngine) Acquire(_ context.Context, desc account.Descriptor) (*lifecycle.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acquired = append(e.acquired, desc.ID)
	if err := e.fail[desc.ID]; err != nil {
		return nil, &lifecycle.AccountError{Account: desc.ID, Provider: desc.Kind, Err: err}
	}
	return e.session(desc, 1), nil
}

func (e *fakeEngine) Renew(_ context.Context, desc account.Descriptor) (*lifecycle.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renewed = append(e.renewed, desc.ID)
	if e.renewErr != nil {
		return nil, e.renewErr
	}
	return e.session(desc, 2), nil
}

func TestBuild_OmitsFailedAccounts(t *testing.T) {
	disc := &staticDiscoverer{disc: &store.Discovery{
		Accounts: descs("account1", "account2", "outlook"),
		Problems: []store.Problem{{File: "gmail_weird.json", Err: &account.NameError{File: "gmail_weird.json", Kind: account.Gmail}}},
	}}
	engine := &fakeEngine{fail: map[string]error{
		"account2": lifecycle.ErrVerificationFailed,
		"outlook":  lifecycle.ErrReauthRequired,
	}}

	reg, report := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})

	assert.Equal(t, []string{"account1", "account2", "outlook"}, engine.acquired, "accounts are processed in discovery order")
	assert.Equal(t, []string{"account1"}, reg.Accounts())
	assert.Equal(t, 1, reg.Len())

	assert.Equal(t, 1, report.Ready())
	assert.False(t, report.OK())
	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "account2", failed[0].ID)
	assert.Equal(t, "outlook", failed[1].ID)
	assert.Equal(t, lifecycle.RemedyReauthenticate, failed[1].Remedy)

	err := report.Err()
	assert.ErrorIs(t, err, lifecycle.ErrVerificationFailed)
	assert.ErrorIs(t, err, lifecycle.ErrReauthRequired)
	var nameErr *account.NameError
	assert.True(t, errors.As(err, &nameErr))

	_, err = reg.Resolve("account2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuild_DiscoveryFailure(t *testing.T) {
	reg, report := Build(context.Background(), &staticDiscoverer{err: errors.New("permission denied")}, &fakeEngine{}, Options{Logger: logging.Discard()})
	assert.Zero(t, reg.Len())
	assert.False(t, report.OK())
	assert.EqualError(t, report.Err(), "permission denied")
}

func TestBuild_Only(t *testing.T) {
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1", "account2", "outlook", "work")}}
	engine := &fakeEngine{}

	reg, report := Build(context.Background(), disc, engine, Options{
		Only:     []string{"WORK", "outlook", "missing"},
		Defaults: nil,
		Logger:   logging.Discard(),
	})

	assert.Equal(t, []string{"outlook", "work"}, engine.acquired)
	assert.Equal(t, []string{"outlook", "work"}, reg.Accounts())

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "missing", failed[0].ID)
	assert.ErrorIs(t, failed[0].Err, ErrNotFound)
	assert.Equal(t, lifecycle.RemedyReconfigure, failed[0].Remedy)
}

func TestBuild_OnlyProviderDefault(t *testing.T) {
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1", "account2")}}
	engine := &fakeEngine{}

	_, report := Build(context.Background(), disc, engine, Options{
		Only:     []string{"gmail"},
		Defaults: map[account.Kind]string{account.Gmail: "account2"},
		Logger:   logging.Discard(),
	})
	assert.True(t, report.OK())
	assert.Equal(t, []string{"account2"}, engine.acquired)
}

func TestResolve(t *testing.T) {
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1", "account2", "office")}}

	tests := []struct {
		name       string
		defaults   map[account.Kind]string
		identifier string
		want       string
		wantErr    bool
	}{
		{"exact id", nil, "account1", "account1", false},
		{"case insensitive", nil, "Account2", "account2", false},
		{"provider without default", nil, "gmail", "", true},
		{"provider with default", map[account.Kind]string{account.Gmail: "account2"}, "gmail", "account2", false},
		{"default of another provider", map[account.Kind]string{account.Outlook: "account1"}, "outlook", "", true},
		{"outlook default", map[account.Kind]string{account.Outlook: "office"}, "outlook", "office", false},
		{"nonexistent", nil, "nonexistent", "", true},
		{"empty", nil, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := Build(context.Background(), disc, &fakeEngine{}, Options{Defaults: tt.defaults, Logger: logging.Discard()})

			c, err := reg.Resolve(tt.identifier)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Account())
		})
	}
}

func TestResolve_BareProviderAccount(t *testing.T) {
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1", "gmail")}}
	reg, _ := Build(context.Background(), disc, &fakeEngine{}, Options{Logger: logging.Discard()})

	c, err := reg.Resolve("gmail")
	require.NoError(t, err)
	assert.Equal(t, "gmail", c.Account())

	d, ok := reg.Descriptor("GMAIL")
	require.True(t, ok)
	assert.Equal(t, "gmail_credentials.json", d.ConfigFile)
}

func TestSessionClient_RenewsOnce(t *testing.T) {
	expired := fmt.Errorf("gmail read: %w", mail.ErrCredentialsExpired)
	first := &fakeClient{id: "account1", kind: account.Gmail, gen: 1, failures: 1, failErr: expired}
	engine := &fakeEngine{first: map[string]*fakeClient{"account1": first}}
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1")}}

	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})
	c, err := reg.Resolve("account1")
	require.NoError(t, err)

	msgs, err := c.Read(context.Background(), 5, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "account1-gen2", msgs[0].ID)
	assert.Equal(t, []string{"account1"}, engine.renewed)

	// the renewed client stays in use
	msgs, err = c.Read(context.Background(), 5, "")
	require.NoError(t, err)
	assert.Equal(t, "account1-gen2", msgs[0].ID)
	assert.Len(t, engine.renewed, 1)
}

func TestSessionClient_MarkReadRenews(t *testing.T) {
	expired := fmt.Errorf("outlook mark_read: %w", mail.ErrCredentialsExpired)
	first := &fakeClient{id: "office", kind: account.Outlook, gen: 1, failures: 1, failErr: expired}
	engine := &fakeEngine{first: map[string]*fakeClient{"office": first}}
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("office")}}

	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})
	c, err := reg.Resolve("office")
	require.NoError(t, err)

	require.NoError(t, c.MarkRead(context.Background(), "m1"))
	assert.Equal(t, 1, first.calls)
	assert.Empty(t, first.marked)
	assert.Equal(t, []string{"office"}, engine.renewed)
}

func TestSessionClient_RenewalFailure(t *testing.T) {
	expired := fmt.Errorf("gmail send: %w", mail.ErrCredentialsExpired)
	first := &fakeClient{id: "account1", kind: account.Gmail, gen: 1, failures: 5, failErr: expired}
	engine := &fakeEngine{
		first:    map[string]*fakeClient{"account1": first},
		renewErr: lifecycle.ErrReauthRequired,
	}
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1")}}

	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})
	c, err := reg.Resolve("account1")
	require.NoError(t, err)

	_, err = c.Send(context.Background(), mail.Outgoing{To: "a@example.com", Body: "hi"})
	assert.ErrorIs(t, err, mail.ErrCredentialsExpired)
	assert.ErrorIs(t, err, lifecycle.ErrReauthRequired)
	assert.Equal(t, 1, first.calls, "no retry without renewed credentials")
}

func TestSessionClient_OtherErrorsPassThrough(t *testing.T) {
	rejected := &mail.ProviderError{Provider: account.Gmail, Op: "send", StatusCode: 400}
	first := &fakeClient{id: "account1", kind: account.Gmail, gen: 1, failures: 1, failErr: rejected}
	engine := &fakeEngine{first: map[string]*fakeClient{"account1": first}}
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1")}}

	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})
	c, _ := reg.Resolve("account1")

	_, err := c.Send(context.Background(), mail.Outgoing{})
	assert.True(t, mail.IsRejected(err))
	assert.Empty(t, engine.renewed)
}

func TestReload(t *testing.T) {
	disc := &staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1", "account2")}}
	engine := &fakeEngine{}

	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})
	before, err := reg.Resolve("account1")
	require.NoError(t, err)

	disc.disc = &store.Discovery{Accounts: descs("account1", "work")}
	report := reg.Reload(context.Background())

	assert.Equal(t, []string{"account1", "account2", "work"}, engine.acquired, "unchanged accounts are not acquired again")
	assert.Equal(t, []string{"account1", "work"}, reg.Accounts())
	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Outcomes[0].Reused)

	after, err := reg.Resolve("account1")
	require.NoError(t, err)
	assert.Same(t, before, after)

	_, err = reg.Resolve("account2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReload_ChangedFilesReacquire(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	disc := &stampingDiscoverer{
		staticDiscoverer: staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1", "account2")}},
		stamps: map[string]store.Stamp{
			"account1": {Config: base, Token: base},
			"account2": {Config: base, Token: base},
		},
	}
	engine := &fakeEngine{}
	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})
	before1, err := reg.Resolve("account1")
	require.NoError(t, err)
	before2, err := reg.Resolve("account2")
	require.NoError(t, err)

	// token of account1 rewritten by another process
	disc.stamps["account1"] = store.Stamp{Config: base, Token: base.Add(time.Minute)}
	report := reg.Reload(context.Background())

	assert.Equal(t, []string{"account1", "account2", "account1"}, engine.acquired)
	require.Len(t, report.Outcomes, 2)
	assert.False(t, report.Outcomes[0].Reused)
	assert.True(t, report.Outcomes[1].Reused)

	after1, err := reg.Resolve("account1")
	require.NoError(t, err)
	assert.NotSame(t, before1, after1)
	after2, err := reg.Resolve("account2")
	require.NoError(t, err)
	assert.Same(t, before2, after2)

	// the new stamp sticks: a further reload reuses both
	reg.Reload(context.Background())
	assert.Len(t, engine.acquired, 3)

	// replaced client configuration
	disc.stamps["account2"] = store.Stamp{Config: base.Add(time.Hour), Token: base}
	reg.Reload(context.Background())
	assert.Equal(t, []string{"account1", "account2", "account1", "account2"}, engine.acquired)
}

func TestReload_StampFailureReacquires(t *testing.T) {
	disc := &stampingDiscoverer{staticDiscoverer: staticDiscoverer{disc: &store.Discovery{Accounts: descs("account1")}}}
	engine := &fakeEngine{}
	reg, _ := Build(context.Background(), disc, engine, Options{Logger: logging.Discard()})

	disc.stampErr = errors.New("permission denied")
	report := reg.Reload(context.Background())

	require.Len(t, report.Outcomes, 1)
	assert.False(t, report.Outcomes[0].Reused)
	assert.Equal(t, []string{"account1", "account1"}, engine.acquired)
}
