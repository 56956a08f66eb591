package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/logging"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"entities", "Tom &amp; Jerry &lt;3", "Tom & Jerry <3"},
		{"script and style dropped", "<style>p{color:red}</style><script>alert(1)</script><b>ok</b>", "ok"},
		{"head dropped", "<html><head><title>t</title></head><body>body</body></html>", "body"},
		{"whitespace collapsed", "<div>  a \n\t b  </div>", "a b"},
		{"line breaks", "one<br>two<br/>three", "one\ntwo\nthree"},
		{"unterminated", "<p>open <b>bold", "open bold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	err := ClassifyStatus(account.Gmail, "send", http.StatusUnauthorized, "", "invalid credentials")
	assert.ErrorIs(t, err, ErrCredentialsExpired)
	assert.False(t, IsRejected(err))

	err = ClassifyStatus(account.Outlook, "send", http.StatusBadRequest, "ErrorInvalidRecipients", "bad recipient")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "ErrorInvalidRecipients", pe.Code)
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "bad recipient")

	err = ClassifyStatus(account.Gmail, "send", http.StatusTooManyRequests, "rateLimitExceeded", "quota")
	assert.True(t, IsRejected(err))

	err = ClassifyStatus(account.Gmail, "read", http.StatusBadGateway, "", "upstream")
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, IsRejected(err))
}

func TestClassifyTransport(t *testing.T) {
	assert.NoError(t, ClassifyTransport(account.Gmail, "read", nil))

	err := ClassifyTransport(account.Gmail, "read", fmt.Errorf("Get: %w", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	assert.ErrorIs(t, err, ErrCredentialsExpired)

	err = ClassifyTransport(account.Gmail, "read", errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrTransport)

	err = ClassifyTransport(account.Gmail, "read", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTransport)
}

type flakyClient struct {
	err   error
	calls int
}

func (f *flakyClient) Account() string    { return "work" }
func (f *flakyClient) Kind() account.Kind { return account.Gmail }
func (f *flakyClient) Read(context.Context, int, string) ([]Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []Message{{ID: "1"}}, nil
}
func (f *flakyClient) Search(ctx context.Context, q string, limit int) ([]Message, error) {
	return f.Read(ctx, limit, q)
}
func (f *flakyClient) Send(context.Context, Outgoing) (string, error) { f.calls++; return "id", f.err }
func (f *flakyClient) MarkRead(context.Context, string) error { f.calls++; return f.err }
func (f *flakyClient) Profile(context.Context) (*Profile, error) {
	f.calls++
	return &Profile{Address: "me@example.com"}, f.err
}

func TestWithBreaker_PassesThrough(t *testing.T) {
	inner := &flakyClient{}
	c := WithBreaker(inner, logging.Discard())

	assert.Equal(t, "work", c.Account())
	assert.Equal(t, account.Gmail, c.Kind())

	msgs, err := c.Read(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	id, err := c.Send(context.Background(), Outgoing{To: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "id", id)

	require.NoError(t, c.MarkRead(context.Background(), "m1"))

	p, err := c.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", p.Address)
}

func TestWithBreaker_TripsOnTransportErrors(t *testing.T) {
	inner := &flakyClient{err: fmt.Errorf("boom: %w", ErrTransport)}
	c := WithBreaker(inner, logging.Discard())

	for i := 0; i < 5; i++ {
		_, err := c.Read(context.Background(), 1, "")
		require.ErrorIs(t, err, ErrTransport)
	}
	assert.Equal(t, 5, inner.calls)

	_, err := c.Read(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, inner.calls, "open breaker must not call the backend")
}

func TestWithBreaker_RejectionsDoNotTrip(t *testing.T) {
	inner := &flakyClient{err: &ProviderError{Provider: account.Gmail, Op: "send", StatusCode: 400}}
	c := WithBreaker(inner, logging.Discard())

	for i := 0; i < 10; i++ {
		_, err := c.Send(context.Background(), Outgoing{})
		require.True(t, IsRejected(err))
	}
	assert.Equal(t, 10, inner.calls)
}

func TestWithInstrumentation_Delegates(t *testing.T) {
	inner := &flakyClient{}
	c := WithInstrumentation(inner, nil)

	assert.Equal(t, "work", c.Account())
	msgs, err := c.Search(context.Background(), "from:me", 3)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	inner.err = &ProviderError{Provider: account.Gmail, Op: "send", StatusCode: 400}
	_, err = c.Send(context.Background(), Outgoing{To: "a@b.c"})
	assert.True(t, IsRejected(err))
	assert.Equal(t, 2, inner.calls)

	assert.True(t, IsRejected(c.MarkRead(context.Background(), "m1")))
	assert.Equal(t, 3, inner.calls)
}
