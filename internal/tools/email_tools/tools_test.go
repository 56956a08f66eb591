package email_tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/dispatch"
	"github.com/teemow/clawmail/internal/mail"
)

type sendCall struct {
	id, to, subject, body, html string
}

type fakeMailer struct {
	messages  []mail.Message
	err       error
	send      *dispatch.SendResult
	lastID    string
	lastLimit int
	lastQuery string
	sent      []sendCall
	marked    []string
}

func (f *fakeMailer) Read(_ context.Context, id string, limit int, filter string) ([]mail.Message, error) {
	f.lastID, f.lastLimit, f.lastQuery = id, limit, filter
	return f.messages, f.err
}

func (f *fakeMailer) Search(_ context.Context, id, query string, limit int) ([]mail.Message, error) {
	f.lastID, f.lastLimit, f.lastQuery = id, limit, query
	return f.messages, f.err
}

func (f *fakeMailer) Send(_ context.Context, id, to, subject, body, html string) (*dispatch.SendResult, error) {
	f.sent = append(f.sent, sendCall{id, to, subject, body, html})
	if f.err != nil {
		return nil, f.err
	}
	if f.send != nil {
		return f.send, nil
	}
	return &dispatch.SendResult{OK: true, Account: id, MessageID: "m-1"}, nil
}

func (f *fakeMailer) MarkRead(_ context.Context, id, msgID string) error {
	f.lastID = id
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, msgID)
	return nil
}

type fakeDirectory []account.Descriptor

func (d fakeDirectory) Accounts() []string {
	var ids []string
	for _, desc := range d {
		ids = append(ids, desc.ID)
	}
	return ids
}

func (d fakeDirectory) Descriptor(id string) (account.Descriptor, bool) {
	for _, desc := range d {
		if desc.ID == id {
			return desc, true
		}
	}
	return account.Descriptor{}, false
}

var oneAccount = fakeDirectory{{ID: "account1", Kind: account.Gmail}}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("expected content in the result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func TestRegisterEmailTools(t *testing.T) {
	tests := []struct {
		name     string
		readOnly bool
		want     []string
	}{
		{name: "read-write", want: []string{"email_accounts", "email_read", "email_search", "email_send", "email_mark_read"}},
		{name: "read-only", readOnly: true, want: []string{"email_accounts", "email_read", "email_search"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mcpserver.NewMCPServer("test", "0.0.0", mcpserver.WithToolCapabilities(true))
			if err := RegisterEmailTools(s, Deps{Mailer: &fakeMailer{}, Directory: oneAccount}, tt.readOnly); err != nil {
				t.Fatalf("RegisterEmailTools() error = %v", err)
			}
			tools := s.ListTools()
			if len(tools) != len(tt.want) {
				t.Errorf("registered %d tools, want %d", len(tools), len(tt.want))
			}
			for _, name := range tt.want {
				if _, ok := tools[name]; !ok {
					t.Errorf("tool %s not registered", name)
				}
			}
		})
	}

	s := mcpserver.NewMCPServer("test", "0.0.0")
	if err := RegisterEmailTools(s, Deps{}, false); err == nil {
		t.Error("expected an error without a mailer")
	}
}

func TestHandleAccounts(t *testing.T) {
	deps := Deps{Mailer: &fakeMailer{}, Directory: fakeDirectory{
		{ID: "account1", Kind: account.Gmail},
		{ID: "outlook", Kind: account.Outlook},
	}}

	res, err := handleAccounts(deps)
	if err != nil {
		t.Fatalf("handleAccounts() error = %v", err)
	}
	var got []accountInfo
	if err := json.Unmarshal([]byte(text(t, res)), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	want := []accountInfo{{ID: "account1", Provider: "gmail"}, {ID: "outlook", Provider: "outlook"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("account %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestHandleRead(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		dir       fakeDirectory
		args      map[string]any
		err       error
		wantError string
		wantID    string
		wantLimit int
	}{
		{
			name:      "defaults",
			dir:       oneAccount,
			args:      map[string]any{},
			wantID:    "account1",
			wantLimit: defaultLimit,
		},
		{
			name:      "explicit account and limit",
			dir:       fakeDirectory{{ID: "account1", Kind: account.Gmail}, {ID: "account2", Kind: account.Gmail}},
			args:      map[string]any{"account": "account2", "limit": float64(3), "filter": "is:unread"},
			wantID:    "account2",
			wantLimit: 3,
		},
		{
			name:      "limit capped",
			dir:       oneAccount,
			args:      map[string]any{"limit": float64(5000)},
			wantID:    "account1",
			wantLimit: maxLimit,
		},
		{
			name:      "invalid limit",
			dir:       oneAccount,
			args:      map[string]any{"limit": float64(0)},
			wantError: "'limit' must be greater than zero",
		},
		{
			name:      "ambiguous account",
			dir:       fakeDirectory{{ID: "account1", Kind: account.Gmail}, {ID: "account2", Kind: account.Gmail}},
			args:      map[string]any{},
			wantError: "'account' is required",
		},
		{
			name:      "read failure",
			dir:       oneAccount,
			args:      map[string]any{},
			err:       errors.New("account not found"),
			wantError: "Failed to read emails from account1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMailer{err: tt.err, messages: []mail.Message{{ID: "1", Subject: "Hi", Timestamp: ts}}}
			res, err := handleRead(context.Background(), call(tt.args), Deps{Mailer: m, Directory: tt.dir})
			if err != nil {
				t.Fatalf("handleRead() error = %v", err)
			}
			if tt.wantError != "" {
				if !res.IsError || !strings.Contains(text(t, res), tt.wantError) {
					t.Errorf("expected error result containing %q, got %q", tt.wantError, text(t, res))
				}
				return
			}
			if res.IsError {
				t.Fatalf("unexpected error result: %s", text(t, res))
			}
			if m.lastID != tt.wantID || m.lastLimit != tt.wantLimit {
				t.Errorf("read(%q, %d), want (%q, %d)", m.lastID, m.lastLimit, tt.wantID, tt.wantLimit)
			}
			var msgs []mail.Message
			if err := json.Unmarshal([]byte(text(t, res)), &msgs); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if len(msgs) != 1 || msgs[0].Subject != "Hi" {
				t.Errorf("unexpected messages %+v", msgs)
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	m := &fakeMailer{}
	deps := Deps{Mailer: m, Directory: oneAccount}

	res, err := handleSearch(context.Background(), call(map[string]any{}), deps)
	if err != nil {
		t.Fatalf("handleSearch() error = %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result without a query")
	}

	res, err = handleSearch(context.Background(), call(map[string]any{"query": "from:bob", "limit": float64(2)}), deps)
	if err != nil {
		t.Fatalf("handleSearch() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", text(t, res))
	}
	if m.lastQuery != "from:bob" || m.lastLimit != 2 {
		t.Errorf("search(%q, %d), want (from:bob, 2)", m.lastQuery, m.lastLimit)
	}
}

func TestHandleSend(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		result    *dispatch.SendResult
		err       error
		wantError string
		wantTo    string
	}{
		{
			name:   "success",
			args:   map[string]any{"to": "a@example.com, b@example.com", "subject": "Hi", "body": "Hello"},
			wantTo: "a@example.com, b@example.com",
		},
		{
			name:   "html only",
			args:   map[string]any{"to": "a@example.com", "subject": "Hi", "html": "<p>Hello</p>"},
			wantTo: "a@example.com",
		},
		{
			name:      "missing recipient",
			args:      map[string]any{"subject": "Hi", "body": "Hello"},
			wantError: "'to' field is required",
		},
		{
			name:      "missing subject",
			args:      map[string]any{"to": "a@example.com", "body": "Hello"},
			wantError: "'subject' field is required",
		},
		{
			name:      "missing body",
			args:      map[string]any{"to": "a@example.com", "subject": "Hi"},
			wantError: "either 'body' or 'html' is required",
		},
		{
			name:      "provider rejection",
			args:      map[string]any{"to": "nobody", "subject": "Hi", "body": "Hello"},
			result:    &dispatch.SendResult{Account: "account1", Error: "gmail send rejected (400): Invalid To header"},
			wantError: "Invalid To header",
		},
		{
			name:      "transport failure",
			args:      map[string]any{"to": "a@example.com", "subject": "Hi", "body": "Hello"},
			err:       mail.ErrTransport,
			wantError: "Failed to send email from account1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMailer{send: tt.result, err: tt.err}
			res, err := handleSend(context.Background(), call(tt.args), Deps{Mailer: m, Directory: oneAccount})
			if err != nil {
				t.Fatalf("handleSend() error = %v", err)
			}
			if tt.wantError != "" {
				if !res.IsError || !strings.Contains(text(t, res), tt.wantError) {
					t.Errorf("expected error result containing %q, got %q", tt.wantError, text(t, res))
				}
				return
			}
			if res.IsError {
				t.Fatalf("unexpected error result: %s", text(t, res))
			}
			if len(m.sent) != 1 || m.sent[0].to != tt.wantTo {
				t.Errorf("sent %+v, want recipient %q", m.sent, tt.wantTo)
			}
			if !strings.Contains(text(t, res), "Message ID: m-1") {
				t.Errorf("unexpected result text %q", text(t, res))
			}
		})
	}
}

func TestHandleMarkRead(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		err       error
		wantError string
		wantText  string
	}{
		{
			name:     "marks message",
			args:     map[string]any{"id": "m1"},
			wantText: "Email m1 marked as read in account1",
		},
		{
			name:      "missing id",
			args:      map[string]any{"id": "  "},
			wantError: "'id' field is required",
		},
		{
			name:      "provider failure",
			args:      map[string]any{"id": "gone"},
			err:       errors.New("gmail mark_read rejected (404)"),
			wantError: "Failed to mark email gone as read in account1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMailer{err: tt.err}
			res, err := handleMarkRead(context.Background(), call(tt.args), Deps{Mailer: m, Directory: oneAccount})
			if err != nil {
				t.Fatalf("handleMarkRead() error = %v", err)
			}
			got := text(t, res)
			if tt.wantError != "" {
				if !res.IsError || !strings.Contains(got, tt.wantError) {
					t.Errorf("got %q (error=%v), want error containing %q", got, res.IsError, tt.wantError)
				}
				return
			}
			if res.IsError || got != tt.wantText {
				t.Errorf("got %q, want %q", got, tt.wantText)
			}
			if len(m.marked) != 1 || m.marked[0] != "m1" || m.lastID != "account1" {
				t.Errorf("mark read call = %v on %q", m.marked, m.lastID)
			}
		})
	}
}
