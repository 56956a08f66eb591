package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/mail"
)

const (
	me = "me"
	// maxPageSize is the largest page the Gmail list endpoint returns.
	maxPageSize = 500
	unreadLabel = "UNREAD"
)

// Client wraps the Gmail Users service for one account.
type Client struct {
	svc     *gmail.UsersService
	account string
}

var _ mail.Client = (*Client)(nil)

// New creates a Gmail client for accountID. httpClient must carry the OAuth2
// credentials; extra options are appended (tests use option.WithEndpoint).
func New(ctx context.Context, accountID string, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc.Users, account: accountID}, nil
}

// Account returns the account this client is bound to.
func (c *Client) Account() string {
	return c.account
}

// Kind returns account.Gmail.
func (c *Client) Kind() account.Kind {
	return account.Gmail
}

// Read lists up to limit messages matching filter (Gmail search syntax),
// newest first. An empty filter reads the inbox.
func (c *Client) Read(ctx context.Context, limit int, filter string) ([]mail.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	ids, err := c.listIDs(ctx, limit, filter)
	if err != nil {
		return nil, err
	}

	msgs := make([]mail.Message, 0, len(ids))
	for _, id := range ids {
		m, err := c.getMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, normalize(m))
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
	return msgs, nil
}

// Search is Read with a Gmail search query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]mail.Message, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}
	return c.Read(ctx, limit, query)
}

func (c *Client) listIDs(ctx context.Context, limit int, filter string) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < limit {
		req := c.svc.Messages.List(me).Context(ctx).MaxResults(int64(min(limit-len(ids), maxPageSize)))
		if filter != "" {
			req = req.Q(filter)
		} else {
			req = req.LabelIds("INBOX")
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		res, err := req.Do()
		if err != nil {
			return nil, classify("list", err)
		}
		for _, m := range res.Messages {
			if len(ids) == limit {
				break
			}
			ids = append(ids, m.Id)
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}
	return ids, nil
}

func (c *Client) getMessage(ctx context.Context, id string) (*gmail.Message, error) {
	m, err := c.svc.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("get", err)
	}
	return m, nil
}

// Send delivers msg and returns the Gmail message id.
func (c *Client) Send(ctx context.Context, msg mail.Outgoing) (string, error) {
	raw, err := buildRaw(msg)
	if err != nil {
		return "", err
	}
	sent, err := c.svc.Messages.Send(me, &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return "", classify("send", err)
	}
	return sent.Id, nil
}

// MarkRead removes the UNREAD label from the message.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{unreadLabel}}
	if _, err := c.svc.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return classify("mark_read", err)
	}
	return nil
}

// Profile returns the mailbox address; it doubles as the liveness probe.
func (c *Client) Profile(ctx context.Context) (*mail.Profile, error) {
	p, err := c.svc.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return nil, classify("profile", err)
	}
	return &mail.Profile{Address: p.EmailAddress, MessagesTotal: p.MessagesTotal}, nil
}

// classify maps Gmail API errors onto the mail error classes.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		code := ""
		if len(gerr.Errors) > 0 {
			code = gerr.Errors[0].Reason
		}
		msg := gerr.Message
		if msg == "" {
			msg = http.StatusText(gerr.Code)
		}
		return mail.ClassifyStatus(account.Gmail, op, gerr.Code, code, msg)
	}
	return mail.ClassifyTransport(account.Gmail, op, err)
}
