package outlook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/mail"
)

// DefaultBaseURL is the Graph API root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxPageSize bounds $top on message listings.
const maxPageSize = 1000

// Client talks to the Graph mail API for one account.
type Client struct {
	http    *http.Client
	baseURL string
	account string
}

var _ mail.Client = (*Client)(nil)

// New creates an Outlook client. httpClient must carry the OAuth2
// credentials; an empty baseURL selects DefaultBaseURL.
func New(accountID string, httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		account: accountID,
	}
}

// Account returns the account this client is bound to.
func (c *Client) Account() string { return c.account }

// Kind returns account.Outlook.
func (c *Client) Kind() account.Kind { return account.Outlook }

// Read lists up to limit messages, newest first. An empty filter reads the
// inbox; otherwise filter is used verbatim as the $search expression.
func (c *Client) Read(ctx context.Context, limit int, filter string) ([]mail.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	params := url.Values{}
	params.Set("$top", strconv.Itoa(min(limit, maxPageSize)))
	path := "/me/mailFolders/inbox/messages"
	if filter != "" {
		path = "/me/messages"
		params.Set("$search", `"`+filter+`"`)
	} else {
		params.Set("$orderby", "receivedDateTime desc")
	}

	var msgs []mail.Message
	next := c.baseURL + path + "?" + params.Encode()
	for next != "" && len(msgs) < limit {
		var page struct {
			Value    []graphMessage `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}
		if err := c.do(ctx, "read", http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			if len(msgs) == limit {
				break
			}
			msgs = append(msgs, convertMessage(&page.Value[i]))
		}
		next = page.NextLink
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
	return msgs, nil
}

// Search is Read with a mandatory query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]mail.Message, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}
	return c.Read(ctx, limit, query)
}

// Send delivers msg through /me/sendMail. Graph does not return the id of
// the sent message, so the returned id is always empty.
func (c *Client) Send(ctx context.Context, msg mail.Outgoing) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", errors.New("at least one recipient is required")
	}
	if msg.Body == "" && msg.HTMLBody == "" {
		return "", errors.New("body is required")
	}

	body := struct {
		Message         graphMessage `json:"message"`
		SaveToSentItems bool         `json:"saveToSentItems"`
	}{
		Message:         buildGraphMessage(msg),
		SaveToSentItems: true,
	}
	if err := c.do(ctx, "send", http.MethodPost, c.baseURL+"/me/sendMail", body, nil); err != nil {
		return "", err
	}
	return "", nil
}

// MarkRead sets isRead on the message.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	patch := struct {
		IsRead bool `json:"isRead"`
	}{IsRead: true}
	return c.do(ctx, "mark_read", http.MethodPatch, c.baseURL+"/me/messages/"+url.PathEscape(id), patch, nil)
}

// Profile fetches /me; it doubles as the liveness probe.
func (c *Client) Profile(ctx context.Context) (*mail.Profile, error) {
	var user graphUser
	if err := c.do(ctx, "profile", http.MethodGet, c.baseURL+"/me", nil, &user); err != nil {
		return nil, err
	}
	addr := user.Mail
	if addr == "" {
		addr = user.UserPrincipalName
	}
	return &mail.Profile{Address: addr}, nil
}

func (c *Client) do(ctx context.Context, op, method, target string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return mail.ClassifyTransport(account.Outlook, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var ge graphError
		code, msg := "", strings.TrimSpace(string(data))
		if json.Unmarshal(data, &ge) == nil && ge.Error.Code != "" {
			code, msg = ge.Error.Code, ge.Error.Message
		}
		return mail.ClassifyStatus(account.Outlook, op, resp.StatusCode, code, msg)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("outlook %s: %w: failed to decode response: %w", op, mail.ErrTransport, err)
		}
	}
	return nil
}

// Graph API types

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type graphUser struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type graphMessage struct {
	ID               string           `json:"id,omitempty"`
	ConversationID   string           `json:"conversationId,omitempty"`
	Subject          string           `json:"subject"`
	BodyPreview      string           `json:"bodyPreview,omitempty"`
	Body             graphBody        `json:"body"`
	From             *graphRecipient  `json:"from,omitempty"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	IsRead           bool             `json:"isRead,omitempty"`
	Categories       []string         `json:"categories,omitempty"`
	HasAttachments   bool             `json:"hasAttachments,omitempty"`
	ReceivedDateTime string           `json:"receivedDateTime,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

func convertMessage(msg *graphMessage) mail.Message {
	m := mail.Message{
		ID:             msg.ID,
		ThreadID:       msg.ConversationID,
		Provider:       account.Outlook.String(),
		Subject:        msg.Subject,
		Read:           msg.IsRead,
		Labels:         msg.Categories,
		HasAttachments: msg.HasAttachments,
	}
	if msg.From != nil {
		m.Sender = formatAddress(*msg.From)
	}

	to := make([]string, 0, len(msg.ToRecipients))
	for _, r := range msg.ToRecipients {
		to = append(to, formatAddress(r))
	}
	m.Recipient = strings.Join(to, ", ")

	if strings.EqualFold(msg.Body.ContentType, "html") {
		m.HTMLBody = msg.Body.Content
		m.PlainBody = mail.StripHTML(msg.Body.Content)
	} else {
		m.PlainBody = msg.Body.Content
	}
	if m.PlainBody == "" {
		m.PlainBody = msg.BodyPreview
	}

	if ts, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		m.Timestamp = ts.UTC()
	}
	return m
}

func formatAddress(r graphRecipient) string {
	if r.EmailAddress.Name != "" {
		return fmt.Sprintf("%s <%s>", r.EmailAddress.Name, r.EmailAddress.Address)
	}
	return r.EmailAddress.Address
}

func buildGraphMessage(msg mail.Outgoing) graphMessage {
	gm := graphMessage{Subject: msg.Subject}
	if msg.HTMLBody != "" {
		gm.Body = graphBody{ContentType: "HTML", Content: msg.HTMLBody}
	} else {
		gm.Body = graphBody{ContentType: "Text", Content: msg.Body}
	}
	for _, addr := range strings.Split(msg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			gm.ToRecipients = append(gm.ToRecipients, graphRecipient{
				EmailAddress: graphEmailAddress{Address: addr},
			})
		}
	}
	return gm
}
