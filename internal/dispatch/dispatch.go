package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/mail"
)

var (
	// ErrInvalidLimit is returned for a non-positive limit.
	ErrInvalidLimit = errors.New("limit must be greater than zero")
	// ErrEmptyQuery is returned by Search without a query.
	ErrEmptyQuery = errors.New("search query must not be empty")
	// ErrInvalidMessage is returned by Send for a message that cannot be sent.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrEmptyMessageID is returned by MarkRead without a message id.
	ErrEmptyMessageID = errors.New("message id must not be empty")
)

// Resolver maps an account id or provider name to a client.
type Resolver interface {
	Resolve(identifier string) (mail.Client, error)
}

// Dispatcher runs mail operations against resolved accounts.
type Dispatcher struct {
	resolver Resolver
	logger   *slog.Logger
}

// New returns a dispatcher over r.
func New(r Resolver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{resolver: r, logger: logging.OrDefault(logger)}
}

// Read returns at most limit messages of the account, newest first. filter
// is passed to the provider unchanged: Gmail search syntax or a Graph
// $search expression.
func (d *Dispatcher) Read(ctx context.Context, identifier string, limit int, filter string) ([]mail.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	c, err := d.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	msgs, err := c.Read(ctx, limit, filter)
	if err != nil {
		return nil, err
	}
	return finish(msgs, limit), nil
}

// Search is Read with a mandatory query.
func (d *Dispatcher) Search(ctx context.Context, identifier, query string, limit int) ([]mail.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	c, err := d.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	msgs, err := c.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return finish(msgs, limit), nil
}

// SendResult is the outcome of Send. A provider that refused the message
// yields OK false with ProviderErr set.
type SendResult struct {
	OK          bool                `json:"ok"`
	Account     string              `json:"account"`
	MessageID   string              `json:"message_id,omitempty"`
	ProviderErr *mail.ProviderError `json:"-"`
	Error       string              `json:"error,omitempty"`
}

// Send delivers a message. Provider rejections such as an invalid recipient
// or an exhausted quota are reported in the result; other failures are
// returned as errors.
func (d *Dispatcher) Send(ctx context.Context, identifier, to, subject, body, htmlBody string) (*SendResult, error) {
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if body == "" && htmlBody != "" {
		body = mail.StripHTML(htmlBody)
	}
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	c, err := d.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	logger := logging.WithOperation(logging.WithAccount(d.logger, c.Account(), c.Kind().String()), "send")
	id, err := c.Send(ctx, mail.Outgoing{To: to, Subject: subject, Body: body, HTMLBody: htmlBody})
	var rejected *mail.ProviderError
	switch {
	case errors.As(err, &rejected):
		logger.Warn("provider rejected message", logging.Err(err))
		return &SendResult{Account: c.Account(), ProviderErr: rejected, Error: rejected.Error()}, nil
	case err != nil:
		return nil, err
	}
	logger.Info("message sent", logging.Domain(to))
	return &SendResult{OK: true, Account: c.Account(), MessageID: id}, nil
}

// MarkRead flags the message with the given provider id as read.
func (d *Dispatcher) MarkRead(ctx context.Context, identifier, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyMessageID
	}
	c, err := d.resolver.Resolve(identifier)
	if err != nil {
		return err
	}
	logger := logging.WithOperation(logging.WithAccount(d.logger, c.Account(), c.Kind().String()), "mark_read")
	if err := c.MarkRead(ctx, id); err != nil {
		logger.Warn("mark as read failed", logging.Err(err))
		return err
	}
	logger.Debug("message marked read")
	return nil
}

// finish orders messages newest first, caps them at limit and derives
// plain bodies for HTML-only messages.
func finish(msgs []mail.Message, limit int) []mail.Message {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	for i := range msgs {
		if strings.TrimSpace(msgs[i].PlainBody) == "" && msgs[i].HTMLBody != "" {
			msgs[i].PlainBody = mail.StripHTML(msgs[i].HTMLBody)
		}
	}
	return msgs
}
