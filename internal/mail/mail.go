package mail

import (
	"context"
	"time"

	"github.com/teemow/clawmail/internal/account"
)

// Message is a provider-neutral email.
type Message struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id,omitempty"`
	Provider       string    `json:"provider"`
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	PlainBody      string    `json:"body"`
	HTMLBody       string    `json:"html_body,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Labels         []string  `json:"labels,omitempty"`
	Read           bool      `json:"read"`
	HasAttachments bool      `json:"has_attachments"`
}

// Outgoing is a message to send.
type Outgoing struct {
	To       string
	Subject  string
	Body     string
	HTMLBody string
}

// Profile identifies the mailbox behind an account.
type Profile struct {
	Address       string
	MessagesTotal int64
}

// Client is the capability set every provider backend offers.
type Client interface {
	// Account returns the account identifier the client is bound to.
	Account() string
	// Kind returns the provider kind.
	Kind() account.Kind
	// Read returns up to limit messages matching filter, newest first. The
	// filter is passed to the provider unchanged; empty means the inbox.
	Read(ctx context.Context, limit int, filter string) ([]Message, error)
	// Search returns up to limit messages matching query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Message, error)
	// Send delivers msg and returns the provider message id when known.
	Send(ctx context.Context, msg Outgoing) (string, error)
	// MarkRead flags the message with the given provider id as read.
	MarkRead(ctx context.Context, id string) error
	// Profile fetches mailbox metadata; used as a liveness probe.
	Profile(ctx context.Context) (*Profile, error)
}
