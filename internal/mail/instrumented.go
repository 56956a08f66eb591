package mail

import (
	"context"
	"time"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/instrumentation"
)

// instrumentedClient records a span and metrics for every provider call.
type instrumentedClient struct {
	next    Client
	metrics *instrumentation.Metrics
}

// WithInstrumentation wraps c so each operation is traced and counted.
func WithInstrumentation(c Client, metrics *instrumentation.Metrics) Client {
	return &instrumentedClient{next: c, metrics: metrics}
}

func (c *instrumentedClient) Account() string    { return c.next.Account() }
func (c *instrumentedClient) Kind() account.Kind { return c.next.Kind() }

func (c *instrumentedClient) Read(ctx context.Context, limit int, filter string) ([]Message, error) {
	return observe(ctx, c, "read", func(ctx context.Context) ([]Message, error) { return c.next.Read(ctx, limit, filter) })
}

func (c *instrumentedClient) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	return observe(ctx, c, "search", func(ctx context.Context) ([]Message, error) { return c.next.Search(ctx, query, limit) })
}

func (c *instrumentedClient) Send(ctx context.Context, msg Outgoing) (string, error) {
	return observe(ctx, c, "send", func(ctx context.Context) (string, error) { return c.next.Send(ctx, msg) })
}

func (c *instrumentedClient) MarkRead(ctx context.Context, id string) error {
	_, err := observe(ctx, c, "mark_read", func(ctx context.Context) (struct{}, error) { return struct{}{}, c.next.MarkRead(ctx, id) })
	return err
}

func (c *instrumentedClient) Profile(ctx context.Context) (*Profile, error) {
	return observe(ctx, c, "profile", func(ctx context.Context) (*Profile, error) { return c.next.Profile(ctx) })
}

func observe[T any](ctx context.Context, c *instrumentedClient, op string, fn func(context.Context) (T, error)) (T, error) {
	provider := c.Kind().String()
	ctx, span := instrumentation.StartProviderSpan(ctx, provider, op, c.Account())
	defer span.End()

	start := time.Now()
	res, err := fn(ctx)

	status := instrumentation.StatusSuccess
	switch {
	case IsRejected(err):
		status = instrumentation.StatusRejected
		instrumentation.SetSpanError(span, err)
	case err != nil:
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	default:
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordProviderOperation(ctx, provider, op, status, c.Account(), time.Since(start))
	return res, err
}
