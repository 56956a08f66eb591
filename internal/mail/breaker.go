package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/logging"
)

// ErrCircuitOpen is returned while a backend is failing fast.
var ErrCircuitOpen = errors.New("provider temporarily unavailable")

// breakerClient guards a Client with a circuit breaker. Provider rejections
// and expired credentials count as successful calls; only transport
// failures trip the breaker.
type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps c in a circuit breaker named after its account.
func WithBreaker(c Client, logger *slog.Logger) Client {
	logger = logging.OrDefault(logger)
	settings := gobreaker.Settings{
		Name:        c.Kind().String() + ":" + c.Account(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &breakerClient{next: c, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerClient) Account() string    { return b.next.Account() }
func (b *breakerClient) Kind() account.Kind { return b.next.Kind() }

func (b *breakerClient) Read(ctx context.Context, limit int, filter string) ([]Message, error) {
	return execute(b, func() ([]Message, error) { return b.next.Read(ctx, limit, filter) })
}

func (b *breakerClient) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	return execute(b, func() ([]Message, error) { return b.next.Search(ctx, query, limit) })
}

func (b *breakerClient) Send(ctx context.Context, msg Outgoing) (string, error) {
	return execute(b, func() (string, error) { return b.next.Send(ctx, msg) })
}

func (b *breakerClient) MarkRead(ctx context.Context, id string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.MarkRead(ctx, id) })
	return err
}

func (b *breakerClient) Profile(ctx context.Context) (*Profile, error) {
	return execute(b, func() (*Profile, error) { return b.next.Profile(ctx) })
}

func execute[T any](b *breakerClient, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	var zero T
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%s %s: %w: %w", b.Kind(), b.Account(), ErrCircuitOpen, ErrTransport)
	}
	if res == nil {
		return zero, err
	}
	return res.(T), err
}
