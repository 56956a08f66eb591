package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/store"
)

// sessionClient renews its credentials once when the provider reports them
// expired and retries the operation with the renewed client.
type sessionClient struct {
	mu     sync.Mutex
	desc   account.Descriptor
	engine Engine
	client mail.Client
	logger *slog.Logger
	stamp  store.Stamp // account files when the client was acquired
}

func newSessionClient(desc account.Descriptor, engine Engine, client mail.Client, logger *slog.Logger) *sessionClient {
	return &sessionClient{
		desc:   desc,
		engine: engine,
		client: client,
		logger: logging.WithAccount(logger, desc.ID, desc.Kind.String()),
	}
}

func (s *sessionClient) Account() string    { return s.desc.ID }
func (s *sessionClient) Kind() account.Kind { return s.desc.Kind }

func (s *sessionClient) Read(ctx context.Context, limit int, filter string) ([]mail.Message, error) {
	return withRenewal(ctx, s, func(c mail.Client) ([]mail.Message, error) { return c.Read(ctx, limit, filter) })
}

func (s *sessionClient) Search(ctx context.Context, query string, limit int) ([]mail.Message, error) {
	return withRenewal(ctx, s, func(c mail.Client) ([]mail.Message, error) { return c.Search(ctx, query, limit) })
}

func (s *sessionClient) Send(ctx context.Context, msg mail.Outgoing) (string, error) {
	return withRenewal(ctx, s, func(c mail.Client) (string, error) { return c.Send(ctx, msg) })
}

func (s *sessionClient) MarkRead(ctx context.Context, id string) error {
	_, err := withRenewal(ctx, s, func(c mail.Client) (struct{}, error) { return struct{}{}, c.MarkRead(ctx, id) })
	return err
}

func (s *sessionClient) Profile(ctx context.Context) (*mail.Profile, error) {
	return withRenewal(ctx, s, func(c mail.Client) (*mail.Profile, error) { return c.Profile(ctx) })
}

func (s *sessionClient) current() mail.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// renew replaces the client unless another caller already did.
func (s *sessionClient) renew(ctx context.Context, stale mail.Client) (mail.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != stale {
		return s.client, nil
	}
	s.logger.Info("credentials rejected by provider, renewing")
	sess, err := s.engine.Renew(ctx, s.desc)
	if err != nil {
		return nil, err
	}
	s.client = sess.Client
	return s.client, nil
}

func withRenewal[T any](ctx context.Context, s *sessionClient, fn func(mail.Client) (T, error)) (T, error) {
	c := s.current()
	res, err := fn(c)
	if !errors.Is(err, mail.ErrCredentialsExpired) {
		return res, err
	}

	var zero T
	renewed, rerr := s.renew(ctx, c)
	if rerr != nil {
		return zero, fmt.Errorf("%w; renewal failed: %w", err, rerr)
	}
	return fn(renewed)
}
