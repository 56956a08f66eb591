package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/dispatch"
	"github.com/teemow/clawmail/internal/google"
	"github.com/teemow/clawmail/internal/instrumentation"
	"github.com/teemow/clawmail/internal/lifecycle"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/microsoft"
	"github.com/teemow/clawmail/internal/registry"
	"github.com/teemow/clawmail/internal/settings"
	"github.com/teemow/clawmail/internal/store"
)

// appOptions adjust the runtime of one command.
type appOptions struct {
	// interactor is nil for commands that must not prompt.
	interactor lifecycle.Interactor
	// strategy overrides the configured authentication strategy.
	strategy string
	// timeout overrides the callback timeout.
	timeout   time.Duration
	noBrowser bool
	// logOutput defaults to stderr.
	logOutput io.Writer
}

// app is the runtime shared by the subcommands.
type app struct {
	settings settings.Config
	store    *store.Store
	engine   *lifecycle.Engine
	instr    *instrumentation.Provider
	logger   *slog.Logger
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(out, logLevel, logFormat)
	if err != nil {
		return nil, err
	}

	cfg, err := settings.Load(configDir)
	if err != nil {
		return nil, err
	}
	if opts.strategy != "" {
		cfg.Strategy = opts.strategy
	}
	if opts.timeout > 0 {
		cfg.CallbackTimeout = opts.timeout
	}
	if opts.noBrowser {
		cfg.OpenBrowser = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(configDir, logger)
	if err != nil {
		return nil, err
	}
	for _, w := range st.Warnings() {
		logger.Warn(w)
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instr, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	engine := lifecycle.New(st, providers(cfg), lifecycle.Config{
		Settings:    cfg,
		Interactor:  opts.interactor,
		OpenBrowser: openBrowser,
		Metrics:     instr.Metrics(),
		Logger:      logger,
	})

	return &app{settings: cfg, store: st, engine: engine, instr: instr, logger: logger}, nil
}

// providers returns the provider plug-ins of every supported kind.
func providers(cfg settings.Config) []lifecycle.Provider {
	return []lifecycle.Provider{
		google.NewProvider(),
		microsoft.NewProvider(cfg.OutlookTenant),
	}
}

// registry builds the registry of ready accounts, optionally restricted to
// the given identifiers.
func (a *app) registry(ctx context.Context, only ...string) (*registry.Registry, *registry.Report) {
	return registry.Build(ctx, a.store, a.engine, registry.Options{
		Only:     only,
		Defaults: a.settings.Defaults,
		Metrics:  a.instr.Metrics(),
		Logger:   a.logger,
	})
}

// dispatcher builds a dispatcher over the accounts named by only.
func (a *app) dispatcher(ctx context.Context, only ...string) (*dispatch.Dispatcher, *registry.Report) {
	reg, report := a.registry(ctx, only...)
	return dispatch.New(reg, a.logger), report
}

// descriptor resolves an account id or provider name against the store.
func (a *app) descriptor(identifier string) (account.Descriptor, error) {
	disc, err := a.store.Discover()
	if err != nil {
		return account.Descriptor{}, err
	}
	if d, ok := disc.Find(identifier); ok {
		return d, nil
	}
	if kind, err := account.ParseKind(identifier); err == nil {
		if d, ok := disc.Find(a.settings.DefaultAccount(kind)); ok && d.Kind == kind {
			return d, nil
		}
	}
	return account.Descriptor{}, fmt.Errorf("%w: %s (expected a client configuration in %s)", registry.ErrNotFound, identifier, a.store.Dir())
}

func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.instr.Shutdown(ctx); err != nil {
		a.logger.Warn("instrumentation shutdown failed", logging.Err(err))
	}
}
