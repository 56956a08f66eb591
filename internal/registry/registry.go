package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/instrumentation"
	"github.com/teemow/clawmail/internal/lifecycle"
	"github.com/teemow/clawmail/internal/logging"
	"github.com/teemow/clawmail/internal/mail"
	"github.com/teemow/clawmail/internal/store"
)

// ErrNotFound is returned when an identifier resolves to no ready account.
var ErrNotFound = errors.New("account not found")

// Discoverer lists the accounts of a credential store.
type Discoverer interface {
	Discover() (*store.Discovery, error)
}

// Stamper is implemented by discoverers that can tell when an account's
// files last changed. Reload reuses a client only while its stamp holds.
type Stamper interface {
	Stamp(d account.Descriptor) (store.Stamp, error)
}

// Engine makes accounts ready.
type Engine interface {
	Acquire(ctx context.Context, desc account.Descriptor) (*lifecycle.Session, error)
	Renew(ctx context.Context, desc account.Descriptor) (*lifecycle.Session, error)
}

// Options configures a build.
type Options struct {
	// Only restricts the build to these identifiers (account ids or
	// provider names). Empty means every discovered account.
	Only []string
	// Defaults designates the account a bare provider name resolves to.
	Defaults map[account.Kind]string
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger
}

// Registry maps account ids to ready clients, in discovery order.
type Registry struct {
	mu      sync.RWMutex
	disc    Discoverer
	engine  Engine
	opts    Options
	logger  *slog.Logger
	order   []string
	descs   map[string]account.Descriptor
	clients map[string]*sessionClient
}

// Build discovers accounts and acquires each one in order. Accounts that
// fail are omitted and listed in the report.
func Build(ctx context.Context, disc Discoverer, engine Engine, opts Options) (*Registry, *Report) {
	r := &Registry{
		disc:    disc,
		engine:  engine,
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger),
		descs:   map[string]account.Descriptor{},
		clients: map[string]*sessionClient{},
	}
	report := r.build(ctx, nil)
	return r, report
}

// Reload re-scans the store. A client is kept while its descriptor and the
// stamp of its configuration and token files are unchanged since it was
// acquired; other accounts are acquired again and removed ones dropped.
func (r *Registry) Reload(ctx context.Context) *Report {
	r.mu.RLock()
	previous := make(map[string]*sessionClient, len(r.clients))
	for id, c := range r.clients {
		previous[id] = c
	}
	r.mu.RUnlock()
	return r.build(ctx, previous)
}

func (r *Registry) build(ctx context.Context, previous map[string]*sessionClient) *Report {
	report := &Report{}
	disc, err := r.disc.Discover()
	if err != nil {
		report.DiscoveryErr = err
		r.logger.Error("account discovery failed", logging.Err(err))
		return report
	}
	report.Problems = disc.Problems

	order := make([]string, 0, len(disc.Accounts))
	descs := map[string]account.Descriptor{}
	clients := map[string]*sessionClient{}

	for _, d := range r.selection(disc, report) {
		out := Outcome{ID: d.ID, Descriptor: d}

		stamp, stamped := r.stamp(d)
		if prev, ok := previous[d.ID]; ok && prev.desc == d && stamped && prev.stamp.Equal(stamp) {
			out.Reused = true
			clients[d.ID] = prev
		} else {
			sess, err := r.engine.Acquire(ctx, d)
			if err != nil {
				out.Err = err
				out.Remedy = lifecycle.Classify(err)
				r.opts.Metrics.RecordRegistryAccount(ctx, d.Kind.String(), instrumentation.OutcomeOmitted)
				report.Outcomes = append(report.Outcomes, out)
				continue
			}
			out.Session = sess
			c := newSessionClient(d, r.engine, sess.Client, r.logger)
			// Acquire may have rewritten the token file.
			c.stamp, _ = r.stamp(d)
			clients[d.ID] = c
		}
		r.opts.Metrics.RecordRegistryAccount(ctx, d.Kind.String(), instrumentation.OutcomeReady)
		report.Outcomes = append(report.Outcomes, out)
		order = append(order, d.ID)
		descs[d.ID] = d
	}

	r.mu.Lock()
	r.order, r.descs, r.clients = order, descs, clients
	r.mu.Unlock()

	r.log(report)
	return report
}

// stamp reports the account's file stamp. Without a Stamper every account
// shares the zero stamp; a failed stat reports false so the client is not
// reused.
func (r *Registry) stamp(d account.Descriptor) (store.Stamp, bool) {
	st, ok := r.disc.(Stamper)
	if !ok {
		return store.Stamp{}, true
	}
	s, err := st.Stamp(d)
	if err != nil {
		r.logger.Debug("account stamp failed", logging.Account(d.ID), logging.Err(err))
		return store.Stamp{}, false
	}
	return s, true
}

// selection returns the descriptors to build in discovery order. Selectors
// that match nothing are recorded as failed outcomes.
func (r *Registry) selection(disc *store.Discovery, report *Report) []account.Descriptor {
	if len(r.opts.Only) == 0 {
		return disc.Accounts
	}

	wanted := map[string]bool{}
	for _, sel := range r.opts.Only {
		id, ok := resolveID(sel, r.opts.Defaults, func(id string) (account.Kind, bool) {
			d, found := disc.Find(id)
			return d.Kind, found
		})
		if !ok {
			err := fmt.Errorf("%w: %q: %w", lifecycle.ErrConfigMissing, sel, ErrNotFound)
			report.Outcomes = append(report.Outcomes, Outcome{ID: strings.ToLower(sel), Err: err, Remedy: lifecycle.Classify(err)})
			continue
		}
		wanted[id] = true
	}

	var out []account.Descriptor
	for _, d := range disc.Accounts {
		if wanted[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// log writes one summary record for the build.
func (r *Registry) log(report *Report) {
	failed := report.Failed()
	if len(failed) == 0 && len(report.Problems) == 0 {
		r.logger.Debug("registry built", "ready", report.Ready())
		return
	}
	ids := make([]string, 0, len(failed))
	for _, o := range failed {
		ids = append(ids, o.ID)
	}
	r.logger.Warn("some accounts are unavailable",
		"ready", report.Ready(),
		"failed", ids,
		"config_problems", len(report.Problems),
		logging.Err(report.Err()))
}

// resolveID applies the id then provider-default rule. lookup returns the
// kind of an available account.
func resolveID(identifier string, defaults map[account.Kind]string, lookup func(id string) (account.Kind, bool)) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return "", false
	}
	if _, ok := lookup(id); ok {
		return id, true
	}
	kind, err := account.ParseKind(id)
	if err != nil {
		return "", false
	}
	def := strings.ToLower(defaults[kind])
	if def == "" {
		def = kind.String()
	}
	if k, ok := lookup(def); ok && k == kind {
		return def, true
	}
	return "", false
}

// Resolve returns the client for an account id, or for a provider name the
// provider's designated default account.
func (r *Registry) Resolve(identifier string) (mail.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := resolveID(identifier, r.opts.Defaults, func(id string) (account.Kind, bool) {
		d, ok := r.descs[id]
		return d.Kind, ok
	})
	if !ok {
		return nil, fmt.Errorf("%q: %w", identifier, ErrNotFound)
	}
	return r.clients[id], nil
}

// Accounts returns the ready account ids in discovery order.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptor returns the descriptor of a ready account.
func (r *Registry) Descriptor(id string) (account.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[strings.ToLower(id)]
	return d, ok
}

// Len returns the number of ready accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
