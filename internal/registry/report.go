package registry

import (
	"errors"
	"fmt"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/lifecycle"
	"github.com/teemow/clawmail/internal/store"
)

// Outcome is the result of building one account.
type Outcome struct {
	// ID is the requested or discovered account id.
	ID         string
	Descriptor account.Descriptor
	// Session is set for accounts that were added to the registry.
	Session *lifecycle.Session
	// Reused is set when Reload kept an existing client.
	Reused bool
	Err    error
	Remedy lifecycle.Remedy
}

// OK reports whether the account is in the registry.
func (o Outcome) OK() bool { return o.Err == nil }

// Report aggregates the outcomes of a build.
type Report struct {
	// Outcomes are in discovery order.
	Outcomes []Outcome
	// Problems are configuration files discovery could not use.
	Problems []store.Problem
	// DiscoveryErr is set when the store could not be scanned at all.
	DiscoveryErr error
}

// Failed returns the outcomes of accounts left out of the registry.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Ready returns the number of accounts added to the registry.
func (r *Report) Ready() int {
	return len(r.Outcomes) - len(r.Failed())
}

// OK reports whether every requested account is ready and discovery found
// no broken configuration.
func (r *Report) OK() bool {
	return r.DiscoveryErr == nil && len(r.Problems) == 0 && len(r.Failed()) == 0
}

// Err joins every failure of the build, or returns nil.
func (r *Report) Err() error {
	var errs []error
	if r.DiscoveryErr != nil {
		errs = append(errs, r.DiscoveryErr)
	}
	for _, p := range r.Problems {
		errs = append(errs, p)
	}
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.ID, o.Err))
	}
	return errors.Join(errs...)
}
