package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/teemow/clawmail/internal/account"
)

// Problem is a configuration error attached to one file in the store.
type Problem struct {
	File string
	Err  error
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %v", p.File, p.Err)
}

func (p Problem) Unwrap() error { return p.Err }

// DuplicateError reports several configuration files mapping to the same
// account identifier.
type DuplicateError struct {
	ID    string
	Files []string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("account id %q is claimed by multiple files: %s", e.ID, strings.Join(e.Files, ", "))
}

// Discovery is the result of scanning the store directory.
type Discovery struct {
	// Accounts are ordered lexicographically by configuration file name.
	Accounts []account.Descriptor
	// Problems lists files that look like credentials but cannot be used.
	Problems []Problem
}

// Find returns the descriptor with the given identifier.
func (d *Discovery) Find(id string) (account.Descriptor, bool) {
	id = strings.ToLower(id)
	for _, desc := range d.Accounts {
		if desc.ID == id {
			return desc, true
		}
	}
	return account.Descriptor{}, false
}

// Err joins all problems into a single error, or returns nil.
func (d *Discovery) Err() error {
	errs := make([]error, 0, len(d.Problems))
	for _, p := range d.Problems {
		errs = append(errs, p)
	}
	return errors.Join(errs...)
}

// Discover scans the store directory for client configuration files.
// Files colliding on an account identifier are all excluded and reported.
func (s *Store) Discover() (*Discovery, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan store directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return discover(names), nil
}

func discover(names []string) *Discovery {
	sort.Strings(names)

	disc := &Discovery{}
	byID := make(map[string][]account.Descriptor)
	var order []string

	for _, name := range names {
		d, err := account.ParseConfigFilename(name)
		if errors.Is(err, account.ErrNotCredential) {
			continue
		}
		if err != nil {
			disc.Problems = append(disc.Problems, Problem{File: name, Err: err})
			continue
		}
		if _, seen := byID[d.ID]; !seen {
			order = append(order, d.ID)
		}
		byID[d.ID] = append(byID[d.ID], d)
	}

	for _, id := range order {
		descs := byID[id]
		if len(descs) == 1 {
			disc.Accounts = append(disc.Accounts, descs[0])
			continue
		}
		files := make([]string, 0, len(descs))
		for _, d := range descs {
			files = append(files, d.ConfigFile)
		}
		dup := &DuplicateError{ID: id, Files: files}
		for _, f := range files {
			disc.Problems = append(disc.Problems, Problem{File: f, Err: dup})
		}
	}

	sort.SliceStable(disc.Problems, func(i, j int) bool {
		return disc.Problems[i].File < disc.Problems[j].File
	})
	return disc
}
