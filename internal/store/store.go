package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/logging"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
	lockFile = ".tokens.lock"
)

var (
	// ErrNotFound is returned when no configuration or token exists for an account.
	ErrNotFound = errors.New("not found")
	// ErrConfigWrite marks failures to persist a client configuration.
	ErrConfigWrite = errors.New("config write failed")
	// ErrTokenWrite marks failures to persist a token record.
	ErrTokenWrite = errors.New("token write failed")
)

// Store is a directory-backed credential store.
type Store struct {
	dir      string
	logger   *slog.Logger
	lock     *flock.Flock
	now      func() time.Time
	warnings []string
}

// Open opens the store rooted at dir, creating it with owner-only
// permissions when missing. Existing directories that grant group or other
// access are accepted with a warning.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	logger = logging.OrDefault(logger)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat store directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store path %s is not a directory", dir)
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		lock:   flock.New(filepath.Join(dir, lockFile)),
		now:    time.Now,
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		msg := fmt.Sprintf("store directory %s has permissions %#o; credentials may be readable by other users (run chmod 700)", dir, perm)
		s.warnings = append(s.warnings, msg)
		logger.Warn("insecure store directory permissions", "dir", dir, "mode", fmt.Sprintf("%#o", perm))
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Warnings returns non-fatal problems found while opening the store.
func (s *Store) Warnings() []string { return s.warnings }

// ConfigPath returns the absolute path of an account's client configuration.
func (s *Store) ConfigPath(d account.Descriptor) string {
	return filepath.Join(s.dir, d.ConfigFile)
}

// TokenPath returns the absolute path of an account's token record.
func (s *Store) TokenPath(d account.Descriptor) string {
	return filepath.Join(s.dir, account.TokenFilename(d.ID, d.Kind))
}

// Stamp records when an account's files were last written. A missing file
// leaves its field zero.
type Stamp struct {
	Config time.Time
	Token  time.Time
}

// Equal reports whether both files carry the same modification times.
func (s Stamp) Equal(o Stamp) bool {
	return s.Config.Equal(o.Config) && s.Token.Equal(o.Token)
}

// Stamp returns the modification times of an account's configuration and
// token files.
func (s *Store) Stamp(d account.Descriptor) (Stamp, error) {
	var st Stamp
	for _, f := range []struct {
		path string
		dst  *time.Time
	}{
		{s.ConfigPath(d), &st.Config},
		{s.TokenPath(d), &st.Token},
	} {
		info, err := os.Stat(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Stamp{}, fmt.Errorf("stat %s: %w", f.path, err)
		}
		*f.dst = info.ModTime()
	}
	return st, nil
}

// Lookup returns the descriptor of a discovered account.
func (s *Store) Lookup(id string) (account.Descriptor, error) {
	disc, err := s.Discover()
	if err != nil {
		return account.Descriptor{}, err
	}
	if d, ok := disc.Find(id); ok {
		return d, nil
	}
	return account.Descriptor{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
}

// PutConfig writes the client configuration of an account.
func (s *Store) PutConfig(id string, kind account.Kind, blob []byte) error {
	if err := account.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if !json.Valid(blob) {
		return fmt.Errorf("%w: client configuration for %q is not valid JSON", ErrConfigWrite, id)
	}

	name := account.ConfigFilename(id, kind)
	disc, err := s.Discover()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if existing, ok := disc.Find(id); ok && existing.ConfigFile != name {
		return fmt.Errorf("%w: account %q is already configured by %s", ErrConfigWrite, id, existing.ConfigFile)
	}

	path := filepath.Join(s.dir, name)
	if err := renameio.WriteFile(path, blob, filePerm); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigWrite, path, err)
	}
	s.logger.Info("client configuration saved", logging.Account(id), logging.Provider(kind.String()), "file", name)
	return nil
}

// GetConfig returns the raw client configuration of an account.
func (s *Store) GetConfig(id string) ([]byte, error) {
	d, err := s.Lookup(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.ConfigPath(d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config for %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read config for %q: %w", id, err)
	}
	return data, nil
}

// PutToken atomically replaces the token record of an account. Writers are
// serialised through an advisory lock on the store directory.
func (s *Store) PutToken(id string, tok *Token) error {
	d, err := s.Lookup(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenWrite, err)
	}

	rec := *tok
	rec.Version = TokenVersion
	rec.Account = d.ID
	rec.Provider = d.Kind
	rec.SavedAt = s.now().UTC()

	data, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenWrite, err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%w: failed to lock store: %w", ErrTokenWrite, err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release store lock", logging.Err(err))
		}
	}()

	path := s.TokenPath(d)
	if err := renameio.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTokenWrite, path, err)
	}
	s.logger.Debug("token saved",
		logging.Account(d.ID),
		"access_token", logging.SanitizeToken(rec.AccessToken),
		"expiry", rec.Expiry)
	return nil
}

// GetToken returns the token record of an account.
func (s *Store) GetToken(id string) (*Token, error) {
	d, err := s.Lookup(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.TokenPath(d))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("token for %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read token for %q: %w", id, err)
	}
	tok, err := DecodeToken(data)
	if err != nil {
		return nil, fmt.Errorf("token for %q: %w", id, err)
	}
	return tok, nil
}

// DeleteToken removes the token record of an account. Deleting a missing
// token is not an error.
func (s *Store) DeleteToken(id string) error {
	d, err := s.Lookup(id)
	if err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := os.Remove(s.TokenPath(d)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token for %q: %w", id, err)
	}
	s.logger.Info("token deleted", logging.Account(d.ID))
	return nil
}

// ListAccounts returns the identifiers of all valid accounts ordered by the
// name of their configuration file.
func (s *Store) ListAccounts() ([]string, error) {
	disc, err := s.Discover()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(disc.Accounts))
	for _, d := range disc.Accounts {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
