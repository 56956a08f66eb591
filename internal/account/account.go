package account

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies a mail provider.
type Kind string

const (
	Gmail   Kind = "gmail"
	Outlook Kind = "outlook"
)

// Kinds lists the supported providers in a stable order.
var Kinds = []Kind{Gmail, Outlook}

// ParseKind parses a provider name case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Gmail:
		return Gmail, nil
	case Outlook:
		return Outlook, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

func (k Kind) String() string { return string(k) }

// Descriptor identifies one configured account.
type Descriptor struct {
	// ID is the canonical lowercase account identifier, unique within a store.
	ID string
	// Kind is the provider the account belongs to.
	Kind Kind
	// ConfigFile is the base name of the client-configuration file.
	ConfigFile string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.ID, d.Kind)
}

const (
	configExt   = ".json"
	tokenExt    = ".token"
	tokenMarker = "token"
)

// ErrNotCredential is returned for files that are not credential files at
// all (no provider prefix, wrong extension, or token files).
var ErrNotCredential = errors.New("not a credential file")

// NameError reports a file that carries a provider prefix but does not follow
// any of the naming rules.
type NameError struct {
	File string
	Kind Kind
}

func (e *NameError) Error() string {
	return fmt.Sprintf("unrecognised %s credential file name %q (expected %s_credentials.json, %s_account<N>.json or %s_credentials_<name>.json)",
		e.Kind, e.File, e.Kind, e.Kind, e.Kind)
}

var (
	accountNumRe = regexp.MustCompile(`^account([0-9]+)$`)
	suffixRe     = regexp.MustCompile(`^credentials_([A-Za-z0-9_-]+)$`)
	idRe         = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// ParseConfigFilename maps a credential file base name to a descriptor.
//
// It returns ErrNotCredential for files that should be silently ignored and a
// *NameError for provider-prefixed files that match no rule.
func ParseConfigFilename(name string) (Descriptor, error) {
	if !strings.HasSuffix(name, configExt) || strings.Contains(strings.ToLower(name), tokenMarker) {
		return Descriptor{}, ErrNotCredential
	}

	for _, kind := range Kinds {
		prefix := string(kind) + "_"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), configExt)

		switch {
		case rest == "credentials":
			return Descriptor{ID: string(kind), Kind: kind, ConfigFile: name}, nil
		case accountNumRe.MatchString(rest):
			return Descriptor{ID: rest, Kind: kind, ConfigFile: name}, nil
		}
		if m := suffixRe.FindStringSubmatch(rest); m != nil {
			return Descriptor{ID: strings.ToLower(m[1]), Kind: kind, ConfigFile: name}, nil
		}
		return Descriptor{}, &NameError{File: name, Kind: kind}
	}

	return Descriptor{}, ErrNotCredential
}

// ValidateID checks that id is usable as an account identifier.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("account id cannot be empty")
	}
	if !idRe.MatchString(id) {
		return fmt.Errorf("invalid account id %q: only lowercase letters, digits, '-' and '_' are allowed", id)
	}
	if strings.Contains(id, tokenMarker) {
		return fmt.Errorf("invalid account id %q: must not contain %q", id, tokenMarker)
	}
	return nil
}

// ConfigFilename returns the credential file name that ParseConfigFilename
// maps back to (id, kind).
func ConfigFilename(id string, kind Kind) string {
	switch {
	case id == string(kind):
		return fmt.Sprintf("%s_credentials%s", kind, configExt)
	case accountNumRe.MatchString(id):
		return fmt.Sprintf("%s_%s%s", kind, id, configExt)
	default:
		return fmt.Sprintf("%s_credentials_%s%s", kind, id, configExt)
	}
}

// TokenFilename returns the token file name for an account.
func TokenFilename(id string, kind Kind) string {
	return fmt.Sprintf("%s_%s_%s%s", kind, tokenMarker, id, tokenExt)
}

// Number returns N for identifiers of the form account<N>.
func Number(id string) (int, bool) {
	m := accountNumRe.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
