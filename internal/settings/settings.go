package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teemow/clawmail/internal/account"
)

// FileName is the settings file looked up in the store directory.
const FileName = "settings.yaml"

// Strategy names accepted in settings and on the command line.
const (
	StrategyAuto     = "auto"
	StrategyCallback = "callback"
	StrategyManual   = "manual"
	StrategyDevice   = "device"
	StrategyImport   = "import"
)

const (
	defaultCallbackHost    = "localhost"
	defaultCallbackTimeout = 300 * time.Second
	defaultHTTPTimeout     = 30 * time.Second
	defaultOutlookTenant   = "common"
)

type fileConfig struct {
	Strategy      string            `yaml:"strategy"`
	Callback      callbackConfig    `yaml:"callback"`
	Defaults      map[string]string `yaml:"defaults"`
	OutlookTenant string            `yaml:"outlook_tenant"`
	HTTPTimeout   string            `yaml:"http_timeout"`
	Probe         *bool             `yaml:"probe"`
}

type callbackConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Timeout     string `yaml:"timeout"`
	OpenBrowser *bool  `yaml:"open_browser"`
}

// Config holds the resolved settings.
type Config struct {
	// Strategy is the default authentication strategy.
	Strategy string
	// CallbackHost is the interface the local callback listener binds.
	CallbackHost string
	// CallbackPort is the listener port; 0 derives one per account.
	CallbackPort int
	// CallbackTimeout bounds how long the listener waits for the redirect.
	CallbackTimeout time.Duration
	// OpenBrowser opens the authorization URL in the system browser.
	OpenBrowser bool
	// Defaults designates the account a bare provider name resolves to.
	Defaults map[account.Kind]string
	// OutlookTenant is the Azure AD tenant used when a client
	// configuration does not name one.
	OutlookTenant string
	// HTTPTimeout bounds every provider HTTP request.
	HTTPTimeout time.Duration
	// Probe enables the post-acquisition liveness check.
	Probe bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Strategy:        StrategyAuto,
		CallbackHost:    defaultCallbackHost,
		CallbackTimeout: defaultCallbackTimeout,
		OpenBrowser:     true,
		Defaults:        map[account.Kind]string{},
		OutlookTenant:   defaultOutlookTenant,
		HTTPTimeout:     defaultHTTPTimeout,
		Probe:           true,
	}
}

// DefaultDir returns the store directory: $CLAWMAIL_CONFIG_DIR, or
// ~/.openclaw/email_config.
func DefaultDir() string {
	if dir := os.Getenv("CLAWMAIL_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".openclaw", "email_config")
	}
	return filepath.Join(home, ".openclaw", "email_config")
}

// Load reads dir/settings.yaml when present and applies environment
// overrides on top of the defaults.
func Load(dir string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read %s: %w", FileName, err)
	default:
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
		if err := cfg.apply(fc); err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", FileName, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(fc fileConfig) error {
	if fc.Strategy != "" {
		c.Strategy = strings.ToLower(fc.Strategy)
	}
	if fc.Callback.Host != "" {
		c.CallbackHost = fc.Callback.Host
	}
	if fc.Callback.Port != 0 {
		c.CallbackPort = fc.Callback.Port
	}
	if fc.Callback.Timeout != "" {
		d, err := time.ParseDuration(fc.Callback.Timeout)
		if err != nil {
			return fmt.Errorf("callback.timeout: %w", err)
		}
		c.CallbackTimeout = d
	}
	if fc.Callback.OpenBrowser != nil {
		c.OpenBrowser = *fc.Callback.OpenBrowser
	}
	for k, id := range fc.Defaults {
		kind, err := account.ParseKind(k)
		if err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
		c.Defaults[kind] = strings.ToLower(id)
	}
	if fc.OutlookTenant != "" {
		c.OutlookTenant = fc.OutlookTenant
	}
	if fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("http_timeout: %w", err)
		}
		c.HTTPTimeout = d
	}
	if fc.Probe != nil {
		c.Probe = *fc.Probe
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CLAWMAIL_STRATEGY"); v != "" {
		c.Strategy = strings.ToLower(v)
	}
	if v := os.Getenv("CLAWMAIL_CALLBACK_HOST"); v != "" {
		c.CallbackHost = v
	}
	if v := os.Getenv("CLAWMAIL_CALLBACK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CLAWMAIL_CALLBACK_PORT: %w", err)
		}
		c.CallbackPort = port
	}
	if v := os.Getenv("CLAWMAIL_CALLBACK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CLAWMAIL_CALLBACK_TIMEOUT: %w", err)
		}
		c.CallbackTimeout = d
	}
	if v := os.Getenv("CLAWMAIL_OPEN_BROWSER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLAWMAIL_OPEN_BROWSER: %w", err)
		}
		c.OpenBrowser = b
	}
	if v := os.Getenv("CLAWMAIL_OUTLOOK_TENANT"); v != "" {
		c.OutlookTenant = v
	}
	if v := os.Getenv("CLAWMAIL_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CLAWMAIL_HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout = d
	}
	if v := os.Getenv("CLAWMAIL_PROBE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CLAWMAIL_PROBE: %w", err)
		}
		c.Probe = b
	}
	return nil
}

// Validate checks the resolved settings.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyAuto, StrategyCallback, StrategyManual, StrategyDevice:
	default:
		return fmt.Errorf("invalid strategy %q, must be one of: auto, callback, manual, device", c.Strategy)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("callback port %d out of range", c.CallbackPort)
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("callback timeout must be positive, got %s", c.CallbackTimeout)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	for kind, id := range c.Defaults {
		if err := account.ValidateID(id); err != nil {
			return fmt.Errorf("default account for %s: %w", kind, err)
		}
	}
	return nil
}

// DefaultAccount returns the account a bare provider name resolves to: the
// configured default, or the account named after the provider.
func (c *Config) DefaultAccount(kind account.Kind) string {
	if id, ok := c.Defaults[kind]; ok && id != "" {
		return id
	}
	return string(kind)
}
