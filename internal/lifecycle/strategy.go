package lifecycle

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/auth"
	"github.com/teemow/clawmail/internal/settings"
)

// Interactor relays an authentication flow to the user.
type Interactor interface {
	// Present shows what the user has to act on: an authorization URL or a
	// device code.
	Present(ctx context.Context, desc account.Descriptor, p *auth.Pending) error
	// Input returns what the user supplies: the pasted code for the manual
	// strategy, the token file for import.
	Input(ctx context.Context, desc account.Descriptor, p *auth.Pending) (string, error)
}

// StrategyFunc builds the authentication strategy for an account.
type StrategyFunc func(desc account.Descriptor, conf *oauth2.Config) (auth.Strategy, error)

// CallbackPortBase plus the account number is the listener port of
// account<N> accounts.
const CallbackPortBase = 8080

// strategyFor resolves the configured mode for desc.
func (e *Engine) strategyFor(desc account.Descriptor, p Provider, conf *oauth2.Config) (auth.Strategy, error) {
	if e.cfg.Strategy != nil {
		return e.cfg.Strategy(desc, conf)
	}

	mode := e.cfg.Settings.Strategy
	if mode == "" || mode == settings.StrategyAuto {
		mode = autoMode(desc.Kind, e.cfg.BrowserAvailable)
	}

	switch mode {
	case settings.StrategyCallback:
		cb := &auth.Callback{
			Config:     conf,
			Host:       e.cfg.Settings.CallbackHost,
			Port:       e.callbackPort(desc),
			Timeout:    e.cfg.Settings.CallbackTimeout,
			HTTPClient: e.cfg.HTTPClient,
			Logger:     e.logger,
		}
		if e.cfg.Settings.OpenBrowser {
			cb.OpenBrowser = e.cfg.OpenBrowser
		}
		return cb, nil
	case settings.StrategyManual:
		return &auth.Manual{Config: conf, RedirectURL: p.ManualRedirectURL(), HTTPClient: e.cfg.HTTPClient}, nil
	case settings.StrategyDevice:
		return &auth.Device{Config: conf, HTTPClient: e.cfg.HTTPClient}, nil
	case settings.StrategyImport:
		return &auth.Import{}, nil
	default:
		return nil, fmt.Errorf("unknown authentication strategy %q", mode)
	}
}

// autoMode picks the device flow for Outlook, and for Gmail the local
// callback when a browser is likely reachable, otherwise the manual flow.
func autoMode(kind account.Kind, browserAvailable func() bool) string {
	if kind == account.Outlook {
		return settings.StrategyDevice
	}
	if browserAvailable == nil {
		browserAvailable = BrowserLikely
	}
	if browserAvailable() {
		return settings.StrategyCallback
	}
	return settings.StrategyManual
}

func (e *Engine) callbackPort(desc account.Descriptor) int {
	if e.cfg.Settings.CallbackPort != 0 {
		return e.cfg.Settings.CallbackPort
	}
	if n, ok := account.Number(desc.ID); ok {
		return CallbackPortBase + n
	}
	return 0
}

// BrowserLikely guesses whether a local browser can be opened: never over
// SSH, and on Linux only with a display.
func BrowserLikely() bool {
	if os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "" {
		return false
	}
	if runtime.GOOS == "linux" {
		return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
	}
	return true
}

// needsInput reports whether a strategy consumes Interactor.Input.
func needsInput(s auth.Strategy) bool {
	name := s.Name()
	return name == auth.NameManual || name == auth.NameImport
}
