package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/clawmail/internal/logging"
)

// DefaultCallbackTimeout bounds the wait for the browser redirect.
const DefaultCallbackTimeout = 300 * time.Second

type callbackResult struct {
	code string
	err  error
}

// Callback receives the authorization redirect on a local listener.
type Callback struct {
	Config *oauth2.Config
	// Host is the interface to bind; "0.0.0.0" allows remote browsers.
	Host string
	// Port is the listener port; 0 picks a free one.
	Port int
	// Timeout bounds Complete; zero means DefaultCallbackTimeout.
	Timeout time.Duration
	// OpenBrowser, when set, is called with the authorization URL.
	OpenBrowser func(url string) error
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Name returns "callback".
func (c *Callback) Name() string { return NameCallback }

// Initiate binds the listener and builds the authorization URL. The
// redirect URL embeds the bound port.
func (c *Callback) Initiate(ctx context.Context) (*Pending, error) {
	logger := logging.OrDefault(c.Logger)

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(c.Port)))
	if err != nil {
		return nil, fail(NameCallback, StageListener, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	redirect := fmt.Sprintf("http://localhost:%d/", port)
	verifier := oauth2.GenerateVerifier()
	p := &Pending{
		Strategy:    NameCallback,
		RedirectURL: redirect,
		state:       uuid.NewString(),
		verifier:    verifier,
		result:      make(chan callbackResult, 1),
		listener:    ln,
	}
	p.AuthURL = withRedirect(c.Config, redirect).AuthCodeURL(p.state, authCodeOptions(oauth2.S256ChallengeOption(verifier))...)
	if host == "0.0.0.0" || host == "::" {
		if ip := LocalIP(); ip != "" {
			p.NetworkURL = fmt.Sprintf("http://%s/", net.JoinHostPort(ip, strconv.Itoa(port)))
		}
	}
	p.Instructions = fmt.Sprintf("Open %s in a browser and approve access; waiting on port %d.", p.RedirectURL, port)

	srv := &http.Server{
		Handler:           callbackHandler(p),
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.server = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			logger.Warn("callback listener stopped", logging.Err(err))
		}
	}()
	logger.Debug("callback listener started", "port", port)

	if c.OpenBrowser != nil {
		if err := c.OpenBrowser(p.AuthURL); err != nil {
			logger.Info("could not open browser; open the URL manually", logging.Err(err))
		}
	}
	return p, nil
}

// Complete waits for the redirect and exchanges the code. The listener is
// shut down before returning.
func (c *Callback) Complete(ctx context.Context, p *Pending, _ string) (*oauth2.Token, error) {
	defer p.Close()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-p.result:
	case <-timer.C:
		return nil, fail(NameCallback, StageListener, ErrTimeout)
	case <-ctx.Done():
		return nil, fail(NameCallback, StageListener, ctx.Err())
	}
	if res.err != nil {
		return nil, fail(NameCallback, StageListener, res.err)
	}

	conf := withRedirect(c.Config, p.RedirectURL)
	tok, err := conf.Exchange(withHTTPClient(ctx, c.HTTPClient), res.code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		return nil, fail(NameCallback, StageExchange, err)
	}
	return tok, nil
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html><head><title>{{.Title}}</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h1>{{.Title}}</h1><p>{{.Detail}}</p>
</body></html>
`))

// callbackHandler serves the redirect target. The bare path without
// parameters forwards to the authorization URL.
func callbackHandler(p *Pending) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code, oauthErr := q.Get("code"), q.Get("error")
		if code == "" && oauthErr == "" {
			http.Redirect(w, r, p.AuthURL, http.StatusFound)
			return
		}

		var res callbackResult
		switch {
		case q.Get("state") != p.state:
			res.err = ErrStateMismatch
		case oauthErr != "":
			res.err = fmt.Errorf("%w: %s %s", ErrDenied, oauthErr, q.Get("error_description"))
		default:
			res.code = code
		}

		select {
		case p.result <- res:
		default:
			// a result was already delivered
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		page := struct{ Title, Detail string }{"Authorization complete", "You can close this window and return to the terminal."}
		if res.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			page = struct{ Title, Detail string }{"Authorization failed", res.err.Error()}
		}
		_ = resultPage.Execute(w, page)
	})
}

// LocalIP returns the first non-loopback IPv4 address of this host, or "".
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return ""
}
