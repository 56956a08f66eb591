package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/browser"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/auth"
)

func init() {
	// pkg/browser echoes the helper's output; keep stdout for commands.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// openBrowser opens url in the system browser.
func openBrowser(url string) error {
	return browser.OpenURL(url)
}

// terminal relays authentication flows over a terminal.
type terminal struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out}
}

// Present prints what the user has to do for desc.
func (t *terminal) Present(_ context.Context, desc account.Descriptor, p *auth.Pending) error {
	fmt.Fprintf(t.out, "\nAuthenticating %s (%s) using the %s flow.\n", desc.ID, desc.Kind, p.Strategy)
	switch {
	case p.UserCode != "":
		fmt.Fprintf(t.out, "To sign in, open %s and enter the code %s\n", p.VerificationURL, p.UserCode)
		if !p.ExpiresAt.IsZero() {
			fmt.Fprintf(t.out, "The code expires in %s.\n", time.Until(p.ExpiresAt).Round(time.Second))
		}
	case p.AuthURL != "":
		fmt.Fprintf(t.out, "Open this URL in your browser:\n\n  %s\n\n", p.AuthURL)
		if p.NetworkURL != "" {
			fmt.Fprintf(t.out, "From another machine, the callback listener is reachable at %s\n", p.NetworkURL)
		}
	}
	if p.Instructions != "" {
		fmt.Fprintln(t.out, p.Instructions)
	}
	return nil
}

// Input reads one line: the authorization code for the manual flow, the
// token file for import.
func (t *terminal) Input(ctx context.Context, desc account.Descriptor, p *auth.Pending) (string, error) {
	prompt := "Authorization code or redirect URL: "
	if p.Strategy == auth.NameImport {
		prompt = fmt.Sprintf("Token file for %s: ", desc.ID)
	}
	fmt.Fprint(t.out, prompt)

	type line struct {
		s   string
		err error
	}
	ch := make(chan line, 1)
	go func() {
		s, err := t.in.ReadString('\n')
		ch <- line{s, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		s := strings.TrimSpace(l.s)
		if l.err != nil && !(errors.Is(l.err, io.EOF) && s != "") {
			return "", fmt.Errorf("failed to read input: %w", l.err)
		}
		return s, nil
	}
}
