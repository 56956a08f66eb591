package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/lifecycle"
	"github.com/teemow/clawmail/internal/registry"
	"github.com/teemow/clawmail/internal/settings"
)

func newAuthCmd() *cobra.Command {
	var (
		status    bool
		urlOnly   bool
		code      string
		strategy  string
		timeout   time.Duration
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "auth [account|all]",
		Short: "Authenticate accounts",
		Long: `Make accounts usable: valid tokens are kept, expired tokens are refreshed
silently and accounts without a usable token are authenticated interactively.

The argument is an account id (account1, work), a provider name (gmail,
outlook) or "all" (default).

Strategies:
  auto      device flow for Outlook; local callback for Gmail when a browser
            is reachable, otherwise the manual flow
  callback  local listener on port 8080+N for account<N>
  manual    open the URL, then paste the code or the final redirect URL
  device    enter a short code at the provider's verification page
  import    read a token minted on another machine

For a two-step manual flow across processes use --url, then --code.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = strings.ToLower(args[0])
			}
			if (urlOnly || code != "") && target == "all" {
				return errors.New("--url and --code need a single account")
			}

			ctx := cmd.Context()
			opts := appOptions{strategy: strategy, timeout: timeout, noBrowser: noBrowser}
			if !status && !urlOnly && code == "" {
				opts.interactor = newTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			out := cmd.OutOrStdout()
			switch {
			case status:
				return runAuthStatus(out, a, target)
			case urlOnly:
				return runAuthURL(ctx, out, a, target)
			case code != "":
				return runAuthCode(ctx, out, a, target, code)
			}

			var only []string
			if target != "all" {
				only = []string{target}
			}
			_, report := a.registry(ctx, only...)
			printReport(out, report)
			if err := report.Err(); err != nil {
				return fmt.Errorf("%d of %d account(s) failed", len(report.Failed())+len(report.Problems), len(report.Outcomes)+len(report.Problems))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "Show the token state of each account without changing anything")
	cmd.Flags().BoolVar(&urlOnly, "url", false, "Print the manual authorization URL and exit")
	cmd.Flags().StringVar(&code, "code", "", "Complete the manual flow with this authorization code or redirect URL")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Authentication strategy: auto, callback, manual, device or import (default from settings)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long the callback listener waits for the browser (default 5m)")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not open the system browser")

	cmd.AddCommand(newAuthImportCmd())
	return cmd
}

func newAuthImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <account> <token-file>",
		Short: "Import a token minted on another machine",
		Long: `Import a token for a headless deployment. The file may be a token record
written by clawmail, a Google authorized-user file or a plain OAuth token
JSON with access_token, refresh_token and expiry. The client configuration of
the account must be present.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			desc, err := a.descriptor(args[0])
			if err != nil {
				return err
			}
			sess, err := a.engine.Import(ctx, desc, args[1])
			if err != nil {
				return withRemedy(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported token for %s (%s)%s\n", desc.ID, desc.Kind, profileSuffix(sess))
			return nil
		},
	}
}

func runAuthStatus(w io.Writer, a *app, target string) error {
	disc, err := a.store.Discover()
	if err != nil {
		return err
	}

	var descs []account.Descriptor
	if target == "all" {
		descs = disc.Accounts
	} else {
		d, err := a.descriptor(target)
		if err != nil {
			return err
		}
		descs = []account.Descriptor{d}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tPROVIDER\tSTATE\tEXPIRES\tDETAIL")
	unusable := 0
	for _, d := range descs {
		st := a.engine.Status(d)
		if !st.Usable() {
			unusable++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Kind, st.State, expiry(st), statusDetail(st))
	}
	if target == "all" {
		for _, p := range disc.Problems {
			fmt.Fprintf(tw, "%s\t-\tunusable\t-\t%v\n", p.File, p.Err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(descs) == 0 {
		fmt.Fprintf(w, "No accounts found in %s. Run 'clawmail setup' for instructions.\n", a.store.Dir())
	}
	return nil
}

func expiry(st *lifecycle.Status) string {
	if st.Expiry.IsZero() {
		return "-"
	}
	return st.Expiry.Local().Format(time.DateTime)
}

func statusDetail(st *lifecycle.Status) string {
	switch {
	case st.ConfigErr != nil:
		return st.ConfigErr.Error()
	case st.TokenErr != nil:
		return st.TokenErr.Error()
	case len(st.MissingScopes) > 0:
		return "missing scopes: " + strings.Join(st.MissingScopes, " ")
	case st.State == lifecycle.StateNoToken:
		return "run 'clawmail auth " + st.Descriptor.ID + "'"
	case st.State == lifecycle.StateExpiredRefreshable:
		return "will refresh on next use"
	}
	return ""
}

func runAuthURL(ctx context.Context, w io.Writer, a *app, target string) error {
	desc, err := a.descriptor(target)
	if err != nil {
		return err
	}
	p, err := a.engine.AuthURL(ctx, desc)
	if err != nil {
		return withRemedy(err)
	}
	fmt.Fprintf(w, "Open this URL in your browser:\n\n  %s\n\nThen run: clawmail auth %s --code <code>\n", p.AuthURL, desc.ID)
	return nil
}

func runAuthCode(ctx context.Context, w io.Writer, a *app, target, code string) error {
	desc, err := a.descriptor(target)
	if err != nil {
		return err
	}
	sess, err := a.engine.CompleteCode(ctx, desc, code)
	if err != nil {
		return withRemedy(err)
	}
	fmt.Fprintf(w, "Authenticated %s (%s)%s\n", desc.ID, desc.Kind, profileSuffix(sess))
	return nil
}

func profileSuffix(sess *lifecycle.Session) string {
	if sess == nil || sess.Profile == nil || sess.Profile.Address == "" {
		return ""
	}
	return " as " + sess.Profile.Address
}

// printReport writes one line per account of a registry build.
func printReport(w io.Writer, report *registry.Report) {
	if report.DiscoveryErr != nil {
		fmt.Fprintf(w, "Discovery failed: %v\n", report.DiscoveryErr)
	}
	for _, p := range report.Problems {
		fmt.Fprintf(w, "FAIL %s: %v\n", p.File, p.Err)
	}
	for _, o := range report.Outcomes {
		if !o.OK() {
			fmt.Fprintf(w, "FAIL %s: %v\n     %s\n", o.ID, o.Err, remedyHint(o.Remedy, o.ID))
			continue
		}
		how := "token valid"
		switch {
		case o.Reused:
			how = "unchanged"
		case o.Session.Strategy != "":
			how = "authenticated via " + o.Session.Strategy
		case o.Session.Entry == lifecycle.StateExpiredRefreshable:
			how = "token refreshed"
		}
		fmt.Fprintf(w, "OK   %s (%s): %s%s\n", o.ID, o.Descriptor.Kind, how, profileSuffix(o.Session))
	}
	if len(report.Outcomes) == 0 && report.DiscoveryErr == nil {
		fmt.Fprintln(w, "No accounts found. Run 'clawmail setup' for instructions.")
	}
}

func remedyHint(r lifecycle.Remedy, id string) string {
	switch r {
	case lifecycle.RemedyReauthenticate:
		return fmt.Sprintf("run 'clawmail auth %s' to sign in again", id)
	case lifecycle.RemedyReconfigure:
		return fmt.Sprintf("check the client configuration in %s (see 'clawmail setup')", configDirOrDefault())
	case lifecycle.RemedyRetry:
		return "temporary failure, try again"
	default:
		return "see the error above"
	}
}

func withRemedy(err error) error {
	var ae *lifecycle.AccountError
	if !errors.As(err, &ae) {
		return err
	}
	return fmt.Errorf("%w (%s)", err, remedyHint(lifecycle.Classify(err), ae.Account))
}

func configDirOrDefault() string {
	if configDir != "" {
		return configDir
	}
	return settings.DefaultDir()
}
