package cmd

import (
	"fmt"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/teemow/clawmail/internal/account"
	"github.com/teemow/clawmail/internal/google"
	"github.com/teemow/clawmail/internal/microsoft"
)

var setupTemplate = template.Must(template.New("setup").Parse(`clawmail reads client configurations from:

  {{.Dir}}

File names decide the account id and the provider:

  {{.GmailNumbered}}        Gmail account "account1"
  {{.GmailDefault}}    Gmail account "gmail"
  {{.GmailNamed}}  Gmail account "work"
  {{.OutlookNumbered}}      Outlook account "account2"
  {{.OutlookDefault}}  Outlook account "outlook"

Tokens are written next to them ({{.TokenExample}}) and are never
read as configuration.

Gmail
  1. Open https://console.cloud.google.com/apis/credentials and create an
     OAuth client of type "Desktop app".
  2. Enable the Gmail API for the project.
  3. Download the client JSON and save it under one of the Gmail names above.
     The "installed", "web" and flat {"client_id", "client_secret"} shapes
     are accepted.
  Scopes requested: {{range .GmailScopes}}
    {{.}}{{end}}

Outlook
  1. Open https://portal.azure.com, "App registrations", "New registration".
  2. Under "Authentication" enable "Allow public client flows" and add the
     redirect URI {{.OutlookRedirect}}
     (and http://localhost for the callback flow).
  3. Save {"client_id": "...", "tenant": "common"} under one of the Outlook
     names above. client_secret is optional.
  Scopes requested: {{range .OutlookScopes}}
    {{.}}{{end}}

Then run:

  clawmail auth            authenticate every account
  clawmail auth --status   show token state without changing anything
`))

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Print provider setup instructions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{
				"Dir":             configDirOrDefault(),
				"GmailNumbered":   account.ConfigFilename("account1", account.Gmail),
				"GmailDefault":    account.ConfigFilename("gmail", account.Gmail),
				"GmailNamed":      account.ConfigFilename("work", account.Gmail),
				"OutlookNumbered": account.ConfigFilename("account2", account.Outlook),
				"OutlookDefault":  account.ConfigFilename("outlook", account.Outlook),
				"TokenExample":    account.TokenFilename("account1", account.Gmail),
				"GmailScopes":     google.Scopes,
				"OutlookScopes":   microsoft.Scopes,
				"OutlookRedirect": microsoft.NativeClientRedirectURL,
			}
			if err := setupTemplate.Execute(cmd.OutOrStdout(), data); err != nil {
				return fmt.Errorf("failed to render setup instructions: %w", err)
			}
			return nil
		},
	}
}
