package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/teemow/clawmail/internal/account"
)

type accountRow struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	ConfigFile  string `json:"config_file"`
	TokenFile   string `json:"token_file"`
	State       string `json:"state"`
	Refreshable bool   `json:"refreshable"`
	Usable      bool   `json:"usable"`
	Error       string `json:"error,omitempty"`
}

func newAccountsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List discovered accounts and their token state",
		Long: `List the accounts found in the credential directory with their token state.
Nothing is refreshed and no network calls are made. Files that look like
client configurations but cannot be used are listed as errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			disc, err := a.store.Discover()
			if err != nil {
				return err
			}

			rows := make([]accountRow, 0, len(disc.Accounts)+len(disc.Problems))
			for _, d := range disc.Accounts {
				st := a.engine.Status(d)
				row := accountRow{
					ID:          d.ID,
					Provider:    d.Kind.String(),
					ConfigFile:  d.ConfigFile,
					TokenFile:   account.TokenFilename(d.ID, d.Kind),
					State:       string(st.State),
					Refreshable: st.Refreshable,
					Usable:      st.Usable(),
				}
				if detail := statusDetail(st); !row.Usable && detail != "" {
					row.Error = detail
				}
				rows = append(rows, row)
			}
			for _, p := range disc.Problems {
				rows = append(rows, accountRow{ConfigFile: p.File, State: "invalid", Error: p.Err.Error()})
			}

			switch output {
			case "json":
				return writeJSON(cmd.OutOrStdout(), rows)
			case "text":
				return writeAccounts(cmd.OutOrStdout(), rows)
			default:
				return fmt.Errorf("unknown output format %q (expected text or json)", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or json")
	return cmd
}

func writeAccounts(w io.Writer, rows []accountRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintf(w, "No accounts found in %s. Run 'clawmail setup' for instructions.\n", configDirOrDefault())
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tPROVIDER\tCONFIG\tSTATE\tUSABLE\tDETAIL")
	for _, r := range rows {
		id, provider := r.ID, r.Provider
		if id == "" {
			id, provider = "-", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n", id, provider, r.ConfigFile, r.State, r.Usable, r.Error)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
