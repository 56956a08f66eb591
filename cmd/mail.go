package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/clawmail/internal/mail"
)

// mailFlags are shared by read and search.
type mailFlags struct {
	limit  int
	output string
}

func (f *mailFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 10, "Maximum number of messages")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "Output format: text or json")
}

func newReadCmd() *cobra.Command {
	var (
		flags  mailFlags
		filter string
	)

	cmd := &cobra.Command{
		Use:   "read <account>",
		Short: "Read the most recent messages of an account",
		Long: `Read the most recent messages of an account, newest first. The filter is
passed to the provider unchanged: Gmail search syntax ("is:unread") or an
Outlook search expression.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{interactor: newTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			d, report := a.dispatcher(ctx, args[0])
			if err := report.Err(); err != nil && report.Ready() == 0 {
				return withRemedy(err)
			}
			msgs, err := d.Read(ctx, args[0], flags.limit, filter)
			if err != nil {
				return err
			}
			return writeMessages(cmd.OutOrStdout(), msgs, flags.output)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Provider filter expression")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var flags mailFlags

	cmd := &cobra.Command{
		Use:   "search <account> <query>",
		Short: "Search the messages of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{interactor: newTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			d, report := a.dispatcher(ctx, args[0])
			if err := report.Err(); err != nil && report.Ready() == 0 {
				return withRemedy(err)
			}
			msgs, err := d.Search(ctx, args[0], args[1], flags.limit)
			if err != nil {
				return err
			}
			return writeMessages(cmd.OutOrStdout(), msgs, flags.output)
		},
	}

	flags.register(cmd)
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		to      string
		subject string
		body    string
		html    bool
	)

	cmd := &cobra.Command{
		Use:   "send <account>",
		Short: "Send a message from an account",
		Long: `Send a message. With --html the body is sent as HTML and a plain text
alternative is derived from it. Use "-" as the body to read it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read body from stdin: %w", err)
				}
				body = string(data)
			}
			plain, htmlBody := body, ""
			if html {
				plain, htmlBody = "", body
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{interactor: newTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			d, report := a.dispatcher(ctx, args[0])
			if err := report.Err(); err != nil && report.Ready() == 0 {
				return withRemedy(err)
			}
			res, err := d.Send(ctx, args[0], to, subject, plain, htmlBody)
			if err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("provider rejected the message: %s", res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent from %s", res.Account)
			if res.MessageID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (message id %s)", res.MessageID)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient address(es), comma-separated")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject")
	cmd.Flags().StringVar(&body, "body", "", `Body text, or "-" to read it from stdin`)
	cmd.Flags().BoolVar(&html, "html", false, "Send the body as HTML")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func newMarkReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <account> <message-id>...",
		Short: "Mark messages as read",
		Long: `Mark messages as read. Message ids are the ones shown by read and
search.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{interactor: newTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			d, report := a.dispatcher(ctx, args[0])
			if err := report.Err(); err != nil && report.Ready() == 0 {
				return withRemedy(err)
			}
			for _, id := range args[1:] {
				if err := d.MarkRead(ctx, args[0], id); err != nil {
					return fmt.Errorf("failed to mark %s as read: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read\n", id)
			}
			return nil
		},
	}
}

func writeMessages(w io.Writer, msgs []mail.Message, output string) error {
	switch output {
	case "json":
		return writeJSON(w, msgs)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q (expected text or json)", output)
	}

	if len(msgs) == 0 {
		_, err := fmt.Fprintln(w, "No messages.")
		return err
	}
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(w, strings.Repeat("-", 72))
		}
		flag := " "
		if !m.Read {
			flag = "*"
		}
		fmt.Fprintf(w, "%s %s  %s\n", flag, m.Timestamp.Local().Format(time.DateTime), m.ID)
		fmt.Fprintf(w, "  From:    %s\n", m.Sender)
		if m.Recipient != "" {
			fmt.Fprintf(w, "  To:      %s\n", m.Recipient)
		}
		fmt.Fprintf(w, "  Subject: %s\n\n", m.Subject)
		fmt.Fprintln(w, indent(preview(m.PlainBody, 20), "  "))
	}
	return nil
}

// preview returns the first n lines of s.
func preview(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
