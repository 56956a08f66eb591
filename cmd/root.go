package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/clawmail/internal/settings"
)

// Global flags shared by every subcommand.
var (
	configDir string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command for the clawmail application
var rootCmd = &cobra.Command{
	Use:   "clawmail",
	Short: "Manages Gmail and Outlook credentials and reads and sends email",
	Long: `clawmail keeps OAuth credentials for any number of Gmail and Outlook
accounts usable: it discovers client configurations in the credential
directory, refreshes tokens silently, re-authenticates when a token is dead
and exposes every ready account through one email client.

It can run as:
  - A CLI for authentication, reading, searching and sending
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()
		if configDir == "" {
			configDir = settings.DefaultDir()
		}
		return nil
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "clawmail version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Credential directory (default: $CLAWMAIL_CONFIG_DIR or ~/.openclaw/email_config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newMarkReadCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newVersionCmd())
}
