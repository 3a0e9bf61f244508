package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
)

var (
	verbose    bool
	configPath string
	apiBase    string
	dataDir    string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "medichat",
	Short: "Chat with the AI Doctor assistant from your terminal",
	Long: `A terminal client for the AI Doctor medical-assistant service.

Replies stream in as they are generated. Your conversation is tied to a
session identifier stored locally, so history survives restarts and can be
re-synced from the service at any time.

Quick Start:
  medichat chat                          # Start an interactive conversation
  medichat chat "I have a sore throat"   # Ask a single question
  medichat history                       # Show the conversation so far
  medichat export --format md            # Export the conversation as Markdown
  medichat clear                         # Start over (keeps your session)

The assistant does not replace professional medical advice.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api-base", "", "Backend base URL (overrides config and MEDICHAT_API_BASE)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for local state and cache (overrides MEDICHAT_DATA_DIR)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
