package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/backend"
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check configuration, local state and backend reachability",
	Long: `Check the health of medichat by verifying:
  • Configuration loading and validation
  • Data directory
  • Local session store
  • Transcript cache
  • AI Doctor service reachability

This command is useful for debugging connection or storage issues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, sectionStyle.Render("🔍 medichat Health Check"))
		fmt.Fprintln(out)

		// Step 1: Configuration
		fmt.Fprintln(out, infoStyle.Render("Step 1: Loading configuration..."))
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Invalid configuration:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("✅ Configuration valid"))
		detail(out, "Backend: %s", cfg.BaseURL())
		detail(out, "Store: %s", cfg.Store)
		detail(out, "Streaming: %v, sync after send: %v", cfg.Stream, cfg.SyncAfterSend)
		fmt.Fprintln(out)

		// Step 2: Data directory
		fmt.Fprintln(out, infoStyle.Render("Step 2: Checking data directory..."))
		if cfg.Paths().Exists() {
			fmt.Fprintln(out, successStyle.Render("✅ Data directory exists"))
		} else {
			fmt.Fprintln(out, warningStyle.Render("⚠️  Data directory not found (created on first use)"))
		}
		detail(out, "Path: %s", cfg.DataDir)
		fmt.Fprintln(out)

		// Step 3: Session store
		fmt.Fprintln(out, infoStyle.Render("Step 3: Opening session store..."))
		store, err := internal.OpenStore(ctx, cfg)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to open store:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		defer store.Close()

		sessionID, hasSession, err := internal.NewSessionStore(store).SessionID(ctx)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Failed to read session:"), err)
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("✅ Store accessible"))
		if hasSession {
			detail(out, "Session: %s", sessionID)
		} else {
			detail(out, "Session: none yet")
		}
		if sqlite, ok := store.(*internal.SQLiteStore); ok {
			if keys, err := sqlite.Keys(""); err == nil {
				detail(out, "Keys: %d", len(keys))
			}
		}
		fmt.Fprintln(out)

		// Step 4: Transcript cache
		fmt.Fprintln(out, infoStyle.Render("Step 4: Checking transcript cache..."))
		index, err := internal.NewCacheManager(cfg.CacheDir()).LoadIndex()
		if err != nil {
			fmt.Fprintln(out, warningStyle.Render("⚠️  Cache index unreadable:"), err)
		} else {
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ %d cached transcript(s)", len(index.Transcripts))))
		}
		detail(out, "Path: %s", cfg.CacheDir())
		fmt.Fprintln(out)

		// Step 5: Backend
		fmt.Fprintln(out, infoStyle.Render("Step 5: Contacting AI Doctor service..."))
		probe := sessionID
		if !hasSession {
			// an unknown session simply has no history
			probe = uuid.NewString()
		}
		client := backend.NewClient(cfg.BaseURL(), backend.WithTimeout(cfg.Timeout), backend.WithUserAgent("medichat/"+version))
		start := time.Now()
		records, err := client.FetchHistory(ctx, probe)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("❌ Service unreachable:"), err)
			fmt.Fprintln(out)
			fmt.Fprintln(out, errorStyle.Render("❌ Health check failed"))
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✅ Service reachable (%v)", time.Since(start).Round(time.Millisecond))))
		if hasSession {
			detail(out, "Messages on server: %d", len(records))
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, sectionStyle.Render("📊 Summary"))
		fmt.Fprintln(out)
		fmt.Fprintln(out, successStyle.Render("✅ Health check passed!"))
		return nil
	},
}

// detail prints an indented line in verbose mode
func detail(w io.Writer, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(w, "   "+format+"\n", args...)
	}
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}
