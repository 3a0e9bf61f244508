package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
)

var sessionReset bool

// sessionCmd represents the session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Print the session identifier",
	Long: `Print the identifier that ties this machine to its conversation on the
AI Doctor service.

--reset forgets the identifier and its cached transcript. The next message
starts a brand new session; the old history stays on the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sessionID, ok, err := a.sessions.SessionID(ctx)
		if err != nil {
			return err
		}

		if sessionReset {
			if !ok {
				internal.PrintInfo("No session to reset")
				return nil
			}
			if err := a.sessions.Forget(ctx); err != nil {
				return err
			}
			if err := a.cache.DeleteTranscript(sessionID); err != nil {
				internal.LogWarn("Failed to delete cached transcript: %v", err)
			}
			internal.PrintSuccess(fmt.Sprintf("Forgot session %s", sessionID))
			return nil
		}

		if !ok {
			internal.PrintInfo("No session yet. One is created with your first message.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), sessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.Flags().BoolVar(&sessionReset, "reset", false, "Forget the session identifier")
}
