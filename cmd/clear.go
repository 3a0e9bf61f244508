package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
)

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation history",
	Long: `Delete the conversation history on the AI Doctor service and the local
cached copy. Your session identifier is kept, so the next message continues
under the same session with an empty history.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.newOrchestrator().Clear(ctx); err != nil {
			return err
		}
		internal.PrintSuccess("Conversation cleared")
		if sessionID, ok, _ := a.sessions.SessionID(ctx); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", sessionID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
