package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
)

var (
	historyOffline bool
	historyLimit   int
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation of the current session",
	Long: `Sync the conversation from the AI Doctor service and print it.

If the service cannot be reached, the copy cached by the last successful
sync is shown instead. Use --offline to skip the network entirely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.loadTranscript(ctx, historyOffline)
		if errors.Is(err, errNoSession) {
			internal.PrintInfo("No conversation yet. Start one with 'medichat chat'.")
			return nil
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		displayTranscriptHeader(out, t)
		if len(t.Messages) == 0 {
			fmt.Fprintln(out, metaStyle.Render("(no messages)"))
			return nil
		}
		displayMessages(out, t.Messages, historyLimit)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyOffline, "offline", false, "Show the cached transcript without contacting the service")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show only the last N messages")
}
