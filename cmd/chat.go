package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/chat"
)

var (
	chatNoStream bool
	chatShowLast int
)

var errEmptyMessage = errors.New("message is empty")

const chatHelp = `Commands:
  /regenerate   Ask again for the last answer
  /history      Re-sync and show the conversation
  /clear        Clear the conversation (keeps your session)
  /help         Show this help
  /quit         Leave the chat`

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask a question, or start an interactive conversation",
	Long: `Send a message to the AI Doctor and stream the reply.

With a message argument, the reply is printed and the command exits.
Without one, an interactive conversation starts. Recent history is
shown first; type /help for the available commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				internal.LogWarn("Failed to close store: %v", err)
			}
		}()
		if chatNoStream {
			a.cfg.Stream = false
		}

		orch := a.newOrchestrator()
		renderer := newStreamRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr())
		orch.Conversation().OnChange(renderer.Observe)

		if len(args) > 0 {
			err := sendAndWait(ctx, orch, renderer, strings.Join(args, " "))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		return runInteractive(ctx, orch, renderer, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// sendAndWait returns errEmptyMessage for blank text, otherwise the error
// the exchange ended with
func sendAndWait(ctx context.Context, orch *chat.Orchestrator, r *streamRenderer, text string) error {
	ex := orch.Send(ctx, text)
	if ex == nil {
		return errEmptyMessage
	}
	ex.Wait()
	r.Flush()
	if err := ex.Err(); err != nil {
		return fmt.Errorf("no complete reply: %w", err)
	}
	return nil
}

func runInteractive(ctx context.Context, orch *chat.Orchestrator, r *streamRenderer, in io.Reader, out io.Writer) error {
	if err := orch.SyncHistory(ctx); err != nil {
		internal.LogWarn("Could not load history: %v", err)
	}
	if msgs := orch.Conversation().Messages(); len(msgs) > 0 {
		displayMessages(out, msgs, chatShowLast)
	}
	fmt.Fprintln(out, metaStyle.Render("Type your message, or /help. Ctrl+C or /quit to leave."))

	lines := readLines(in)
	for {
		fmt.Fprint(out, userLabelStyle.Render(userLabel+": "))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprintln(out, chatHelp)
		case line == "/clear":
			if err := orch.Clear(ctx); err != nil {
				internal.PrintError(fmt.Sprintf("Failed to clear conversation: %v", err))
				continue
			}
			internal.PrintSuccess("Conversation cleared")
		case line == "/history":
			if err := orch.SyncHistory(ctx); err != nil {
				internal.PrintWarning(fmt.Sprintf("Could not sync history: %v", err))
			}
			displayMessages(out, orch.Conversation().Messages(), 0)
		case line == "/regenerate":
			last, ok := orch.Conversation().LastByRole(internal.RoleAssistant)
			if !ok {
				internal.PrintWarning("Nothing to regenerate yet")
				continue
			}
			if ex := orch.Regenerate(ctx, last.ID); ex != nil {
				ex.Wait()
				r.Flush()
			}
		case strings.HasPrefix(line, "/"):
			internal.PrintWarning(fmt.Sprintf("Unknown command %s, type /help", line))
		default:
			// Failures are already shown inline in the reply
			if err := sendAndWait(ctx, orch, r, line); err != nil {
				internal.LogDebug("Exchange failed: %v", err)
			}
		}
	}
}

// readLines delivers input lines until EOF. The reader is abandoned if the
// context ends first.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			internal.LogWarn("Failed to read input: %v", err)
		}
	}()
	return lines
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "Wait for the full answer instead of streaming it")
	chatCmd.Flags().IntVarP(&chatShowLast, "last", "n", 10, "Number of earlier messages to show when the chat starts (0 for all)")
}
