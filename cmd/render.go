package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/chat"
)

var (
	userLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true)

	errorMarkerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	messageContentStyle = lipgloss.NewStyle().
				Padding(0, 2).
				MarginBottom(1)
)

const (
	userLabel      = "You"
	assistantLabel = "AI Doctor"
)

// streamRenderer prints the streaming assistant message as deltas arrive.
// It follows the single streaming message in each snapshot and ignores
// history replacement.
type streamRenderer struct {
	out     io.Writer
	spinner *internal.Spinner

	mu      sync.Mutex
	current string
	printed int
}

func newStreamRenderer(out, status io.Writer) *streamRenderer {
	return &streamRenderer{
		out:     out,
		spinner: internal.NewSpinner(status, "thinking..."),
	}
}

// Observe is registered as the conversation observer
func (r *streamRenderer) Observe(s chat.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	streaming, isStreaming := s.Streaming()

	if r.current != "" && (!isStreaming || streaming.ID != r.current) {
		if m, ok := findMessage(s.Messages, r.current); ok {
			r.writeFrom(m.Content)
		}
		r.endLocked()
	}

	if isStreaming {
		if r.current == "" {
			r.current = streaming.ID
			r.printed = 0
			fmt.Fprintf(r.out, "%s ", assistantLabelStyle.Render(assistantLabel+":"))
		}
		r.writeFrom(streaming.Content)
	}

	if s.Typing && r.current != "" && r.printed == 0 {
		r.spinner.Start()
	}
}

// Flush terminates a message left open, e.g. when the conversation was
// cleared mid-stream
func (r *streamRenderer) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != "" {
		r.endLocked()
	}
}

func (r *streamRenderer) writeFrom(content string) {
	if r.printed >= len(content) {
		return
	}
	r.spinner.Stop()
	delta := content[r.printed:]
	r.printed = len(content)

	if i := strings.Index(delta, chat.ErrorMarkerPrefix); i >= 0 {
		fmt.Fprint(r.out, delta[:i])
		fmt.Fprint(r.out, "\n\n"+errorMarkerStyle.Render(strings.TrimPrefix(delta[i:], "\n\n")))
		return
	}
	fmt.Fprint(r.out, delta)
}

func (r *streamRenderer) endLocked() {
	r.spinner.Stop()
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out)
	r.current = ""
	r.printed = 0
}

func findMessage(msgs []internal.Message, id string) (internal.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return internal.Message{}, false
}

// displayTranscriptHeader prints the session summary line
func displayTranscriptHeader(w io.Writer, t *internal.Transcript) {
	parts := []string{fmt.Sprintf("Session %s", t.ID), fmt.Sprintf("Messages: %d", len(t.Messages))}
	if t.Source != "" {
		parts = append(parts, fmt.Sprintf("Source: %s", t.Source))
	}
	if t.Metadata.SyncedAt != "" {
		parts = append(parts, fmt.Sprintf("Synced: %s", t.Metadata.SyncedAt))
	}
	fmt.Fprintln(w, metaStyle.Render(strings.Join(parts, " • ")))
	fmt.Fprintln(w)
}

// displayMessages prints messages with role labels. limit > 0 keeps only the
// most recent ones.
func displayMessages(w io.Writer, msgs []internal.Message, limit int) {
	if limit > 0 && len(msgs) > limit {
		fmt.Fprintln(w, metaStyle.Render(fmt.Sprintf("(%d earlier messages not shown)", len(msgs)-limit)))
		fmt.Fprintln(w)
		msgs = msgs[len(msgs)-limit:]
	}
	for _, m := range msgs {
		displayMessage(w, m)
	}
}

func displayMessage(w io.Writer, msg internal.Message) {
	var label string
	switch msg.Role {
	case internal.RoleUser:
		label = userLabelStyle.Render(userLabel + ":")
	case internal.RoleAssistant:
		label = assistantLabelStyle.Render(assistantLabel + ":")
	default:
		label = metaStyle.Render(string(msg.Role) + ":")
	}
	fmt.Fprintln(w, label)

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		fmt.Fprintln(w, messageContentStyle.Foreground(lipgloss.Color("240")).Render("(empty message)"))
		return
	}
	fmt.Fprintln(w, messageContentStyle.Render(wrapText(content, 80)))
}

func wrapText(text string, width int) string {
	lines := strings.Split(text, "\n")
	var wrapped []string

	for _, line := range lines {
		if len(line) <= width {
			wrapped = append(wrapped, line)
			continue
		}

		words := strings.Fields(line)
		currentLine := ""
		for _, word := range words {
			if len(currentLine)+len(word)+1 > width {
				if currentLine != "" {
					wrapped = append(wrapped, currentLine)
					currentLine = word
				} else {
					wrapped = append(wrapped, word)
					currentLine = ""
				}
			} else {
				if currentLine == "" {
					currentLine = word
				} else {
					currentLine += " " + word
				}
			}
		}
		if currentLine != "" {
			wrapped = append(wrapped, currentLine)
		}
	}

	return strings.Join(wrapped, "\n")
}
