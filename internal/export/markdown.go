package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/medichat/internal"
)

// MarkdownExporter exports transcripts in Markdown format
type MarkdownExporter struct{}

// Export exports a transcript to Markdown format
func (e *MarkdownExporter) Export(transcript *internal.Transcript, w io.Writer) error {
	// Header
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", transcript.ID)

	_, _ = fmt.Fprintf(w, "**Source:** %s  \n", transcript.Source)
	if transcript.Metadata.APIBase != "" {
		_, _ = fmt.Fprintf(w, "**Backend:** %s  \n", transcript.Metadata.APIBase)
	}
	if transcript.Metadata.SyncedAt != "" {
		_, _ = fmt.Fprintf(w, "**Synced:** %s  \n", transcript.Metadata.SyncedAt)
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(transcript.Messages))

	_, _ = fmt.Fprintf(w, "---\n\n")
	_, _ = fmt.Fprintf(w, "## Messages\n\n")

	for i, msg := range transcript.Messages {
		_, _ = fmt.Fprintf(w, "**%s:**\n\n%s\n\n", roleLabel(msg.Role), escapeMarkdown(msg.Content))

		if i < len(transcript.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

func roleLabel(role internal.Role) string {
	switch role {
	case internal.RoleUser:
		return "You"
	case internal.RoleAssistant:
		return "AI Doctor"
	default:
		return string(role)
	}
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCodeBlock = !inCodeBlock
			result = append(result, line)
		} else if inCodeBlock {
			result = append(result, line)
		} else {
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
