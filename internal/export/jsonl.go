package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iksnae/medichat/internal"
)

// JSONLExporter exports transcripts in JSONL format (one message per line)
type JSONLExporter struct{}

type jsonlLine struct {
	SessionID string        `json:"session_id"`
	ID        string        `json:"id"`
	Role      internal.Role `json:"role"`
	Content   string        `json:"content"`
}

// Export exports a transcript to JSONL format
func (e *JSONLExporter) Export(transcript *internal.Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, msg := range transcript.Messages {
		line := jsonlLine{
			SessionID: transcript.ID,
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
