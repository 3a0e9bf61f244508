package internal

// Transcript is a snapshot of a session's conversation, used for caching and export
type Transcript struct {
	ID       string    `json:"id" yaml:"id"`
	Source   string    `json:"source" yaml:"source"` // "remote", "cache", "local"
	Messages []Message `json:"messages" yaml:"messages"`
	Metadata Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Metadata contains additional transcript information
type Metadata struct {
	APIBase      string `json:"api_base,omitempty" yaml:"api_base,omitempty"`
	SyncedAt     string `json:"synced_at,omitempty" yaml:"synced_at,omitempty"`
	MessageCount int    `json:"message_count" yaml:"message_count"`
}

// NewTranscript builds a transcript for a session from a message list
func NewTranscript(sessionID, source string, messages []Message) *Transcript {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return &Transcript{
		ID:       sessionID,
		Source:   source,
		Messages: msgs,
		Metadata: Metadata{MessageCount: len(msgs)},
	}
}
