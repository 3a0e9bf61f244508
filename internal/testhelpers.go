package internal

import (
	"fmt"
	"time"
)

// CreateTestTranscript creates a transcript of n alternating user and
// assistant messages, starting with the user
func CreateTestTranscript(id string, n int) *Transcript {
	messages := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		content := fmt.Sprintf("Question %d: I have had a headache since yesterday.", i/2+1)
		if i%2 == 1 {
			role = RoleAssistant
			content = fmt.Sprintf("Answer %d: Rest, drink water and see a doctor if it persists.", i/2+1)
		}
		messages = append(messages, Message{
			ID:      fmt.Sprintf("%d", i+1),
			Role:    role,
			Content: content,
		})
	}
	return CreateTestTranscriptWithMessages(id, messages)
}

// CreateTestTranscriptWithMessages creates a test transcript with custom messages
func CreateTestTranscriptWithMessages(id string, messages []Message) *Transcript {
	t := NewTranscript(id, "remote", messages)
	t.Metadata.APIBase = DefaultAPIBase
	t.Metadata.SyncedAt = time.Now().UTC().Format(time.RFC3339)
	return t
}
