package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a backend role string to a Role
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	default:
		return "", false
	}
}

// Message represents one turn in the conversation
type Message struct {
	ID        string `json:"id" yaml:"id"`
	Role      Role   `json:"role" yaml:"role"`
	Content   string `json:"content" yaml:"content"`
	Streaming bool   `json:"streaming,omitempty" yaml:"streaming,omitempty"`
}

// NewMessageID returns a locally unique message identifier
func NewMessageID() string {
	return uuid.NewString()
}

// RecordID is a backend message id. The backend emits integer row ids, but
// string ids are accepted too.
type RecordID string

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid message id %s: %w", data, err)
	}
	*id = RecordID(n.String())
	return nil
}

// HistoryRecord is one message as stored by the backend
type HistoryRecord struct {
	ID        RecordID `json:"id"`
	SessionID string   `json:"session_id,omitempty"`
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp string   `json:"ts,omitempty"`
}

// HistoryResponse is the body of GET /history/{session_id}
type HistoryResponse struct {
	Messages []HistoryRecord `json:"messages"`
}

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Stream    bool   `json:"stream"`
}

// ChatAnswer is the non-streaming response of POST /chat
type ChatAnswer struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}
