// Package chat holds the conversation state and the exchange lifecycle that
// mutates it.
package chat

import (
	"fmt"
	"sync"

	"github.com/iksnae/medichat/internal"
)

// State is a read-only snapshot of the conversation
type State struct {
	Messages []internal.Message
	Typing   bool
}

// Streaming returns the message currently receiving deltas, if any
func (s State) Streaming() (internal.Message, bool) {
	for _, m := range s.Messages {
		if m.Streaming {
			return m, true
		}
	}
	return internal.Message{}, false
}

// Observer is notified with a fresh snapshot after every mutation. It runs
// with the conversation locked and must not call back into it.
type Observer func(State)

// Conversation is the ordered message list shared by the send, sync and
// clear operations. Identifiers are unique at all times.
type Conversation struct {
	mu       sync.Mutex
	messages []internal.Message
	typing   bool
	observer Observer
}

// NewConversation returns an empty conversation
func NewConversation() *Conversation {
	return &Conversation{}
}

// OnChange registers the observer, replacing any previous one
func (c *Conversation) OnChange(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Snapshot returns a copy of the current state
func (c *Conversation) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Messages returns a copy of the message list
func (c *Conversation) Messages() []internal.Message {
	return c.Snapshot().Messages
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Find returns the message with the given id
func (c *Conversation) Find(id string) (internal.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(id); i >= 0 {
		return c.messages[i], true
	}
	return internal.Message{}, false
}

// LastByRole returns the most recent message with the given role
func (c *Conversation) LastByRole(role internal.Role) (internal.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			return c.messages[i], true
		}
	}
	return internal.Message{}, false
}

// Append adds a message at the end. Duplicate ids are rejected.
func (c *Conversation) Append(m internal.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(m.ID) >= 0 {
		return fmt.Errorf("duplicate message id %q", m.ID)
	}
	c.messages = append(c.messages, m)
	c.notifyLocked()
	return nil
}

// Update applies fn to the message with the given id. The id and role are
// restored afterwards. It reports whether the message exists.
func (c *Conversation) Update(id string, fn func(m *internal.Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	m := c.messages[i]
	fn(&m)
	m.ID, m.Role = c.messages[i].ID, c.messages[i].Role
	c.messages[i] = m
	c.notifyLocked()
	return true
}

// Remove deletes the message with the given id
func (c *Conversation) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
	c.notifyLocked()
	return true
}

// Replace discards every message and substitutes msgs. Messages with an
// empty or already used id get a fresh local id.
func (c *Conversation) Replace(msgs []internal.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool, len(msgs))
	replaced := make([]internal.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || seen[m.ID] {
			internal.LogWarn("Message id %q is empty or repeated, assigning a local id", m.ID)
			m.ID = internal.NewMessageID()
		}
		seen[m.ID] = true
		replaced = append(replaced, m)
	}
	c.messages = replaced
	c.notifyLocked()
}

// Reset removes every message and clears the typing indicator
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.typing = false
	c.notifyLocked()
}

// SetTyping sets the typing indicator
func (c *Conversation) SetTyping(typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typing == typing {
		return
	}
	c.typing = typing
	c.notifyLocked()
}

func (c *Conversation) indexLocked(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) snapshotLocked() State {
	msgs := make([]internal.Message, len(c.messages))
	copy(msgs, c.messages)
	return State{Messages: msgs, Typing: c.typing}
}

func (c *Conversation) notifyLocked() {
	if c.observer != nil {
		c.observer(c.snapshotLocked())
	}
}
