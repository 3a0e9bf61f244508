package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/chat"
)

func state(typing bool, msgs ...internal.Message) chat.State {
	return chat.State{Messages: msgs, Typing: typing}
}

func TestStreamRenderer(t *testing.T) {
	var out, status bytes.Buffer
	r := newStreamRenderer(&out, &status)

	user := internal.Message{ID: "u", Role: internal.RoleUser, Content: "Hello"}
	reply := internal.Message{ID: "a", Role: internal.RoleAssistant, Streaming: true}

	r.Observe(state(false, user))
	r.Observe(state(true, user, reply))
	reply.Content = "Hi"
	r.Observe(state(true, user, reply))
	reply.Content = "Hi there"
	r.Observe(state(true, user, reply))
	reply.Streaming = false
	r.Observe(state(false, user, reply))
	// history replacement after the exchange prints nothing
	r.Observe(state(false, internal.Message{ID: "1", Role: internal.RoleUser, Content: "Hello"}))

	got := out.String()
	if strings.Count(got, "AI Doctor:") != 1 {
		t.Errorf("label printed %d times, want 1: %q", strings.Count(got, "AI Doctor:"), got)
	}
	if !strings.Contains(got, "Hi there\n\n") {
		t.Errorf("output = %q, want finished reply", got)
	}
	if strings.Contains(got, "Hello") {
		t.Errorf("user message should not be echoed: %q", got)
	}
	if status.Len() != 0 {
		t.Errorf("spinner wrote to a non-terminal: %q", status.String())
	}
}

func TestStreamRenderer_Superseded(t *testing.T) {
	var out bytes.Buffer
	r := newStreamRenderer(&out, &bytes.Buffer{})

	first := internal.Message{ID: "a1", Role: internal.RoleAssistant, Content: "Par", Streaming: true}
	r.Observe(state(true, first))

	first.Streaming = false
	first.Content = "Partial"
	second := internal.Message{ID: "a2", Role: internal.RoleAssistant, Content: "New", Streaming: true}
	r.Observe(state(true, first, second))
	r.Flush()

	got := out.String()
	if strings.Count(got, "AI Doctor:") != 2 {
		t.Errorf("want two labels: %q", got)
	}
	if !strings.Contains(got, "Partial\n\n") || !strings.Contains(got, "New\n\n") {
		t.Errorf("output = %q", got)
	}
}

func TestStreamRenderer_ErrorMarker(t *testing.T) {
	var out bytes.Buffer
	r := newStreamRenderer(&out, &bytes.Buffer{})

	m := internal.Message{ID: "a", Role: internal.RoleAssistant, Content: "Partial", Streaming: true}
	r.Observe(state(true, m))
	m.Content += chat.ErrorMarkerPrefix + "overloaded"
	m.Streaming = false
	r.Observe(state(false, m))

	got := out.String()
	if !strings.Contains(got, "Partial\n\n[Error] overloaded") {
		t.Errorf("output = %q", got)
	}
}

func TestStreamRenderer_Cleared(t *testing.T) {
	var out bytes.Buffer
	r := newStreamRenderer(&out, &bytes.Buffer{})

	r.Observe(state(true, internal.Message{ID: "a", Role: internal.RoleAssistant, Content: "Thin", Streaming: true}))
	r.Observe(state(false))
	r.Flush()

	if got := out.String(); !strings.HasSuffix(got, "Thin\n\n") {
		t.Errorf("output = %q", got)
	}
}

func TestDisplayMessages(t *testing.T) {
	msgs := internal.CreateTestTranscript("s", 4).Messages

	var buf bytes.Buffer
	displayMessages(&buf, msgs, 2)
	got := buf.String()

	if !strings.Contains(got, "2 earlier messages not shown") {
		t.Errorf("missing truncation notice: %q", got)
	}
	if strings.Contains(got, "Question 1") || !strings.Contains(got, "Question 2") {
		t.Errorf("wrong messages shown: %q", got)
	}
	if !strings.Contains(got, "You:") || !strings.Contains(got, "AI Doctor:") {
		t.Errorf("missing role labels: %q", got)
	}
}

func TestDisplayMessage_Empty(t *testing.T) {
	var buf bytes.Buffer
	displayMessage(&buf, internal.Message{ID: "a", Role: internal.RoleAssistant})
	if !strings.Contains(buf.String(), "(empty message)") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"short", "hello world", 20, "hello world"},
		{"wrapped", "one two three four", 9, "one two\nthree\nfour"},
		{"keeps newlines", "a\nb", 10, "a\nb"},
		{"long word", "abcdefghijkl xy", 5, "abcdefghijkl\nxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wrapText(tt.text, tt.width); got != tt.want {
				t.Errorf("wrapText() = %q, want %q", got, tt.want)
			}
		})
	}
}
