package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/stream"
)

// BackendError is an error the backend reported inside the stream
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Message
}

// ErrorMarkerPrefix separates streamed content from a failure notice
const ErrorMarkerPrefix = "\n\n[Error] "

// Backend is the remote chat service
type Backend interface {
	HistoryFetcher
	OpenChatStream(ctx context.Context, message, sessionID string) (io.ReadCloser, error)
	Ask(ctx context.Context, message, sessionID string) (*internal.ChatAnswer, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

// Sessions provides the durable session identifier
type Sessions interface {
	GetOrCreateSessionID(ctx context.Context) (string, error)
	SessionID(ctx context.Context) (string, bool, error)
}

// TranscriptStore keeps the last synced transcript per session
type TranscriptStore interface {
	SaveTranscript(t *internal.Transcript) error
	DeleteTranscript(sessionID string) error
}

// Options controls the exchange behaviour
type Options struct {
	// Stream requests incremental frames instead of a single answer
	Stream bool
	// SyncAfterSend replaces the conversation with server history once an
	// exchange completes
	SyncAfterSend bool
	// Cache receives every synced transcript. Optional.
	Cache TranscriptStore
	// APIBase is recorded in cached transcripts
	APIBase string
}

// DefaultOptions streams and syncs after every exchange
func DefaultOptions() Options {
	return Options{Stream: true, SyncAfterSend: true}
}

// Exchange is one send-and-receive cycle. Callers use it to wait for the
// reply and to learn whether it failed.
type Exchange struct {
	gen         uint64
	sessionID   string
	UserID      string
	AssistantID string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the exchange has finished, including any history
// sync that follows it
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange has finished
func (e *Exchange) Wait() {
	<-e.done
}

// Err reports why the exchange failed. It is only meaningful once Done is
// closed, and is nil for exchanges that completed or were superseded.
func (e *Exchange) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// SessionID returns the session the exchange was sent under
func (e *Exchange) SessionID() string {
	return e.sessionID
}

// Orchestrator drives exchanges against the backend and applies their
// results to the conversation. Only the most recently started exchange may
// mutate the conversation.
type Orchestrator struct {
	conv     *Conversation
	backend  Backend
	sessions Sessions
	history  *HistorySync
	opts     Options
	newID    func() string

	mu     sync.Mutex
	gen    uint64
	active *Exchange
}

// NewOrchestrator wires an orchestrator to its collaborators
func NewOrchestrator(conv *Conversation, backend Backend, sessions Sessions, opts Options) *Orchestrator {
	return &Orchestrator{
		conv:     conv,
		backend:  backend,
		sessions: sessions,
		history:  NewHistorySync(backend),
		opts:     opts,
		newID:    internal.NewMessageID,
	}
}

// Conversation returns the state the orchestrator mutates
func (o *Orchestrator) Conversation() *Conversation {
	return o.conv
}

// Send starts an exchange for text and returns without waiting for the
// response. Blank input is ignored and yields nil. Any exchange still in
// flight is cancelled and its placeholder finalised.
func (o *Orchestrator) Send(ctx context.Context, text string) *Exchange {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sessionID, sessErr := o.sessions.GetOrCreateSessionID(ctx)

	exCtx, cancel := context.WithCancel(ctx)
	ex := &Exchange{
		sessionID:   sessionID,
		UserID:      o.newID(),
		AssistantID: o.newID(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	o.mu.Lock()
	o.supersedeLocked()
	o.gen++
	ex.gen = o.gen
	err := o.beginLocked(ex, text)
	o.mu.Unlock()

	if err != nil {
		internal.LogError("Chat error: %v", err)
		ex.err = err
		cancel()
		close(ex.done)
		return ex
	}
	if sessErr != nil {
		internal.LogError("Chat error: %v", sessErr)
		o.finish(ex, ErrorMarkerPrefix+sessErr.Error())
		ex.err = sessErr
		cancel()
		close(ex.done)
		return ex
	}

	go o.run(exCtx, ex, text)
	return ex
}

// beginLocked appends the user message and the placeholder and makes ex the
// active exchange. On failure no message of ex is left behind.
func (o *Orchestrator) beginLocked(ex *Exchange, text string) error {
	if err := o.conv.Append(internal.Message{ID: ex.UserID, Role: internal.RoleUser, Content: text}); err != nil {
		o.conv.SetTyping(false)
		return fmt.Errorf("failed to add message: %w", err)
	}
	if err := o.conv.Append(internal.Message{ID: ex.AssistantID, Role: internal.RoleAssistant, Streaming: true}); err != nil {
		o.conv.Remove(ex.UserID)
		o.conv.SetTyping(false)
		return fmt.Errorf("failed to add reply placeholder: %w", err)
	}
	o.active = ex
	o.conv.SetTyping(true)
	return nil
}

// Regenerate discards the assistant message messageID and resends the most
// recent user message. It is a no-op without a user message or when
// messageID names a user message.
func (o *Orchestrator) Regenerate(ctx context.Context, messageID string) *Exchange {
	last, ok := o.conv.LastByRole(internal.RoleUser)
	if !ok {
		return nil
	}
	if target, found := o.conv.Find(messageID); found {
		if target.Role != internal.RoleAssistant {
			return nil
		}
		o.mu.Lock()
		o.conv.Remove(messageID)
		o.mu.Unlock()
	}
	return o.Send(ctx, last.Content)
}

// Clear deletes the server-side history of the current session, then
// empties the conversation and the cached transcript. The session id is
// kept. On failure the local state is untouched.
func (o *Orchestrator) Clear(ctx context.Context) error {
	sessionID, ok, err := o.sessions.SessionID(ctx)
	if err != nil {
		return err
	}
	if ok {
		if err := o.backend.ClearHistory(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
	}

	o.mu.Lock()
	if o.active != nil {
		o.active.cancel()
		o.active = nil
	}
	o.gen++
	o.conv.Reset()
	o.mu.Unlock()

	if ok && o.opts.Cache != nil {
		if err := o.opts.Cache.DeleteTranscript(sessionID); err != nil {
			internal.LogWarn("Failed to delete cached transcript: %v", err)
		}
	}
	internal.LogDebug("Cleared conversation for session %s", sessionID)
	return nil
}

// SyncHistory replaces the conversation with the server transcript of the
// current session. Without a session it does nothing. The result is
// dropped if an exchange started or finished while fetching.
func (o *Orchestrator) SyncHistory(ctx context.Context) error {
	sessionID, ok, err := o.sessions.SessionID(ctx)
	if err != nil || !ok {
		return err
	}
	o.mu.Lock()
	gen := o.gen
	o.mu.Unlock()
	return o.sync(ctx, sessionID, gen)
}

// Cancel aborts the in-flight exchange. Its placeholder receives an error
// marker.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		o.active.cancel()
	}
}

// Wait blocks until the in-flight exchange, if any, has finished
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	ex := o.active
	o.mu.Unlock()
	if ex != nil {
		ex.Wait()
	}
}

func (o *Orchestrator) run(ctx context.Context, ex *Exchange, text string) {
	defer close(ex.done)
	defer ex.cancel()

	start := time.Now()
	var completed bool
	var err error
	if o.opts.Stream {
		completed, err = o.stream(ctx, ex, text)
	} else {
		completed, err = o.ask(ctx, ex, text)
	}
	if errors.As(err, new(*BackendError)) {
		ex.err = err
		return
	}
	if err != nil {
		if o.finish(ex, ErrorMarkerPrefix+err.Error()) {
			internal.LogError("Chat error: %v", err)
			ex.err = err
		} else {
			internal.LogDebug("Exchange %d superseded: %v", ex.gen, err)
		}
		return
	}
	internal.LogDebug("Exchange %d finished in %v", ex.gen, time.Since(start))

	if completed && o.opts.SyncAfterSend {
		if err := o.sync(ctx, ex.sessionID, ex.gen); err != nil {
			internal.LogWarn("History sync failed: %v", err)
		}
	}
}

// stream reports whether the exchange completed without a backend error
func (o *Orchestrator) stream(ctx context.Context, ex *Exchange, text string) (bool, error) {
	body, err := o.backend.OpenChatStream(ctx, text, ex.sessionID)
	if err != nil {
		return false, err
	}
	defer body.Close()

	reader := stream.NewReader(body)
	for frame, err := range reader.Frames(ctx) {
		if err != nil {
			return false, err
		}
		if frame.Delta != "" && !o.appendDelta(ex, frame.Delta) {
			return false, nil
		}
		if frame.Error != "" {
			internal.LogWarn("Backend reported error: %s", frame.Error)
			if o.finish(ex, ErrorMarkerPrefix+frame.Error) {
				return false, &BackendError{Message: frame.Error}
			}
			return false, nil
		}
		if frame.Done {
			break
		}
	}
	return o.finish(ex, ""), nil
}

func (o *Orchestrator) ask(ctx context.Context, ex *Exchange, text string) (bool, error) {
	answer, err := o.backend.Ask(ctx, text, ex.sessionID)
	if err != nil {
		return false, err
	}
	return o.finishWith(ex, func(m *internal.Message) {
		m.Content = answer.Answer
	}), nil
}

func (o *Orchestrator) appendDelta(ex *Exchange, delta string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != ex {
		return false
	}
	o.conv.Update(ex.AssistantID, func(m *internal.Message) {
		m.Content += delta
	})
	return true
}

// finish finalises the placeholder with suffix appended and reports whether
// ex was still the active exchange
func (o *Orchestrator) finish(ex *Exchange, suffix string) bool {
	return o.finishWith(ex, func(m *internal.Message) {
		m.Content += suffix
	})
}

func (o *Orchestrator) finishWith(ex *Exchange, fn func(m *internal.Message)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != ex {
		return false
	}
	o.conv.Update(ex.AssistantID, func(m *internal.Message) {
		fn(m)
		m.Streaming = false
	})
	o.conv.SetTyping(false)
	o.active = nil
	return true
}

// supersedeLocked cancels the active exchange and finalises its placeholder
// without an error marker
func (o *Orchestrator) supersedeLocked() {
	prev := o.active
	if prev == nil {
		return
	}
	prev.cancel()
	o.conv.Update(prev.AssistantID, func(m *internal.Message) {
		m.Streaming = false
	})
	o.active = nil
	internal.LogDebug("Exchange %d superseded", prev.gen)
}

func (o *Orchestrator) sync(ctx context.Context, sessionID string, gen uint64) error {
	msgs, err := o.history.Fetch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			internal.LogDebug("History sync cancelled")
			return nil
		}
		return err
	}

	o.mu.Lock()
	if o.gen != gen || o.active != nil {
		o.mu.Unlock()
		internal.LogDebug("Discarding stale history for session %s", sessionID)
		return nil
	}
	o.conv.Replace(msgs)
	o.mu.Unlock()

	if o.opts.Cache != nil {
		t := internal.NewTranscript(sessionID, "remote", msgs)
		t.Metadata.APIBase = o.opts.APIBase
		t.Metadata.SyncedAt = time.Now().UTC().Format(time.RFC3339)
		if err := o.opts.Cache.SaveTranscript(t); err != nil {
			internal.LogWarn("Failed to cache transcript: %v", err)
		}
	}
	return nil
}
