package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iksnae/medichat/internal"
	"github.com/iksnae/medichat/internal/backend"
	"github.com/iksnae/medichat/testutil"
)

const testSession = "11111111-2222-4333-8444-555555555555"

type fakeSessions struct {
	mu      sync.Mutex
	id      string
	created bool
	err     error
}

func (f *fakeSessions) GetOrCreateSessionID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created = true
	return f.id, nil
}

func (f *fakeSessions) SessionID(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.created, f.err
}

type recordingCache struct {
	mu      sync.Mutex
	saved   []*internal.Transcript
	deleted []string
}

func (r *recordingCache) SaveTranscript(t *internal.Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, t)
	return nil
}

func (r *recordingCache) DeleteTranscript(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, sessionID)
	return nil
}

// streamingWatch records the largest number of simultaneously streaming
// messages seen by the observer
type streamingWatch struct {
	mu  sync.Mutex
	max int
}

func (w *streamingWatch) observe(s State) {
	n := 0
	for _, m := range s.Messages {
		if m.Streaming {
			n++
		}
	}
	w.mu.Lock()
	if n > w.max {
		w.max = n
	}
	w.mu.Unlock()
}

func (w *streamingWatch) Max() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.max
}

func newTestOrchestrator(t *testing.T, fb *testutil.FakeBackend, opts Options) (*Orchestrator, *fakeSessions) {
	t.Helper()
	sessions := &fakeSessions{id: testSession}
	client := backend.NewClient(fb.URL(), backend.WithTimeout(5*time.Second))
	return NewOrchestrator(NewConversation(), client, sessions, opts), sessions
}

func waitExchange(t *testing.T, ex *Exchange) {
	t.Helper()
	require.NotNil(t, ex)
	select {
	case <-ex.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("exchange did not finish")
	}
}

// blockUntilCancelled streams first and then holds the response open until
// the client goes away
func blockUntilCancelled(first string) testutil.ChatHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, call testutil.ChatCall) {
		w.Header().Set("Content-Type", "text/event-stream")
		testutil.WriteFrames(w, first)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}
}

func TestSendStreamsDeltas(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamFrames(`{"delta":"Hi"}`, `{"delta":" there"}`, `{"done":true}`))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	ex := o.Send(context.Background(), "Hello")
	waitExchange(t, ex)
	assert.NoError(t, ex.Err())

	state := o.Conversation().Snapshot()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, internal.RoleUser, state.Messages[0].Role)
	assert.Equal(t, "Hello", state.Messages[0].Content)
	assert.Equal(t, internal.RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, "Hi there", state.Messages[1].Content)
	assert.False(t, state.Messages[1].Streaming)
	assert.False(t, state.Typing)

	calls := fb.ChatCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, testutil.ChatCall{Message: "Hello", SessionID: testSession, Stream: true}, calls[0])
}

func TestSendPlaceholderAppendedSynchronously(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(blockUntilCancelled(`{"delta":"x"}`))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	ex := o.Send(context.Background(), "Hello")
	state := o.Conversation().Snapshot()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, ex.UserID, state.Messages[0].ID)
	assert.Equal(t, ex.AssistantID, state.Messages[1].ID)
	assert.True(t, state.Messages[1].Streaming)
	assert.True(t, state.Typing)

	o.Cancel()
	waitExchange(t, ex)
}

func TestSendStreamEndWithoutDone(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamRaw(`data: {"delta":"par`, `tial"}`+"\n\n", `data: {"delta":" and cut`))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	waitExchange(t, o.Send(context.Background(), "Hello"))

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
}

func TestSendBackendErrorFrame(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamFrames(`{"delta":"Partial"}`, `{"error":"overloaded"}`, `{"delta":"ignored"}`))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true, SyncAfterSend: true})

	ex := o.Send(context.Background(), "Hello")
	waitExchange(t, ex)
	var backendErr *BackendError
	require.ErrorAs(t, ex.Err(), &backendErr)
	assert.Equal(t, "overloaded", backendErr.Message)

	state := o.Conversation().Snapshot()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "Partial\n\n[Error] overloaded", state.Messages[1].Content)
	assert.False(t, state.Messages[1].Streaming)
	assert.False(t, state.Typing)
	assert.Empty(t, fb.HistoryCalls())
}

func TestSendTransportFailure(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.Fail(http.StatusServiceUnavailable, "down"))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true, SyncAfterSend: true})

	ex := o.Send(context.Background(), "Hello")
	waitExchange(t, ex)
	var transportErr *internal.TransportError
	require.ErrorAs(t, ex.Err(), &transportErr)
	assert.Equal(t, http.StatusServiceUnavailable, transportErr.StatusCode)

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Content, ErrorMarkerPrefix))
	assert.Contains(t, msgs[1].Content, "503")
	assert.False(t, msgs[1].Streaming)
	assert.Empty(t, fb.HistoryCalls())
}

func TestSendBlankIsNoop(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.Nil(t, o.Send(context.Background(), text))
	}
	assert.Zero(t, o.Conversation().Len())
	assert.Empty(t, fb.ChatCalls())
}

func TestSendSessionFailure(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	o, sessions := newTestOrchestrator(t, fb, Options{Stream: true})
	sessions.err = errors.New("disk full")

	ex := o.Send(context.Background(), "Hello")
	waitExchange(t, ex)
	assert.EqualError(t, ex.Err(), "disk full")

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ErrorMarkerPrefix+"disk full", msgs[1].Content)
	assert.Empty(t, fb.ChatCalls())
}

func TestSendDuplicateMessageID(t *testing.T) {
	tests := []struct {
		name     string
		existing []internal.Message
		ids      []string
		wantLen  int
	}{
		{
			name:     "user id already present",
			existing: []internal.Message{msg("taken", internal.RoleAssistant, "Old")},
			ids:      []string{"taken", "fresh"},
			wantLen:  1,
		},
		{
			name:    "placeholder id equals user id",
			ids:     []string{"same", "same"},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := testutil.NewFakeBackend(t)
			o, _ := newTestOrchestrator(t, fb, Options{Stream: true})
			o.Conversation().Replace(tt.existing)
			ids := tt.ids
			o.newID = func() string {
				id := ids[0]
				ids = ids[1:]
				return id
			}

			ex := o.Send(context.Background(), "Hello")
			waitExchange(t, ex)

			assert.Error(t, ex.Err())
			state := o.Conversation().Snapshot()
			assert.Len(t, state.Messages, tt.wantLen)
			assert.False(t, state.Typing)
			_, streaming := state.Streaming()
			assert.False(t, streaming)
			assert.Empty(t, fb.ChatCalls())
		})
	}
}

func TestSendSyncsHistoryAfterCompletion(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamFrames(`{"delta":"Rest"}`, `{"done":true}`))
	fb.SetHistory(testSession,
		testutil.HistoryMessage{ID: 1, Role: "user", Content: "Earlier"},
		testutil.HistoryMessage{ID: 2, Role: "assistant", Content: "Answer"},
		testutil.HistoryMessage{ID: 3, Role: "user", Content: "Hello"},
	)
	cache := &recordingCache{}
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true, SyncAfterSend: true, Cache: cache, APIBase: fb.URL()})

	waitExchange(t, o.Send(context.Background(), "Hello"))

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "Answer", msgs[1].Content)
	assert.Equal(t, []string{testSession}, fb.HistoryCalls())

	require.Len(t, cache.saved, 1)
	assert.Equal(t, testSession, cache.saved[0].ID)
	assert.Equal(t, 3, cache.saved[0].Metadata.MessageCount)
	assert.Equal(t, fb.URL(), cache.saved[0].Metadata.APIBase)
}

func TestSendHistoryFailureKeepsState(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamFrames(`{"delta":"Hi"}`, `{"done":true}`))
	fb.SetHistoryStatus(http.StatusInternalServerError)
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true, SyncAfterSend: true})

	waitExchange(t, o.Send(context.Background(), "Hello"))

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Len(t, fb.HistoryCalls(), 1)
}

func TestSendNonStreaming(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(func(w http.ResponseWriter, r *http.Request, call testutil.ChatCall) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": call.SessionID, "answer": "Drink water"})
	})
	o, _ := newTestOrchestrator(t, fb, Options{Stream: false})

	waitExchange(t, o.Send(context.Background(), "Headache"))

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Drink water", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
	assert.False(t, fb.ChatCalls()[0].Stream)
}

func TestSendSupersedesPreviousExchange(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(func(w http.ResponseWriter, r *http.Request, call testutil.ChatCall) {
		if call.Message == "first" {
			blockUntilCancelled(`{"delta":"A"}`)(w, r, call)
			return
		}
		testutil.StreamFrames(`{"delta":"B"}`, `{"done":true}`)(w, r, call)
	})
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})
	watch := &streamingWatch{}
	o.Conversation().OnChange(watch.observe)

	first := o.Send(context.Background(), "first")
	require.Eventually(t, func() bool {
		m, _ := o.Conversation().Find(first.AssistantID)
		return m.Content == "A"
	}, 5*time.Second, 10*time.Millisecond)

	second := o.Send(context.Background(), "second")
	waitExchange(t, second)
	waitExchange(t, first)
	assert.NoError(t, first.Err())
	assert.NoError(t, second.Err())

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "A", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)
	assert.Equal(t, "second", msgs[2].Content)
	assert.Equal(t, "B", msgs[3].Content)
	assert.False(t, msgs[3].Streaming)
	assert.LessOrEqual(t, watch.Max(), 1)
}

func TestCancelMarksPlaceholder(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(blockUntilCancelled(`{"delta":"Thinking"}`))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true, SyncAfterSend: true})

	ex := o.Send(context.Background(), "Hello")
	require.Eventually(t, func() bool {
		m, _ := o.Conversation().Find(ex.AssistantID)
		return m.Content == "Thinking"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, o.SyncHistory(context.Background()))
	assert.Equal(t, 2, o.Conversation().Len())

	o.Cancel()
	waitExchange(t, ex)

	m, _ := o.Conversation().Find(ex.AssistantID)
	assert.True(t, strings.HasPrefix(m.Content, "Thinking"+ErrorMarkerPrefix))
	assert.False(t, m.Streaming)
	assert.False(t, o.Conversation().Snapshot().Typing)
	assert.Len(t, fb.HistoryCalls(), 1)
}

func TestRegenerate(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(func(w http.ResponseWriter, r *http.Request, call testutil.ChatCall) {
		testutil.StreamFrames(`{"delta":"Reply to `+call.Message+`"}`, `{"done":true}`)(w, r, call)
	})
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	first := o.Send(context.Background(), "Hello")
	waitExchange(t, first)

	ex := o.Regenerate(context.Background(), first.AssistantID)
	waitExchange(t, ex)

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Equal(t, "Reply to Hello", msgs[2].Content)
	_, found := o.Conversation().Find(first.AssistantID)
	assert.False(t, found)
	assert.Len(t, fb.ChatCalls(), 2)
}

func TestRegenerateNoop(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	assert.Nil(t, o.Regenerate(context.Background(), "missing"))

	ex := o.Send(context.Background(), "Hello")
	waitExchange(t, ex)
	assert.Nil(t, o.Regenerate(context.Background(), ex.UserID))
	assert.Len(t, fb.ChatCalls(), 1)
}

func TestSyncHistoryReplacesConversation(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.SetHistory(testSession,
		testutil.HistoryMessage{ID: 10, Role: "user", Content: "q"},
		testutil.HistoryMessage{ID: "11", Role: "assistant", Content: "a"},
		testutil.HistoryMessage{ID: 12, Role: "tool", Content: "skip"},
	)
	o, sessions := newTestOrchestrator(t, fb, Options{Stream: true})
	require.NoError(t, o.Conversation().Append(msg("local", internal.RoleUser, "local")))

	require.NoError(t, o.SyncHistory(context.Background()))
	assert.Empty(t, fb.HistoryCalls())
	assert.Equal(t, 1, o.Conversation().Len())

	sessions.created = true
	require.NoError(t, o.SyncHistory(context.Background()))

	msgs := o.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "10", msgs[0].ID)
	assert.Equal(t, "11", msgs[1].ID)
}

func TestSyncHistoryFailure(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.SetHistoryStatus(http.StatusBadGateway)
	o, sessions := newTestOrchestrator(t, fb, Options{Stream: true})
	sessions.created = true
	require.NoError(t, o.Conversation().Append(msg("local", internal.RoleUser, "local")))

	err := o.SyncHistory(context.Background())
	require.Error(t, err)

	var terr *internal.TransportError
	assert.True(t, errors.As(err, &terr))
	assert.Equal(t, 1, o.Conversation().Len())
}

func TestClearKeepsSession(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamFrames(`{"delta":"Hi"}`, `{"done":true}`))
	cache := &recordingCache{}
	o, sessions := newTestOrchestrator(t, fb, Options{Stream: true, Cache: cache})

	waitExchange(t, o.Send(context.Background(), "Hello"))
	require.NoError(t, o.Clear(context.Background()))

	assert.Zero(t, o.Conversation().Len())
	assert.Equal(t, []string{testSession}, fb.ClearCalls())
	assert.Equal(t, []string{testSession}, cache.deleted)

	id, ok, err := sessions.SessionID(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testSession, id)

	waitExchange(t, o.Send(context.Background(), "Again"))
	calls := fb.ChatCalls()
	assert.Equal(t, testSession, calls[len(calls)-1].SessionID)
}

func TestClearFailureKeepsState(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(testutil.StreamFrames(`{"delta":"Hi"}`, `{"done":true}`))
	fb.SetClearStatus(http.StatusInternalServerError)
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	waitExchange(t, o.Send(context.Background(), "Hello"))
	err := o.Clear(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, o.Conversation().Len())
}

func TestClearCancelsInFlight(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.OnChat(blockUntilCancelled(`{"delta":"Thinking"}`))
	o, _ := newTestOrchestrator(t, fb, Options{Stream: true})

	ex := o.Send(context.Background(), "Hello")
	require.Eventually(t, func() bool {
		m, _ := o.Conversation().Find(ex.AssistantID)
		return m.Content == "Thinking"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, o.Clear(context.Background()))
	waitExchange(t, ex)

	state := o.Conversation().Snapshot()
	assert.Empty(t, state.Messages)
	assert.False(t, state.Typing)
}
