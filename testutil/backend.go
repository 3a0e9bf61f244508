package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ChatCall is a decoded POST /chat request body
type ChatCall struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Stream    bool   `json:"stream"`
}

// HistoryMessage is a backend history record as served by FakeBackend
type HistoryMessage struct {
	ID      interface{} `json:"id"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
}

// ChatHandlerFunc answers one POST /chat request
type ChatHandlerFunc func(w http.ResponseWriter, r *http.Request, call ChatCall)

// FakeBackend is an in-process stand-in for the medical-assistant service
type FakeBackend struct {
	Server *httptest.Server

	mu            sync.Mutex
	chatHandler   ChatHandlerFunc
	history       map[string][]HistoryMessage
	historyStatus int
	clearStatus   int
	chatCalls     []ChatCall
	historyCalls  []string
	clearCalls    []string
}

// NewFakeBackend starts a fake backend that is closed when the test ends
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		history:       make(map[string][]HistoryMessage),
		historyStatus: http.StatusOK,
		clearStatus:   http.StatusOK,
		chatHandler:   StreamFrames(`{"done": true}`),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", f.handleChat)
	mux.HandleFunc("/history/", f.handleHistory)
	mux.HandleFunc("/clear/", f.handleClear)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the backend base URL
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// OnChat replaces the POST /chat handler
func (f *FakeBackend) OnChat(h ChatHandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatHandler = h
}

// SetHistory sets the transcript served for a session
func (f *FakeBackend) SetHistory(sessionID string, messages ...HistoryMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[sessionID] = messages
}

// SetHistoryStatus makes GET /history answer with status
func (f *FakeBackend) SetHistoryStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyStatus = status
}

// SetClearStatus makes POST /clear answer with status
func (f *FakeBackend) SetClearStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearStatus = status
}

// ChatCalls returns the chat requests received so far
func (f *FakeBackend) ChatCalls() []ChatCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatCall(nil), f.chatCalls...)
}

// HistoryCalls returns the session ids whose history was requested
func (f *FakeBackend) HistoryCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.historyCalls...)
}

// ClearCalls returns the session ids that were cleared
func (f *FakeBackend) ClearCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clearCalls...)
}

func (f *FakeBackend) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var call ChatCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, call)
	h := f.chatHandler
	f.mu.Unlock()

	h(w, r, call)
}

func (f *FakeBackend) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/history/")

	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, sessionID)
	status := f.historyStatus
	messages := f.history[sessionID]
	f.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "history unavailable", status)
		return
	}
	if messages == nil {
		messages = []HistoryMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": messages})
}

func (f *FakeBackend) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/clear/")

	f.mu.Lock()
	f.clearCalls = append(f.clearCalls, sessionID)
	status := f.clearStatus
	if status == http.StatusOK {
		delete(f.history, sessionID)
	}
	f.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "clear failed", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok": true}`)
}

// WriteFrames writes each payload as an SSE frame and flushes
func WriteFrames(w http.ResponseWriter, payloads ...string) {
	flusher, _ := w.(http.Flusher)
	for _, p := range payloads {
		_, _ = io.WriteString(w, SSEFrame(p))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// StreamFrames answers with the given frames as an event stream
func StreamFrames(payloads ...string) ChatHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, call ChatCall) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		WriteFrames(w, payloads...)
	}
}

// StreamRaw answers with raw body chunks, flushing after each
func StreamRaw(chunks ...string) ChatHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, call ChatCall) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// Fail answers every chat request with status and body
func Fail(status int, body string) ChatHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, call ChatCall) {
		http.Error(w, body, status)
	}
}
