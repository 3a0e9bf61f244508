// Package backend is the HTTP client for the medical-assistant service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iksnae/medichat/internal"
)

const maxErrorBody = 4096

// Client talks to the chat backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds history and clear requests. Chat streams are never
// bounded; they end when the backend closes them or the context is cancelled.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		userAgent:  "medichat",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OpenChatStream posts a streaming chat request and returns the event-stream
// body. The caller must close it. Cancelling ctx aborts the request and
// unblocks reads on the body.
func (c *Client) OpenChatStream(ctx context.Context, message, sessionID string) (io.ReadCloser, error) {
	resp, err := c.postChat(ctx, internal.ChatRequest{Message: message, SessionID: sessionID, Stream: true})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Ask posts a non-streaming chat request and returns the full answer
func (c *Client) Ask(ctx context.Context, message, sessionID string) (*internal.ChatAnswer, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.postChat(ctx, internal.ChatRequest{Message: message, SessionID: sessionID, Stream: false})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var answer internal.ChatAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, &internal.ParseError{Source: "chat", Key: sessionID, Err: err}
	}
	return &answer, nil
}

func (c *Client) postChat(ctx context.Context, req internal.ChatRequest) (*http.Response, error) {
	endpoint := c.baseURL + "/chat"
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &internal.TransportError{Op: "chat", URL: endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	internal.LogDebug("POST %s (stream=%v, session=%s)", endpoint, req.Stream, req.SessionID)
	return c.do(httpReq, "chat")
}

// FetchHistory returns the backend's transcript for a session in
// chronological order
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]internal.HistoryRecord, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + "/history/" + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &internal.TransportError{Op: "history", URL: endpoint, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	internal.LogDebug("GET %s", endpoint)
	resp, err := c.do(httpReq, "history")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var history internal.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, &internal.ParseError{Source: "history", Key: sessionID, Err: err}
	}
	return history.Messages, nil
}

// ClearHistory discards the backend's transcript for a session
func (c *Client) ClearHistory(ctx context.Context, sessionID string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + "/clear/" + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return &internal.TransportError{Op: "clear", URL: endpoint, Err: err}
	}

	internal.LogDebug("POST %s", endpoint)
	resp, err := c.do(httpReq, "clear")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// do sends the request and turns transport failures and non-2xx responses
// into TransportErrors
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &internal.TransportError{Op: op, URL: req.URL.String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &internal.TransportError{
			Op:         op,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
