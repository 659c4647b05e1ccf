package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"tradeguard/internal/logger"
)

const protocolVersion = "2025-03-26"

// ToolDescriptor is one callable tool as advertised by a backend.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// Session speaks JSON-RPC over HTTP POST to a single tool backend. A session
// is not usable until Handshake succeeds; request ids are monotonic for the
// lifetime of the session.
type Session struct {
	url    string
	client *resty.Client

	mu          sync.Mutex
	nextID      int64
	sessionID   string
	initialized bool
}

func NewSession(url string, timeout time.Duration) *Session {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json, text/event-stream")
	return &Session{url: url, client: c}
}

// SessionID returns the identity assigned by the backend during Handshake,
// empty when the backend is sessionless.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Handshake performs the initialize exchange followed by the initialized
// notification. Safe to call once per session; a second call is a no-op.
func (s *Session) Handshake(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "tradeguard",
			"version": "1.0",
		},
	}
	if _, err := s.roundTrip(ctx, "initialize", params, true); err != nil {
		return fmt.Errorf("initialize %s: %w", s.url, err)
	}

	// Notification, no id and no meaningful reply. A backend that answers
	// with an empty or non-JSON body is still fine here.
	if err := s.notify(ctx, "notifications/initialized"); err != nil {
		return fmt.Errorf("initialized notification %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// ListTools fetches the backend's tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if !s.ready() {
		return nil, ErrNoSession
	}
	result, err := s.roundTrip(ctx, "tools/list", nil, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, &ProtocolError{Reason: "tools/list result: " + err.Error()}
	}
	return out.Tools, nil
}

// Invoke calls one tool by its backend-local name and returns the raw result
// payload. Remote error fields come back as *RemoteError; an unknown method
// or tool maps to ErrNotFound.
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if !s.ready() {
		return nil, ErrNoSession
	}
	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	return s.roundTrip(ctx, "tools/call", params, true)
}

func (s *Session) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Session) notify(ctx context.Context, method string) error {
	_, err := s.roundTrip(ctx, method, nil, false)
	return err
}

// roundTrip posts one request and decodes the reply, transparently unwrapping
// event-stream framing. withID=false sends a notification and skips the
// response body entirely.
func (s *Session) roundTrip(ctx context.Context, method string, params any, withID bool) (json.RawMessage, error) {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	if withID {
		s.mu.Lock()
		s.nextID++
		req.ID = s.nextID
		s.mu.Unlock()
	}

	r := s.client.R().SetContext(ctx).SetBody(req)
	if sid := s.SessionID(); sid != "" {
		r.SetHeader("Mcp-Session-Id", sid)
	}
	resp, err := r.Post(s.url)
	if err != nil {
		return nil, &TransportError{URL: s.url, Err: err}
	}

	if sid := resp.Header().Get("Mcp-Session-Id"); sid != "" {
		s.mu.Lock()
		s.sessionID = sid
		s.mu.Unlock()
	}

	if resp.StatusCode() >= 400 {
		return nil, &TransportError{URL: s.url, Err: fmt.Errorf("http %d", resp.StatusCode())}
	}
	if !withID {
		return nil, nil
	}

	body := resp.Body()
	if strings.Contains(resp.Header().Get("Content-Type"), "text/event-stream") {
		body, err = firstEventPayload(body)
		if err != nil {
			return nil, err
		}
	}

	var rpc rpcResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return nil, &ProtocolError{Reason: "malformed response body: " + err.Error()}
	}
	if rpc.Error != nil {
		if rpc.Error.Code == -32601 || strings.Contains(strings.ToLower(rpc.Error.Message), "unknown tool") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rpc.Error.Message)
		}
		return nil, &RemoteError{Code: rpc.Error.Code, Message: rpc.Error.Message}
	}
	return rpc.Result, nil
}

// firstEventPayload extracts the first data line of an SSE body that carries
// valid JSON. Heartbeats and non-JSON lines are skipped.
func firstEventPayload(body []byte) ([]byte, error) {
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || !json.Valid([]byte(payload)) {
			logger.Debugf("mcp: skipping non-JSON event line")
			continue
		}
		return []byte(payload), nil
	}
	return nil, &ProtocolError{Reason: "event stream carried no JSON payload"}
}
