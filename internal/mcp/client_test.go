package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend implements just enough of the protocol to exercise Session.
type fakeBackend struct {
	mu        sync.Mutex
	sessionID string
	sse       bool
	seenIDs   []int64
	calls     map[string]func(args map[string]any) (any, *rpcError)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessionID: "sess-abc123",
		calls:     map[string]func(args map[string]any) (any, *rpcError){},
	}
}

func (f *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		if req.ID != 0 {
			f.seenIDs = append(f.seenIDs, req.ID)
		}
		f.mu.Unlock()

		switch req.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", f.sessionID)
			f.reply(w, req.ID, map[string]any{"protocolVersion": protocolVersion}, nil)
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			f.reply(w, req.ID, map[string]any{"tools": []map[string]any{
				{
					"name":        "get_stock_price",
					"description": "Latest quote for a ticker",
					"inputSchema": map[string]any{
						"type":       "object",
						"properties": map[string]any{"symbol": map[string]any{"type": "string"}},
						"required":   []string{"symbol"},
					},
				},
			}}, nil)
		case "tools/call":
			name, _ := req.Params["name"].(string)
			args, _ := req.Params["arguments"].(map[string]any)
			fn, ok := f.calls[name]
			if !ok {
				f.reply(w, req.ID, nil, &rpcError{Code: -32601, Message: "unknown tool " + name})
				return
			}
			result, rerr := fn(args)
			f.reply(w, req.ID, result, rerr)
		default:
			f.reply(w, req.ID, nil, &rpcError{Code: -32601, Message: "method not found"})
		}
	}
}

func (f *fakeBackend) reply(w http.ResponseWriter, id int64, result any, rerr *rpcError) {
	body := map[string]any{"jsonrpc": "2.0", "id": id}
	if rerr != nil {
		body["error"] = rerr
	} else {
		body["result"] = result
	}
	encoded, _ := json.Marshal(body)

	if f.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, ": heartbeat\n")
		fmt.Fprintf(w, "data: %s\n\n", encoded)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(encoded)
}

func startSession(t *testing.T, fb *fakeBackend) *Session {
	t.Helper()
	srv := httptest.NewServer(fb.handler())
	t.Cleanup(srv.Close)
	s := NewSession(srv.URL, 5*time.Second)
	require.NoError(t, s.Handshake(context.Background()))
	return s
}

func TestHandshakeCapturesSessionID(t *testing.T) {
	fb := newFakeBackend()
	s := startSession(t, fb)
	assert.Equal(t, "sess-abc123", s.SessionID())
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	fb := newFakeBackend()
	fb.calls["get_stock_price"] = func(map[string]any) (any, *rpcError) {
		return map[string]any{"last": 185.5}, nil
	}
	s := startSession(t, fb)

	_, err := s.ListTools(context.Background())
	require.NoError(t, err)
	_, err = s.Invoke(context.Background(), "get_stock_price", map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.GreaterOrEqual(t, len(fb.seenIDs), 3)
	for i := 1; i < len(fb.seenIDs); i++ {
		assert.Greater(t, fb.seenIDs[i], fb.seenIDs[i-1])
	}
}

func TestInvokeBeforeHandshake(t *testing.T) {
	s := NewSession("http://127.0.0.1:1", time.Second)
	_, err := s.Invoke(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = s.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestInvokeUnknownToolIsNotFound(t *testing.T) {
	fb := newFakeBackend()
	s := startSession(t, fb)
	_, err := s.Invoke(context.Background(), "no_such_tool", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvokeRemoteError(t *testing.T) {
	fb := newFakeBackend()
	fb.calls["get_stock_price"] = func(map[string]any) (any, *rpcError) {
		return nil, &rpcError{Code: 500, Message: "market data farm down"}
	}
	s := startSession(t, fb)

	_, err := s.Invoke(context.Background(), "get_stock_price", map[string]any{"symbol": "AAPL"})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 500, remote.Code)
	assert.Contains(t, remote.Message, "farm down")
}

func TestEventStreamFraming(t *testing.T) {
	fb := newFakeBackend()
	fb.sse = true
	fb.calls["get_stock_price"] = func(args map[string]any) (any, *rpcError) {
		return map[string]any{"symbol": args["symbol"], "last": 431.2}, nil
	}
	s := startSession(t, fb)

	result, err := s.Invoke(context.Background(), "get_stock_price", map[string]any{"symbol": "MSFT"})
	require.NoError(t, err)

	var out struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
	}
	require.NoError(t, json.Unmarshal(result, &out))
	assert.Equal(t, "MSFT", out.Symbol)
	assert.InDelta(t, 431.2, out.Last, 0.001)
}

func TestEventStreamWithoutJSONPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "initialize" || req.Method == "notifications/initialized" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive only\n\n")
	}))
	defer srv.Close()

	s := NewSession(srv.URL, 5*time.Second)
	require.NoError(t, s.Handshake(context.Background()))
	_, err := s.ListTools(context.Background())
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestTransportErrorOnDeadBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewSession(srv.URL, time.Second)
	err := s.Handshake(context.Background())
	var terr *TransportError
	assert.True(t, errors.As(err, &terr))
}
