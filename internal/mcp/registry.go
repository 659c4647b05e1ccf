package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"tradeguard/internal/config"
	"tradeguard/internal/logger"
)

// BackendStatus is one backend's connectivity snapshot.
type BackendStatus struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Prefix    string `json:"prefix"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	SessionID string `json:"session_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

type backendState struct {
	cfg       config.BackendConfig
	session   *Session
	connected bool
	lastErr   error
}

type registeredTool struct {
	backend    *backendState
	descriptor ToolDescriptor
	schema     *jsonschema.Schema
}

// Registry aggregates tools from every configured backend under a single
// prefixed namespace ("<prefix>_<tool>"). Discovery faults are isolated per
// backend; a dead backend contributes zero tools and a status entry.
type Registry struct {
	cfgs []config.BackendConfig

	mu       sync.RWMutex
	backends []*backendState
	tools    map[string]*registeredTool
	order    []string
}

func NewRegistry(cfgs []config.BackendConfig) *Registry {
	return &Registry{cfgs: cfgs, tools: map[string]*registeredTool{}}
}

// Discover handshakes every backend concurrently and rebuilds the catalog.
// It never fails the whole pass for a single backend; callers read Status to
// see who came up.
func (r *Registry) Discover(ctx context.Context) {
	states := make([]*backendState, len(r.cfgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range r.cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			st := &backendState{cfg: cfg}
			states[i] = st
			timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
			st.session = NewSession(cfg.URL, timeout)
			if err := st.session.Handshake(gctx); err != nil {
				st.lastErr = err
				logger.Warnf("mcp: backend %s unavailable: %v", cfg.Name, err)
				return nil
			}
			st.connected = true
			return nil
		})
	}
	_ = g.Wait()

	tools := map[string]*registeredTool{}
	var order []string
	for _, st := range states {
		if !st.connected {
			continue
		}
		descs, err := st.session.ListTools(ctx)
		if err != nil {
			st.connected = false
			st.lastErr = err
			logger.Warnf("mcp: backend %s tool listing failed: %v", st.cfg.Name, err)
			continue
		}
		for _, d := range descs {
			name := st.cfg.Prefix + "_" + d.Name
			if _, dup := tools[name]; dup {
				logger.Warnf("mcp: duplicate tool %s, keeping first registration", name)
				continue
			}
			tools[name] = &registeredTool{
				backend:    st,
				descriptor: d,
				schema:     compileSchema(name, d.InputSchema),
			}
			order = append(order, name)
		}
		logger.Infof("mcp: backend %s up, %d tools under prefix %s", st.cfg.Name, len(descs), st.cfg.Prefix)
	}

	r.mu.Lock()
	r.backends = states
	r.tools = tools
	r.order = order
	r.mu.Unlock()
}

func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	schema, err := jsonschema.CompileString(name+".json", string(raw))
	if err != nil {
		logger.Warnf("mcp: tool %s has an uncompilable input schema, validation disabled: %v", name, err)
		return nil
	}
	return schema
}

// Tools returns the merged catalog with prefixed names, in discovery order.
func (r *Registry) Tools() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		d := t.descriptor
		d.Name = name
		out = append(out, d)
	}
	return out
}

// Call validates args against the tool's advertised schema and dispatches to
// the owning backend under the backend-local name.
func (r *Registry) Call(ctx context.Context, prefixedName string, args map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	t, ok := r.tools[prefixedName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefixedName)
	}
	if t.schema != nil {
		var v any = map[string]any{}
		if args != nil {
			// Round-trip through JSON so numeric types match what the
			// validator expects from decoded documents.
			b, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("marshal args for %s: %w", prefixedName, err)
			}
			if err := json.Unmarshal(b, &v); err != nil {
				return nil, fmt.Errorf("normalize args for %s: %w", prefixedName, err)
			}
		}
		if err := t.schema.Validate(v); err != nil {
			return nil, fmt.Errorf("arguments rejected for %s: %w", prefixedName, err)
		}
	}
	return t.backend.session.Invoke(ctx, t.descriptor.Name, args)
}

// Status reports every configured backend, reachable or not.
func (r *Registry) Status() []BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BackendStatus, 0, len(r.backends))
	for _, st := range r.backends {
		s := BackendStatus{
			Name:      st.cfg.Name,
			URL:       st.cfg.URL,
			Prefix:    st.cfg.Prefix,
			Connected: st.connected,
		}
		if st.connected {
			s.SessionID = st.session.SessionID()
		}
		if st.lastErr != nil {
			s.LastError = st.lastErr.Error()
		}
		for _, t := range r.tools {
			if t.backend == st {
				s.ToolCount++
			}
		}
		out = append(out, s)
	}
	return out
}

// Connected reports whether at least one backend is reachable.
func (r *Registry) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.backends {
		if st.connected {
			return true
		}
	}
	return false
}
