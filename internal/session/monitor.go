package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"tradeguard/internal/config"
	"tradeguard/internal/gateway/notifier"
	"tradeguard/internal/logger"
)

// Monitor states. Recovering means an automatic re-login sequence ran and
// awaits verification by the next probe; Notified means recovery gave up and
// the operator was paged once.
type State string

const (
	StateUnknown    State = "unknown"
	StateHealthy    State = "healthy"
	StateRecovering State = "recovering"
	StateNotified   State = "notified"
)

// ErrSessionDown rejects order execution while the brokerage session is not
// verified healthy.
var ErrSessionDown = fmt.Errorf("brokerage session is not authenticated")

// ToolCaller is the slice of the tool registry the monitor needs.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Monitor probes the brokerage session on a fixed cadence and runs a bounded
// re-authentication sequence when it drops. Once the attempt budget is spent
// the operator is paged exactly once; attempts and paging reset on the next
// healthy probe.
type Monitor struct {
	tools    ToolCaller
	notify   notifier.Notifier
	prefix   string
	interval time.Duration
	pause    time.Duration
	maxTries int

	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	attempts  int
	lastProbe time.Time
	lastErr   error
}

func NewMonitor(cfg config.SessionConfig, brokerPrefix string, tools ToolCaller, n notifier.Notifier) *Monitor {
	return &Monitor{
		tools:    tools,
		notify:   n,
		prefix:   brokerPrefix,
		interval: time.Duration(cfg.ProbeSeconds) * time.Second,
		pause:    time.Duration(cfg.RecoveryPauseSeconds) * time.Second,
		maxTries: cfg.MaxRecoveryAttempts,
		state:    StateUnknown,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ctx.Err()
	}
}

// State returns the last observed session state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot reports the monitor state for status endpoints.
func (m *Monitor) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]any{
		"state":    string(m.state),
		"attempts": m.attempts,
	}
	if !m.lastProbe.IsZero() {
		out["last_probe"] = m.lastProbe.UTC().Format(time.RFC3339)
	}
	if m.lastErr != nil {
		out["last_error"] = m.lastErr.Error()
	}
	return out
}

// Run probes until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one health cycle and returns the resulting state.
func (m *Monitor) Probe(ctx context.Context) State {
	connected, authenticated, err := m.checkAuth(ctx)

	m.mu.Lock()
	m.lastProbe = time.Now()
	m.lastErr = err
	prev := m.state
	m.mu.Unlock()

	if connected && authenticated {
		m.setState(StateHealthy, 0)
		if prev == StateRecovering || prev == StateNotified {
			logger.Infof("session: brokerage session restored")
			m.page(ctx, "✅ Brokerage session restored.")
		}
		return StateHealthy
	}

	// A lost transport or a gateway that reports itself disconnected cannot
	// be repaired by re-authenticating. Page once and wait for a healthy
	// probe.
	if err != nil || !connected {
		if err != nil {
			logger.Warnf("session: auth probe failed: %v", err)
		} else {
			logger.Warnf("session: brokerage backend reports disconnected")
		}
		if prev != StateNotified {
			m.page(ctx, "🔴 Brokerage backend unreachable. Manual login required after the gateway is back.")
		}
		m.setState(StateNotified, m.attemptCount())
		return StateNotified
	}

	logger.Warnf("session: brokerage session is not authenticated")
	if prev == StateNotified {
		// Already paged. Stay quiet until a healthy probe resets us.
		return StateNotified
	}
	attempts := m.attemptCount()

	if attempts >= m.maxTries {
		m.page(ctx, fmt.Sprintf(
			"🔴 Brokerage session is down and automatic recovery failed %d times. Manual login required.",
			m.maxTries))
		m.setState(StateNotified, attempts)
		return StateNotified
	}

	m.setState(StateRecovering, attempts+1)
	logger.Infof("session: recovery attempt %d/%d", attempts+1, m.maxTries)
	if err := m.recover(ctx); err != nil {
		logger.Warnf("session: recovery sequence failed: %v", err)
	}
	// Success is confirmed only by the next probe.
	return StateRecovering
}

// Precheck guards order execution. It re-probes instead of trusting the
// cached state, and when the session is merely unauthenticated it runs one
// inline recovery pass before giving up, so a freshly expired session does
// not withhold an order the operator just confirmed.
func (m *Monitor) Precheck(ctx context.Context) error {
	connected, authenticated, err := m.checkAuth(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionDown, err)
	}
	if !connected {
		return ErrSessionDown
	}
	if authenticated {
		return nil
	}

	logger.Infof("session: precheck found expired session, running inline recovery")
	if err := m.recover(ctx); err != nil {
		logger.Warnf("session: precheck recovery failed: %v", err)
		return ErrSessionDown
	}
	connected, authenticated, err = m.checkAuth(ctx)
	if err != nil || !connected || !authenticated {
		return ErrSessionDown
	}
	return nil
}

func (m *Monitor) checkAuth(ctx context.Context) (connected, authenticated bool, err error) {
	raw, err := m.tools.Call(ctx, m.prefix+"_get_auth_status", map[string]any{})
	if err != nil {
		return false, false, err
	}
	connected, authenticated = parseAuthStatus(raw)
	return connected, authenticated, nil
}

// parseAuthStatus digs the connected and authenticated flags out of the
// status payload, unwrapping the MCP content envelope when present. A
// payload that answers but omits the connected flag counts as connected;
// only an explicit false means the gateway lost its link.
func parseAuthStatus(raw []byte) (connected, authenticated bool) {
	body := string(raw)
	if !gjson.Valid(body) {
		return false, false
	}
	for _, item := range gjson.Get(body, "content.#.text").Array() {
		if inner := item.String(); gjson.Valid(inner) && gjson.Get(inner, "authenticated").Exists() {
			body = inner
			break
		}
	}
	auth := gjson.Get(body, "authenticated")
	if !auth.Exists() {
		return false, false
	}
	if v := gjson.Get(body, "connected"); v.Exists() {
		connected = v.Bool()
	} else {
		connected = true
	}
	return connected, auth.Bool()
}

func (m *Monitor) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// recover replays the brokerage re-login sequence. The pauses give the
// gateway time to settle between steps.
func (m *Monitor) recover(ctx context.Context) error {
	if _, err := m.tools.Call(ctx, m.prefix+"_ssodh_init", map[string]any{}); err != nil {
		return fmt.Errorf("ssodh init: %w", err)
	}
	if err := m.sleep(ctx, m.pause); err != nil {
		return err
	}
	if _, err := m.tools.Call(ctx, m.prefix+"_reauthenticate", map[string]any{}); err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}
	return m.sleep(ctx, m.pause)
}

func (m *Monitor) setState(s State, attempts int) {
	m.mu.Lock()
	m.state = s
	m.attempts = attempts
	m.mu.Unlock()
}

func (m *Monitor) page(ctx context.Context, text string) {
	if m.notify == nil {
		return
	}
	if _, err := m.notify.SendText(ctx, text); err != nil {
		logger.Warnf("session: operator notification failed: %v", err)
	}
}
