package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeguard/internal/config"
	"tradeguard/internal/gateway/notifier"
	"tradeguard/internal/logger"
	"tradeguard/internal/market"
	"tradeguard/internal/safety"
	"tradeguard/internal/session"
	"tradeguard/internal/store"
	"tradeguard/internal/store/model"
	"tradeguard/internal/trade"
)

// ErrUnknownSignal reports a decision on a signal id that was never issued.
var ErrUnknownSignal = errors.New("unknown signal")

// StateError rejects a lifecycle transition not legal from the signal's
// current status. Duplicate taps on a decision button land here.
type StateError struct {
	SignalID string
	Status   string
	Op       string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s signal %s in status %s", e.Op, e.SignalID, e.Status)
}

// MarketClosedError refuses execution outside tradable hours. The signal
// stays approved so the operator can retry, with force during extended
// hours.
type MarketClosedError struct {
	Phase    string
	NextOpen time.Time
}

func (e *MarketClosedError) Error() string {
	return fmt.Sprintf("market is %s, next open %s", e.Phase, e.NextOpen.Format("Mon 15:04 MST"))
}

// Recorder receives every lifecycle event for the append-only journal.
type Recorder interface {
	Record(ctx context.Context, signalID, event, note string) error
}

// Manager owns the signal approval lifecycle: safety gating on ingest, the
// two-step approve/confirm flow, expiry, execution and fill tracking. A
// single mutex serializes transitions so concurrent decisions on the same
// signal cannot race past the status checks.
type Manager struct {
	cfg     config.SignalConfig
	st      store.Store
	gate    *safety.Gate
	cal     *market.Calendar
	monitor *session.Monitor
	exec    *BrokerExecutor
	notify  notifier.Notifier
	journal Recorder

	mu  sync.Mutex
	now func() time.Time
}

func NewManager(cfg config.SignalConfig, st store.Store, gate *safety.Gate, cal *market.Calendar,
	monitor *session.Monitor, exec *BrokerExecutor, n notifier.Notifier) *Manager {
	return &Manager{
		cfg:     cfg,
		st:      st,
		gate:    gate,
		cal:     cal,
		monitor: monitor,
		exec:    exec,
		notify:  n,
		now:     time.Now,
	}
}

// WithJournal attaches a lifecycle journal. Without one, events are only
// visible through logs and the signals table.
func (m *Manager) WithJournal(r Recorder) *Manager {
	m.journal = r
	return m
}

func (m *Manager) record(ctx context.Context, signalID, event, note string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, signalID, event, note); err != nil {
		logger.Warnf("signal: journal entry %s/%s not written: %v", signalID, event, err)
	}
}

// Ingest gates a fresh engine signal and opens the approval flow. HOLD
// signals are logged and dropped; blocked signals are recorded with their
// failed checks so the audit trail shows why nothing happened.
func (m *Manager) Ingest(ctx context.Context, sig trade.Signal, trigger string) (*model.SignalModel, error) {
	sig.Normalize()
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	if sig.Action == trade.ActionHold {
		logger.Infof("signal: HOLD on %s noted, no approval flow", sig.Ticker)
		return nil, nil
	}

	verdict, err := m.gate.Evaluate(ctx, &sig)
	if err != nil {
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	checks, _ := json.Marshal(verdict.Checks)

	rec := &model.SignalModel{
		SignalID:     uuid.NewString(),
		Ticker:       sig.Ticker,
		Action:       sig.Action,
		Quantity:     sig.Quantity,
		Price:        sig.Price,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		Confidence:   sig.Confidence,
		Rationale:    sig.Rationale,
		SafetyChecks: checks,
		Trigger:      trigger,
		ExpiresAt:    m.now().Add(time.Duration(m.cfg.ExpiryMinutes) * time.Minute),
	}

	if !verdict.Allowed {
		rec.Status = model.StatusSafetyBlocked
		rec.FailReason = verdict.BlockedBy
		if err := m.st.SaveSignal(ctx, rec); err != nil {
			return nil, err
		}
		logger.Warnf("signal %s blocked by %s", rec.SignalID, verdict.BlockedBy)
		m.record(ctx, rec.SignalID, "safety_blocked", verdict.BlockedBy)
		m.send(ctx, rec, blockedMessage(rec, verdict), nil)
		return rec, nil
	}

	rec.Status = model.StatusPending
	if err := m.st.SaveSignal(ctx, rec); err != nil {
		return nil, err
	}
	logger.Infof("signal %s pending approval: %s", rec.SignalID, describe(rec))
	m.record(ctx, rec.SignalID, "ingested", describe(rec)+" via "+trigger)
	m.send(ctx, rec, proposalMessage(rec), approveButtons(rec.SignalID))
	return rec, nil
}

// ClosePosition opens an approval flow to flatten a position. The action is
// forced to SELL no matter what the caller suggests.
func (m *Manager) ClosePosition(ctx context.Context, ticker string, qty, price float64) (*model.SignalModel, error) {
	sig := trade.Signal{
		Ticker:    ticker,
		Action:    trade.ActionSell,
		Quantity:  qty,
		Price:     price,
		Rationale: "manual position close",
	}
	return m.Ingest(ctx, sig, "close_position")
}

// Approve is step one of the two-man rule: pending becomes approved and the
// operator is asked to confirm.
func (m *Manager) Approve(ctx context.Context, signalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(ctx, signalID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusPending {
		return &StateError{SignalID: signalID, Status: rec.Status, Op: "approve"}
	}
	if expired, err := m.expireIfDue(ctx, rec); expired || err != nil {
		if err != nil {
			return err
		}
		return &StateError{SignalID: signalID, Status: model.StatusExpired, Op: "approve"}
	}

	now := m.now()
	rec.Status = model.StatusApproved
	rec.ApprovedAt = &now
	if err := m.st.UpdateSignal(ctx, rec); err != nil {
		return err
	}
	logger.Infof("signal %s approved, awaiting confirmation", signalID)
	m.record(ctx, signalID, "approved", "")
	m.edit(ctx, rec, confirmMessage(rec))
	m.send(ctx, rec, "Confirm execution of "+describe(rec)+"?", confirmButtons(signalID))
	return nil
}

// Confirm is step two: an approved signal executes against the brokerage.
// force permits extended-hours execution; weekends and holidays always
// refuse.
func (m *Manager) Confirm(ctx context.Context, signalID string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(ctx, signalID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusApproved {
		return &StateError{SignalID: signalID, Status: rec.Status, Op: "confirm"}
	}
	if expired, err := m.expireIfDue(ctx, rec); expired || err != nil {
		if err != nil {
			return err
		}
		return &StateError{SignalID: signalID, Status: model.StatusExpired, Op: "confirm"}
	}

	st := m.cal.StatusAt(m.now())
	if !st.Tradable(force) {
		return &MarketClosedError{Phase: st.Phase, NextOpen: st.NextOpen}
	}

	// A degraded session withholds execution but never consumes the
	// approval: the record stays approved so the operator can confirm again
	// once the session is repaired. Only placement errors are terminal.
	if err := m.monitor.Precheck(ctx); err != nil {
		logger.Warnf("signal %s execution withheld: %v", signalID, err)
		m.record(ctx, signalID, "withheld", err.Error())
		m.edit(ctx, rec, "🔴 Execution withheld, brokerage session is down: "+describe(rec)+
			"\nThe signal stays approved. Confirm again once the session is repaired.")
		return err
	}

	orderID, err := m.exec.PlaceOrder(ctx, rec)
	if err != nil {
		return m.fail(ctx, rec, err)
	}

	now := m.now()
	rec.Status = model.StatusExecuted
	rec.ExecutedAt = &now
	rec.OrderID = orderID
	rec.FillStatus = model.FillPending
	if err := m.st.UpdateSignal(ctx, rec); err != nil {
		return err
	}
	if err := m.st.SaveTrade(ctx, &model.TradeModel{
		SignalID:   rec.SignalID,
		Ticker:     rec.Ticker,
		Side:       rec.Action,
		Quantity:   rec.Quantity,
		LimitPrice: rec.Price,
		OrderID:    orderID,
		Status:     model.FillPending,
		PlacedAt:   now,
	}); err != nil {
		logger.Errorf("signal %s executed but trade record not saved: %v", signalID, err)
	}
	logger.Infof("signal %s executed, order id %q", signalID, orderID)
	m.record(ctx, signalID, "executed", "order "+orderID)
	m.edit(ctx, rec, "✅ Executed: "+describe(rec))
	return nil
}

// Reject closes a pending or approved signal without trading.
func (m *Manager) Reject(ctx context.Context, signalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(ctx, signalID)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusPending && rec.Status != model.StatusApproved {
		return &StateError{SignalID: signalID, Status: rec.Status, Op: "reject"}
	}
	wasApproved := rec.Status == model.StatusApproved
	rec.Status = model.StatusRejected
	if err := m.st.UpdateSignal(ctx, rec); err != nil {
		return err
	}
	if wasApproved {
		logger.Infof("signal %s cancelled after approval", signalID)
		m.record(ctx, signalID, "rejected", "cancelled after approval")
		m.edit(ctx, rec, "❌ Cancelled before execution: "+describe(rec))
	} else {
		logger.Infof("signal %s rejected", signalID)
		m.record(ctx, signalID, "rejected", "")
		m.edit(ctx, rec, "❌ Rejected: "+describe(rec))
	}
	return nil
}

// ExpireSweep times out undecided signals and rewrites their notifications
// so stale approve buttons lead nowhere.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.st.PendingSignals(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range pending {
		rec := &pending[i]
		due, err := m.expireIfDue(ctx, rec)
		if err != nil {
			return expired, err
		}
		if due {
			expired++
		}
	}
	if expired > 0 {
		logger.Infof("signal: expired %d undecided signals", expired)
	}
	return expired, nil
}

// staleOrderCutoff expires orders the brokerage never filled. A day order
// sitting unfilled this long is not coming back.
const staleOrderCutoff = 4 * time.Hour

// FillSweep refreshes fill state for placed orders still open. Orders the
// brokerage cancelled and orders stuck unfilled past the cutoff are settled
// terminally so they stop being re-polled.
func (m *Manager) FillSweep(ctx context.Context) error {
	trades, err := m.st.UnsettledTrades(ctx)
	if err != nil {
		return err
	}
	for i := range trades {
		tr := &trades[i]
		if tr.OrderID == "" {
			continue
		}
		if age := m.now().Sub(tr.PlacedAt); age > staleOrderCutoff {
			tr.Status = model.FillExpired
			if err := m.st.UpdateTrade(ctx, tr); err != nil {
				return err
			}
			m.markFill(ctx, tr.SignalID, model.FillExpired, tr.AvgPrice,
				fmt.Sprintf("unfilled after %.1fh", age.Hours()))
			logger.Infof("signal: order %s expired unfilled after %.1fh", tr.OrderID, age.Hours())
			m.announce(ctx, tr.SignalID, fmt.Sprintf("⏰ Order expired unfilled: %s %g %s (order %s)",
				tr.Side, tr.Quantity, tr.Ticker, tr.OrderID))
			continue
		}
		st, err := m.exec.OrderStatusByID(ctx, tr.OrderID)
		if err != nil {
			logger.Warnf("signal: fill check for order %s failed: %v", tr.OrderID, err)
			continue
		}
		switch st.Status {
		case "filled", "executed":
			now := m.now()
			tr.Status = model.FillFilled
			tr.AvgPrice = st.AvgPrice
			tr.Commission = st.Commission
			tr.RealizedPnL = st.RealizedPnL
			tr.FilledAt = &now
			if err := m.st.UpdateTrade(ctx, tr); err != nil {
				return err
			}
			m.markFill(ctx, tr.SignalID, model.FillFilled, st.AvgPrice,
				fmt.Sprintf("filled @ %.2f", st.AvgPrice))
			logger.Infof("signal: order %s filled at %.2f", tr.OrderID, st.AvgPrice)
			msg := fmt.Sprintf("💰 Filled: %s %g %s @ %.2f", tr.Side, tr.Quantity, tr.Ticker, st.AvgPrice)
			if st.RealizedPnL != 0 {
				msg += fmt.Sprintf("\nRealized P&L: %.2f", st.RealizedPnL)
			}
			m.announce(ctx, tr.SignalID, msg)
		case "partially_filled", "partial":
			tr.Status = model.FillPartial
			tr.AvgPrice = st.AvgPrice
			if err := m.st.UpdateTrade(ctx, tr); err != nil {
				return err
			}
			m.markFill(ctx, tr.SignalID, model.FillPartial, st.AvgPrice,
				fmt.Sprintf("partial @ %.2f", st.AvgPrice))
		case "cancelled", "canceled", "inactive":
			tr.Status = model.FillCancelled
			if err := m.st.UpdateTrade(ctx, tr); err != nil {
				return err
			}
			m.markFill(ctx, tr.SignalID, model.FillCancelled, tr.AvgPrice, "cancelled by broker")
			logger.Infof("signal: order %s cancelled by broker", tr.OrderID)
			m.announce(ctx, tr.SignalID, fmt.Sprintf("🚫 Order cancelled by broker: %s %g %s (order %s)",
				tr.Side, tr.Quantity, tr.Ticker, tr.OrderID))
		}
	}
	return nil
}

func (m *Manager) announce(ctx context.Context, signalID, text string) {
	if m.notify == nil {
		return
	}
	if _, err := m.notify.SendText(ctx, text); err != nil {
		logger.Warnf("signal: notification for %s failed: %v", signalID, err)
	}
}

// ReloadPending re-announces the backlog after a restart so decisions made
// against a dead process are not silently lost.
func (m *Manager) ReloadPending(ctx context.Context) error {
	pending, err := m.st.PendingSignals(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Infof("signal: %d undecided signals survived restart", len(pending))
	for i := range pending {
		rec := &pending[i]
		if due, err := m.expireIfDue(ctx, rec); due || err != nil {
			continue
		}
		if rec.Status == model.StatusApproved {
			m.send(ctx, rec, "♻️ Still awaiting confirmation: "+describe(rec), confirmButtons(rec.SignalID))
		} else {
			m.send(ctx, rec, "♻️ Still awaiting decision: "+describe(rec), approveButtons(rec.SignalID))
		}
	}
	return nil
}

// Halt flips the kill switch. Blocking takes effect on the next gate pass.
func (m *Manager) Halt(ctx context.Context, halted bool) error {
	v := store.FlagOff
	if halted {
		v = store.FlagOn
	}
	if err := m.st.SetFlag(ctx, store.FlagTradingHalted, v); err != nil {
		return err
	}
	logger.Warnf("signal: trading halted=%v", halted)
	m.record(ctx, "system", "halt", v)
	return nil
}

func (m *Manager) load(ctx context.Context, signalID string) (*model.SignalModel, error) {
	rec, err := m.st.SignalByID(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, signalID)
	}
	return rec, nil
}

func (m *Manager) expireIfDue(ctx context.Context, rec *model.SignalModel) (bool, error) {
	if m.now().Before(rec.ExpiresAt) {
		return false, nil
	}
	rec.Status = model.StatusExpired
	if err := m.st.UpdateSignal(ctx, rec); err != nil {
		return false, err
	}
	m.record(ctx, rec.SignalID, "expired", "")
	m.edit(ctx, rec, "⏰ Expired without decision: "+describe(rec))
	return true, nil
}

func (m *Manager) fail(ctx context.Context, rec *model.SignalModel, cause error) error {
	rec.Status = model.StatusFailed
	rec.FailReason = cause.Error()
	if err := m.st.UpdateSignal(ctx, rec); err != nil {
		return err
	}
	logger.Warnf("signal %s failed: %v", rec.SignalID, cause)
	m.record(ctx, rec.SignalID, "failed", cause.Error())
	m.edit(ctx, rec, "⚠️ Execution failed: "+describe(rec)+"\n"+cause.Error())
	return fmt.Errorf("signal %s failed: %w", rec.SignalID, cause)
}

func (m *Manager) send(ctx context.Context, rec *model.SignalModel, text string, buttons [][]notifier.Button) {
	if m.notify == nil {
		return
	}
	var msgID int64
	var err error
	if buttons != nil {
		msgID, err = m.notify.SendWithButtons(ctx, text, buttons)
	} else {
		msgID, err = m.notify.SendText(ctx, text)
	}
	if err != nil {
		logger.Warnf("signal: notification for %s failed: %v", rec.SignalID, err)
		return
	}
	if msgID != 0 && rec.NotifyMsgID == 0 {
		rec.NotifyMsgID = msgID
		if err := m.st.UpdateSignal(ctx, rec); err != nil {
			logger.Warnf("signal: message id for %s not saved: %v", rec.SignalID, err)
		}
	}
}

func (m *Manager) edit(ctx context.Context, rec *model.SignalModel, text string) {
	if m.notify == nil || rec.NotifyMsgID == 0 {
		return
	}
	if err := m.notify.EditText(ctx, rec.NotifyMsgID, text); err != nil {
		logger.Warnf("signal: notification edit for %s failed: %v", rec.SignalID, err)
	}
}

func (m *Manager) markFill(ctx context.Context, signalID, fillStatus string, avgPrice float64, note string) {
	rec, err := m.st.SignalByID(ctx, signalID)
	if err != nil || rec == nil {
		return
	}
	rec.FillStatus = fillStatus
	rec.FillPrice = avgPrice
	if err := m.st.UpdateSignal(ctx, rec); err != nil {
		logger.Warnf("signal: fill state for %s not saved: %v", signalID, err)
	}
	m.record(ctx, signalID, "fill", note)
}

func describe(rec *model.SignalModel) string {
	if rec.Price > 0 {
		return fmt.Sprintf("%s %g %s @ %.2f", rec.Action, rec.Quantity, rec.Ticker, rec.Price)
	}
	return fmt.Sprintf("%s %g %s @ market", rec.Action, rec.Quantity, rec.Ticker)
}

func approveButtons(signalID string) [][]notifier.Button {
	return [][]notifier.Button{{
		{Label: "✅ Approve", Data: "approve:" + signalID},
		{Label: "❌ Reject", Data: "reject:" + signalID},
	}}
}

func confirmButtons(signalID string) [][]notifier.Button {
	return [][]notifier.Button{{
		{Label: "🔐 Confirm", Data: "confirm:" + signalID},
		{Label: "❌ Cancel", Data: "reject:" + signalID},
	}}
}

func proposalMessage(rec *model.SignalModel) string {
	msg := notifier.StructuredMessage{
		Icon:  "📈",
		Title: "Trade signal " + describe(rec),
		Sections: []notifier.MessageSection{{
			Title: "Details",
			Lines: []string{
				fmt.Sprintf("confidence: %.0f", rec.Confidence),
				fmt.Sprintf("stop loss: %.2f", rec.StopLoss),
				fmt.Sprintf("take profit: %.2f", rec.TakeProfit),
				fmt.Sprintf("expires: %s", rec.ExpiresAt.Format("15:04 MST")),
			},
		}, {
			Title: "Rationale",
			Lines: []string{rec.Rationale},
		}},
		Timestamp: time.Now(),
	}
	return msg.RenderHTML()
}

func confirmMessage(rec *model.SignalModel) string {
	return "☑️ Approved, confirmation pending: " + describe(rec)
}

func blockedMessage(rec *model.SignalModel, verdict *safety.Verdict) string {
	lines := make([]string, 0, len(verdict.Checks))
	for _, c := range verdict.Checks {
		icon := "✅"
		switch c.Status {
		case safety.StatusFailed:
			icon = "❌"
		case safety.StatusSkipped:
			icon = "⏭"
		}
		line := icon + " " + c.Name
		if c.Detail != "" {
			line += ": " + c.Detail
		}
		lines = append(lines, line)
	}
	msg := notifier.StructuredMessage{
		Icon:      "🛑",
		Title:     "Signal blocked: " + describe(rec),
		Sections:  []notifier.MessageSection{{Title: "Safety checks", Lines: lines}},
		Timestamp: time.Now(),
	}
	return msg.RenderHTML()
}
