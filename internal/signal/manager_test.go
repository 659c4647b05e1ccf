package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/config"
	"tradeguard/internal/gateway/notifier"
	"tradeguard/internal/market"
	"tradeguard/internal/safety"
	"tradeguard/internal/session"
	"tradeguard/internal/store/model"
	"tradeguard/internal/store/sqlite"
	"tradeguard/internal/trade"
)

type fakeBroker struct {
	authenticated bool
	previewErr    error
	placeErr      error
	orderID       string
	statusBody    string
	calls         []string
	placedOrders  []map[string]any
}

func (f *fakeBroker) Call(_ context.Context, name string, args map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "ib_get_auth_status":
		return json.RawMessage(fmt.Sprintf(`{"authenticated":%v}`, f.authenticated)), nil
	case "ib_preview_order_iserver_account":
		if f.previewErr != nil {
			return nil, f.previewErr
		}
		return json.RawMessage(`{"amount":{"total":"1855"}}`), nil
	case "ib_place_order_iserver_account":
		if f.placeErr != nil {
			return nil, f.placeErr
		}
		f.placedOrders = append(f.placedOrders, args)
		return json.RawMessage(fmt.Sprintf(`[{"order_id":"%s"}]`, f.orderID)), nil
	case "ib_get_order_status":
		return json.RawMessage(f.statusBody), nil
	case "ib_ssodh_init", "ib_reauthenticate":
		return json.RawMessage(`{}`), nil
	}
	return nil, fmt.Errorf("unexpected tool %s", name)
}

type fakeNotifier struct {
	sent   []string
	edits  map[int64]string
	nextID int64
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{edits: map[int64]string{}}
}

func (f *fakeNotifier) SendText(_ context.Context, text string) (int64, error) {
	f.sent = append(f.sent, text)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeNotifier) SendWithButtons(_ context.Context, text string, _ [][]notifier.Button) (int64, error) {
	return f.SendText(context.Background(), text)
}

func (f *fakeNotifier) EditText(_ context.Context, messageID int64, text string) error {
	f.edits[messageID] = text
	return nil
}

type harness struct {
	mgr    *Manager
	st     *sqlite.SqliteStore
	broker *fakeBroker
	notes  *fakeNotifier
	now    time.Time
}

// openMarket is a regular Tuesday mid-session instant in exchange time.
func openMarket(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2026, 9, 1, 10, 30, 0, 0, loc)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cal, err := market.NewCalendar(config.MarketConfig{
		Timezone:  "America/New_York",
		OpenTime:  "09:30",
		CloseTime: "16:00",
	})
	require.NoError(t, err)

	broker := &fakeBroker{authenticated: true, orderID: "o-1001", statusBody: `{}`}
	notes := newFakeNotifier()

	gate := safety.NewGate(config.SafetyConfig{
		MaxOrderValueUSD: 10000,
		MaxDailyOrders:   10,
		MaxDailyLossUSD:  2000,
	}, NewRiskSource(st, cal))

	monitor := session.NewMonitor(config.SessionConfig{
		ProbeSeconds:         120,
		MaxRecoveryAttempts:  3,
		RecoveryPauseSeconds: 0,
	}, "ib", broker, notes)

	exec := NewBrokerExecutor(config.BrokerConfig{Prefix: "ib", AccountID: "DU12345"}, broker)

	h := &harness{st: st, broker: broker, notes: notes, now: openMarket(t)}
	h.mgr = NewManager(config.SignalConfig{ExpiryMinutes: 30, SweepSeconds: 60, FillPollSeconds: 120},
		st, gate, cal, monitor, exec, notes)
	h.mgr.now = func() time.Time { return h.now }
	return h
}

func goodSignal() trade.Signal {
	return trade.Signal{
		Ticker:     "AAPL",
		Action:     trade.ActionBuy,
		Quantity:   10,
		Price:      185.50,
		StopLoss:   180,
		Confidence: 80,
		Rationale:  "breakout over resistance",
	}
}

func TestIngestOpensApprovalFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, h.now.Add(30*time.Minute).Unix(), rec.ExpiresAt.Unix())
	assert.NotZero(t, rec.NotifyMsgID)

	require.Len(t, h.notes.sent, 1)
	assert.Contains(t, h.notes.sent[0], "BUY 10 AAPL @ 185.50")

	saved, err := h.st.SignalByID(ctx, rec.SignalID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, saved.Status)
	assert.NotEmpty(t, saved.SafetyChecks)
}

func TestIngestBlockedSignalRecorded(t *testing.T) {
	h := newHarness(t)

	sig := goodSignal()
	sig.Price = 2000 // 10 * 2000 = $20,000 over the $10,000 ceiling
	rec, err := h.mgr.Ingest(context.Background(), sig, "chat")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSafetyBlocked, rec.Status)
	assert.Equal(t, safety.CheckOrderValue, rec.FailReason)

	require.Len(t, h.notes.sent, 1)
	assert.Contains(t, h.notes.sent[0], "blocked")
}

func TestIngestHoldIsInformational(t *testing.T) {
	h := newHarness(t)

	rec, err := h.mgr.Ingest(context.Background(), trade.Signal{Ticker: "AAPL", Action: trade.ActionHold}, "scan")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, h.notes.sent)
}

func TestTwoStepApprovalExecutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)

	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))
	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusApproved, saved.Status)
	require.NotNil(t, saved.ApprovedAt)

	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, false))
	saved, _ = h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusExecuted, saved.Status)
	assert.Equal(t, "o-1001", saved.OrderID)
	assert.Equal(t, model.FillPending, saved.FillStatus)

	// Preview always runs before placement and after the session precheck.
	assert.Equal(t, []string{
		"ib_get_auth_status",
		"ib_preview_order_iserver_account",
		"ib_place_order_iserver_account",
	}, h.broker.calls)

	require.Len(t, h.broker.placedOrders, 1)
	orders := h.broker.placedOrders[0]["orders"].([]any)
	order := orders[0].(map[string]any)
	assert.Equal(t, "AAPL", order["ticker"])
	assert.Equal(t, "BUY", order["side"])
	assert.Equal(t, "LMT", order["orderType"])
	assert.Equal(t, "DAY", order["tif"])

	trades, err := h.st.UnsettledTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "o-1001", trades[0].OrderID)
}

func TestDecisionOnWrongStatusNoOps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)

	// Confirm before approve is rejected.
	var stateErr *StateError
	err = h.mgr.Confirm(ctx, rec.SignalID, false)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "confirm", stateErr.Op)

	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))

	// Second approve (double tap) is rejected and changes nothing.
	err = h.mgr.Approve(ctx, rec.SignalID)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.StatusApproved, stateErr.Status)

	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, false))

	// Reject after execution is rejected.
	err = h.mgr.Reject(ctx, rec.SignalID)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.StatusExecuted, stateErr.Status)
}

func TestUnknownSignal(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.mgr.Approve(context.Background(), "no-such-id"), ErrUnknownSignal)
}

func TestExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)

	// 29 minutes in: still decidable.
	h.now = h.now.Add(29 * time.Minute)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))

	rec2, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)

	// 31 minutes after the second signal: the decision is refused and the
	// record flips to expired.
	h.now = h.now.Add(31 * time.Minute)
	var stateErr *StateError
	err = h.mgr.Approve(ctx, rec2.SignalID)
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, model.StatusExpired, stateErr.Status)

	saved, _ := h.st.SignalByID(ctx, rec2.SignalID)
	assert.Equal(t, model.StatusExpired, saved.Status)
	assert.Contains(t, h.notes.edits[saved.NotifyMsgID], "Expired")
}

func TestExpireSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	_, err = h.mgr.Ingest(ctx, goodSignal(), "scan")
	require.NoError(t, err)

	n, err := h.mgr.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.now = h.now.Add(31 * time.Minute)
	n, err = h.mgr.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := h.st.PendingSignals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConfirmRefusedOutsideMarketHours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))

	// After-hours without force: refused, stays approved. Expiry is pushed
	// out so the clock jump exercises the market gate, not the TTL.
	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	saved.ExpiresAt = h.now.Add(8 * time.Hour)
	require.NoError(t, h.st.UpdateSignal(ctx, saved))

	h.now = h.now.Add(7 * time.Hour) // 17:30 ET
	var closed *MarketClosedError
	err = h.mgr.Confirm(ctx, rec.SignalID, false)
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, market.PhaseAfterHours, closed.Phase)

	saved, _ = h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusApproved, saved.Status)

	// Force override trades in extended hours.
	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, true))
}

func TestConfirmNeverTradesOnWeekend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))

	// Saturday, within the expiry window is impossible, so stretch expiry
	// by moving the clock before the weekend jump would have expired it.
	loc, _ := time.LoadLocation("America/New_York")
	h.now = time.Date(2026, 9, 5, 11, 0, 0, 0, loc)
	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	saved.ExpiresAt = h.now.Add(time.Hour)
	require.NoError(t, h.st.UpdateSignal(ctx, saved))

	var closed *MarketClosedError
	err = h.mgr.Confirm(ctx, rec.SignalID, true)
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, market.PhaseWeekend, closed.Phase)
}

func TestConfirmWithheldWhenSessionDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.broker.authenticated = false

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))

	err = h.mgr.Confirm(ctx, rec.SignalID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionDown)

	// One inline recovery pass ran before execution was withheld.
	assert.Contains(t, h.broker.calls, "ib_ssodh_init")
	assert.Contains(t, h.broker.calls, "ib_reauthenticate")

	// The approval survives the degraded session: nothing placed, not
	// failed, ready for a retry.
	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusApproved, saved.Status)
	assert.Empty(t, saved.FailReason)
	assert.Empty(t, h.broker.placedOrders)

	// A repaired session executes the same approval.
	h.broker.authenticated = true
	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, false))
	saved, _ = h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusExecuted, saved.Status)
	assert.Len(t, h.broker.placedOrders, 1)
}

func TestConfirmFailsOnPreviewRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.broker.previewErr = errors.New("insufficient buying power")

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))

	err = h.mgr.Confirm(ctx, rec.SignalID, false)
	require.Error(t, err)

	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusFailed, saved.Status)
	assert.Contains(t, saved.FailReason, "insufficient buying power")
	// Nothing was placed.
	assert.Empty(t, h.broker.placedOrders)
}

func TestRejectClosesFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Reject(ctx, rec.SignalID))

	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.StatusRejected, saved.Status)
	assert.Contains(t, h.notes.edits[saved.NotifyMsgID], "Rejected")
}

func TestFillSweepSettlesOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))
	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, false))

	h.broker.statusBody = `{"order_status":"Filled","avg_fill_price":185.42,"commission":1.05,"realizedPnl":-750.0}`
	require.NoError(t, h.mgr.FillSweep(ctx))

	trades, err := h.st.UnsettledTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)

	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.FillFilled, saved.FillStatus)
	assert.InDelta(t, 185.42, saved.FillPrice, 0.001)

	// The realized P&L lands in the trade record and feeds the daily loss
	// aggregate the safety gate reads.
	pnl, err := h.st.RealizedPnLSince(ctx, h.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, -750.0, pnl, 0.001)

	require.NotEmpty(t, h.notes.sent)
	last := h.notes.sent[len(h.notes.sent)-1]
	assert.Contains(t, last, "Filled")
	assert.Contains(t, last, "-750.00")
}

func TestFillSweepSettlesCancelledOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))
	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, false))

	h.broker.statusBody = `{"order_status":"Cancelled"}`
	require.NoError(t, h.mgr.FillSweep(ctx))

	trades, err := h.st.UnsettledTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades, "a broker-cancelled order stops being re-polled")

	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.FillCancelled, saved.FillStatus)
	require.NotEmpty(t, h.notes.sent)
	assert.Contains(t, h.notes.sent[len(h.notes.sent)-1], "cancelled by broker")
}

func TestFillSweepExpiresStaleOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))
	require.NoError(t, h.mgr.Confirm(ctx, rec.SignalID, false))

	// Five hours later the order is still unfilled: it settles terminally
	// without another status poll.
	h.now = h.now.Add(5 * time.Hour)
	polls := len(h.broker.calls)
	require.NoError(t, h.mgr.FillSweep(ctx))
	assert.Len(t, h.broker.calls, polls)

	trades, err := h.st.UnsettledTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)

	saved, _ := h.st.SignalByID(ctx, rec.SignalID)
	assert.Equal(t, model.FillExpired, saved.FillStatus)
	require.NotEmpty(t, h.notes.sent)
	assert.Contains(t, h.notes.sent[len(h.notes.sent)-1], "expired unfilled")
}

func TestReloadPendingReannounces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	sent := len(h.notes.sent)

	require.NoError(t, h.mgr.ReloadPending(ctx))
	require.Len(t, h.notes.sent, sent+1)
	assert.Contains(t, h.notes.sent[sent], "Still awaiting decision")
}

func TestReloadPendingKeepsApprovedAtConfirmStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Approve(ctx, rec.SignalID))
	sent := len(h.notes.sent)

	// An approved record resumes at the confirm step, a fresh approve tap
	// would only bounce off the status check.
	require.NoError(t, h.mgr.ReloadPending(ctx))
	require.Len(t, h.notes.sent, sent+1)
	assert.Contains(t, h.notes.sent[sent], "Still awaiting confirmation")
}

func TestHaltBlocksNextIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.Halt(ctx, true))
	rec, err := h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSafetyBlocked, rec.Status)
	assert.Equal(t, safety.CheckKillSwitch, rec.FailReason)

	require.NoError(t, h.mgr.Halt(ctx, false))
	rec, err = h.mgr.Ingest(ctx, goodSignal(), "chat")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
}
