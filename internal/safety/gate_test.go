package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/config"
	"tradeguard/internal/trade"
)

type stubRisk struct {
	halted bool
	orders int64
	pnl    float64
	equity float64
}

func (s *stubRisk) TradingHalted(context.Context) (bool, error) { return s.halted, nil }

func (s *stubRisk) OrdersToday(context.Context) (int64, error) { return s.orders, nil }

func (s *stubRisk) RealizedPnLToday(context.Context) (float64, error) { return s.pnl, nil }

func (s *stubRisk) AccountEquity(context.Context) (float64, error) { return s.equity, nil }

func testGate(risk *stubRisk) *Gate {
	return NewGate(config.SafetyConfig{
		MaxOrderValueUSD: 10000,
		MaxDailyOrders:   10,
		MaxDailyLossUSD:  2000,
		MaxPositionPct:   25,
	}, risk)
}

func buySignal(qty, price, stop float64) *trade.Signal {
	return &trade.Signal{Ticker: "AAPL", Action: trade.ActionBuy, Quantity: qty, Price: price, StopLoss: stop}
}

func checkStatus(t *testing.T, v *Verdict, name, status string) {
	t.Helper()
	for _, c := range v.Checks {
		if c.Name == name {
			assert.Equal(t, status, c.Status, "check %s", name)
			return
		}
	}
	t.Fatalf("check %s not present in verdict", name)
}

func TestAllChecksPass(t *testing.T) {
	g := testGate(&stubRisk{orders: 3, pnl: -120, equity: 100000})

	// 10 shares at 185.50 is $1,855, well under limits.
	v, err := g.Evaluate(context.Background(), buySignal(10, 185.50, 176))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.BlockedBy)
	assert.Len(t, v.Checks, 6)
	for _, c := range v.Checks {
		assert.Equal(t, StatusPassed, c.Status, c.Name)
	}
}

func TestKillSwitchBlocksFirst(t *testing.T) {
	g := testGate(&stubRisk{halted: true, orders: 99, pnl: -99999})

	v, err := g.Evaluate(context.Background(), buySignal(10, 185.50, 176))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, CheckKillSwitch, v.BlockedBy)
	// Fail fast: nothing after the kill switch was evaluated.
	assert.Len(t, v.Checks, 1)
}

func TestOrderValueCeiling(t *testing.T) {
	g := testGate(&stubRisk{equity: 1000000})

	// 100 * $200 = $20,000 > $10,000.
	v, err := g.Evaluate(context.Background(), buySignal(100, 200, 190))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, CheckOrderValue, v.BlockedBy)

	// Exactly at the ceiling passes: the rule blocks strictly greater.
	v, err = g.Evaluate(context.Background(), buySignal(50, 200, 190))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestMissingPriceSkipsValueChecks(t *testing.T) {
	g := testGate(&stubRisk{equity: 100000})

	v, err := g.Evaluate(context.Background(), buySignal(10, 0, 176))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	checkStatus(t, v, CheckOrderValue, StatusSkipped)
	checkStatus(t, v, CheckPositionSize, StatusSkipped)
}

func TestPositionSizeLimit(t *testing.T) {
	// $9,000 order against $30,000 equity is 30%, over the 25% cap.
	g := testGate(&stubRisk{equity: 30000})
	v, err := g.Evaluate(context.Background(), buySignal(45, 200, 190))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, CheckPositionSize, v.BlockedBy)

	// Unknown equity skips the rule instead of blocking.
	g = testGate(&stubRisk{equity: 0})
	v, err = g.Evaluate(context.Background(), buySignal(45, 200, 190))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	checkStatus(t, v, CheckPositionSize, StatusSkipped)
}

func TestDailyOrderBudget(t *testing.T) {
	g := testGate(&stubRisk{orders: 10, equity: 100000})

	v, err := g.Evaluate(context.Background(), buySignal(10, 185.50, 176))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, CheckDailyOrderCount, v.BlockedBy)
}

func TestDailyLossFloor(t *testing.T) {
	g := testGate(&stubRisk{pnl: -2000, equity: 100000})

	v, err := g.Evaluate(context.Background(), buySignal(10, 185.50, 176))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, CheckDailyLossLimit, v.BlockedBy)

	// One cent above the floor still trades.
	g = testGate(&stubRisk{pnl: -1999.99, equity: 100000})
	v, err = g.Evaluate(context.Background(), buySignal(10, 185.50, 176))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestBuyRequiresStopLoss(t *testing.T) {
	g := testGate(&stubRisk{equity: 100000})

	v, err := g.Evaluate(context.Background(), buySignal(10, 185.50, 0))
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, CheckStopLoss, v.BlockedBy)

	// SELL signals close positions and need no stop.
	sell := &trade.Signal{Ticker: "AAPL", Action: trade.ActionSell, Quantity: 10, Price: 185.50}
	v, err = g.Evaluate(context.Background(), sell)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}
