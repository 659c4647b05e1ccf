package safety

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeguard/internal/config"
	"tradeguard/internal/trade"
)

// Check names, in evaluation order.
const (
	CheckKillSwitch      = "kill_switch"
	CheckOrderValue      = "order_value"
	CheckPositionSize    = "position_size"
	CheckDailyOrderCount = "daily_order_count"
	CheckDailyLossLimit  = "daily_loss_limit"
	CheckStopLoss        = "stop_loss_required"
)

// Check outcomes.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// CheckResult is one evaluated rule.
type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Verdict is the gate's decision. Evaluation stops at the first failure, so
// Checks never contains results past BlockedBy.
type Verdict struct {
	Allowed   bool          `json:"allowed"`
	BlockedBy string        `json:"blocked_by,omitempty"`
	Checks    []CheckResult `json:"checks"`
}

// RiskSource supplies the live inputs the rules need. AccountEquity may
// report zero when the brokerage session cannot provide it; the position
// size rule is then skipped rather than guessed.
type RiskSource interface {
	TradingHalted(ctx context.Context) (bool, error)
	OrdersToday(ctx context.Context) (int64, error)
	RealizedPnLToday(ctx context.Context) (float64, error)
	AccountEquity(ctx context.Context) (float64, error)
}

// Gate enforces hard trading limits ahead of any human approval. All money
// math runs on decimals so a borderline order is judged exactly.
type Gate struct {
	cfg  config.SafetyConfig
	risk RiskSource
}

func NewGate(cfg config.SafetyConfig, risk RiskSource) *Gate {
	return &Gate{cfg: cfg, risk: risk}
}

// Evaluate runs every rule in fixed order and stops at the first failure.
// An error means a rule's inputs could not be read, not that the signal was
// judged; callers must treat it as a block.
func (g *Gate) Evaluate(ctx context.Context, sig *trade.Signal) (*Verdict, error) {
	v := &Verdict{}

	halted, err := g.risk.TradingHalted(ctx)
	if err != nil {
		return nil, fmt.Errorf("read kill switch: %w", err)
	}
	if halted {
		return v.fail(CheckKillSwitch, "trading is halted by operator"), nil
	}
	v.pass(CheckKillSwitch, "")

	orderValue, valueKnown := orderValue(sig)
	if !valueKnown {
		v.skip(CheckOrderValue, "price or quantity not set")
	} else {
		ceiling := decimal.NewFromFloat(g.cfg.MaxOrderValueUSD)
		if orderValue.GreaterThan(ceiling) {
			return v.fail(CheckOrderValue,
				fmt.Sprintf("order value $%s exceeds limit $%s", orderValue.StringFixed(2), ceiling.StringFixed(2))), nil
		}
		v.pass(CheckOrderValue, fmt.Sprintf("order value $%s", orderValue.StringFixed(2)))
	}

	if !valueKnown || g.cfg.MaxPositionPct <= 0 {
		v.skip(CheckPositionSize, "order value unknown or limit disabled")
	} else {
		equity, err := g.risk.AccountEquity(ctx)
		if err != nil {
			return nil, fmt.Errorf("read account equity: %w", err)
		}
		if equity <= 0 {
			v.skip(CheckPositionSize, "account equity unavailable")
		} else {
			pct := orderValue.Div(decimal.NewFromFloat(equity)).Mul(decimal.NewFromInt(100))
			limit := decimal.NewFromFloat(g.cfg.MaxPositionPct)
			if pct.GreaterThan(limit) {
				return v.fail(CheckPositionSize,
					fmt.Sprintf("order is %s%% of equity, limit %s%%", pct.StringFixed(1), limit.StringFixed(1))), nil
			}
			v.pass(CheckPositionSize, fmt.Sprintf("order is %s%% of equity", pct.StringFixed(1)))
		}
	}

	orders, err := g.risk.OrdersToday(ctx)
	if err != nil {
		return nil, fmt.Errorf("read daily order count: %w", err)
	}
	if orders >= int64(g.cfg.MaxDailyOrders) {
		return v.fail(CheckDailyOrderCount,
			fmt.Sprintf("%d orders already placed today, limit %d", orders, g.cfg.MaxDailyOrders)), nil
	}
	v.pass(CheckDailyOrderCount, fmt.Sprintf("%d of %d orders used", orders, g.cfg.MaxDailyOrders))

	pnl, err := g.risk.RealizedPnLToday(ctx)
	if err != nil {
		return nil, fmt.Errorf("read daily pnl: %w", err)
	}
	floor := -g.cfg.MaxDailyLossUSD
	if pnl <= floor {
		return v.fail(CheckDailyLossLimit,
			fmt.Sprintf("daily realized pnl $%.2f at or below floor $%.2f", pnl, floor)), nil
	}
	v.pass(CheckDailyLossLimit, fmt.Sprintf("daily realized pnl $%.2f", pnl))

	if sig.Action == trade.ActionBuy && sig.StopLoss <= 0 {
		return v.fail(CheckStopLoss, "BUY signals must carry a stop loss"), nil
	}
	v.pass(CheckStopLoss, "")

	v.Allowed = true
	return v, nil
}

func orderValue(sig *trade.Signal) (decimal.Decimal, bool) {
	if sig.Price <= 0 || sig.Quantity <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(sig.Price).Mul(decimal.NewFromFloat(sig.Quantity)), true
}

func (v *Verdict) pass(name, detail string) {
	v.Checks = append(v.Checks, CheckResult{Name: name, Status: StatusPassed, Detail: detail})
}

func (v *Verdict) skip(name, detail string) {
	v.Checks = append(v.Checks, CheckResult{Name: name, Status: StatusSkipped, Detail: detail})
}

func (v *Verdict) fail(name, detail string) *Verdict {
	v.Checks = append(v.Checks, CheckResult{Name: name, Status: StatusFailed, Detail: detail})
	v.Allowed = false
	v.BlockedBy = name
	return v
}
