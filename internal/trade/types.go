package trade

import (
	"fmt"
	"strings"
)

// Actions a signal may carry. HOLD is informational only and never enters
// the approval flow.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Signal is one structured trade recommendation emitted by the reasoning
// engine. Price may be zero when the model proposed a market order; the
// safety gate treats value checks on such signals as skipped.
type Signal struct {
	Ticker     string  `json:"ticker"`
	Action     string  `json:"action"`
	Quantity   float64 `json:"quantity,omitempty"`
	OrderType  string  `json:"order_type,omitempty"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"reason,omitempty"`
}

// Normalize canonicalizes ticker and action casing in place.
func (s *Signal) Normalize() {
	s.Ticker = strings.ToUpper(strings.TrimSpace(s.Ticker))
	s.Action = strings.ToUpper(strings.TrimSpace(s.Action))
}

// Validate rejects signals that cannot be acted on at all. Soft limits live
// in the safety gate; this is only structural.
func (s *Signal) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("signal missing ticker")
	}
	switch s.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("signal action must be BUY, SELL or HOLD, got %q", s.Action)
	}
	if s.Quantity < 0 {
		return fmt.Errorf("signal quantity cannot be negative")
	}
	return nil
}

func (s *Signal) Describe() string {
	if s.Price > 0 {
		return fmt.Sprintf("%s %g %s @ %.2f", s.Action, s.Quantity, s.Ticker, s.Price)
	}
	return fmt.Sprintf("%s %g %s @ market", s.Action, s.Quantity, s.Ticker)
}
