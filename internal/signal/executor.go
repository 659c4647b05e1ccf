package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"tradeguard/internal/config"
	"tradeguard/internal/store/model"
)

// ToolCaller is the slice of the tool registry order placement needs.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// OrderStatus is one fill-tracking snapshot.
type OrderStatus struct {
	Status      string
	AvgPrice    float64
	FilledQty   float64
	Commission  float64
	RealizedPnL float64
}

// BrokerExecutor places approved orders through the brokerage backend's
// tools. Every order is previewed before placement; a preview failure stops
// the order cold.
type BrokerExecutor struct {
	tools     ToolCaller
	prefix    string
	accountID string
}

func NewBrokerExecutor(cfg config.BrokerConfig, tools ToolCaller) *BrokerExecutor {
	return &BrokerExecutor{tools: tools, prefix: cfg.Prefix, accountID: cfg.AccountID}
}

// PlaceOrder previews then places the order and returns the brokerage order
// id, which may be empty when the gateway omits it.
func (b *BrokerExecutor) PlaceOrder(ctx context.Context, sig *model.SignalModel) (string, error) {
	order := map[string]any{
		"acctId":    b.accountID,
		"ticker":    sig.Ticker,
		"side":      sig.Action,
		"orderType": orderType(sig),
		"quantity":  sig.Quantity,
		"tif":       "DAY",
	}
	if sig.Price > 0 {
		order["price"] = sig.Price
	}
	payload := map[string]any{
		"accountId": b.accountID,
		"orders":    []any{order},
	}

	if _, err := b.tools.Call(ctx, b.prefix+"_preview_order_iserver_account", payload); err != nil {
		return "", fmt.Errorf("order preview rejected: %w", err)
	}
	raw, err := b.tools.Call(ctx, b.prefix+"_place_order_iserver_account", payload)
	if err != nil {
		return "", fmt.Errorf("order placement failed: %w", err)
	}
	return parseOrderID(raw), nil
}

// OrderStatusByID polls the brokerage for one order's fill state.
func (b *BrokerExecutor) OrderStatusByID(ctx context.Context, orderID string) (*OrderStatus, error) {
	raw, err := b.tools.Call(ctx, b.prefix+"_get_order_status", map[string]any{"orderId": orderID})
	if err != nil {
		return nil, err
	}
	body := unwrapEnvelope(raw)
	st := &OrderStatus{
		Status:      strings.ToLower(firstString(body, "order_status", "status")),
		AvgPrice:    firstFloat(body, "avg_fill_price", "avg_price", "average_price"),
		FilledQty:   firstFloat(body, "filled_quantity", "cum_fill"),
		Commission:  firstFloat(body, "commission", "total_commission"),
		RealizedPnL: firstFloat(body, "realized_pnl", "realizedPnl", "pnl"),
	}
	return st, nil
}

func orderType(sig *model.SignalModel) string {
	if sig.Price > 0 {
		return "LMT"
	}
	return "MKT"
}

// unwrapEnvelope returns the inner JSON text of an MCP content wrapper, or
// the body unchanged when there is none.
func unwrapEnvelope(raw []byte) string {
	body := string(raw)
	if !gjson.Valid(body) {
		return body
	}
	for _, item := range gjson.Get(body, "content.#.text").Array() {
		if inner := item.String(); gjson.Valid(inner) {
			return inner
		}
	}
	return body
}

// parseOrderID probes the shapes brokerage gateways answer placement with:
// a bare object, an array of per-order results, or the content envelope.
func parseOrderID(raw []byte) string {
	body := unwrapEnvelope(raw)
	for _, path := range []string{"order_id", "0.order_id", "orders.0.order_id", "id"} {
		if v := gjson.Get(body, path); v.Exists() {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstString(body string, paths ...string) string {
	for _, p := range paths {
		if v := gjson.Get(body, p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstFloat(body string, paths ...string) float64 {
	for _, p := range paths {
		if v := gjson.Get(body, p); v.Exists() {
			return v.Float()
		}
	}
	return 0
}
