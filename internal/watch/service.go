package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tradeguard/internal/config"
	"tradeguard/internal/gateway/notifier"
	"tradeguard/internal/logger"
	"tradeguard/internal/store"
	"tradeguard/internal/store/model"
)

// ToolCaller is the slice of the tool registry quote refreshes need.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Service maintains the tracked-symbol list, keeps quotes fresh through the
// market data backend, and pages the operator when a tracked symbol moves
// past the alert threshold.
type Service struct {
	st        store.Store
	tools     ToolCaller
	notify    notifier.Notifier
	quoteTool string
	interval  time.Duration
	alertPct  float64
	cooldown  time.Duration

	now func() time.Time
}

func NewService(cfg config.WatchConfig, st store.Store, tools ToolCaller, n notifier.Notifier) *Service {
	return &Service{
		st:        st,
		tools:     tools,
		notify:    n,
		quoteTool: cfg.QuoteTool,
		interval:  time.Duration(cfg.RefreshMinutes) * time.Minute,
		alertPct:  cfg.AlertPercent,
		cooldown:  time.Duration(cfg.AlertCooldownMinutes) * time.Minute,
		now:       time.Now,
	}
}

// Add tracks a symbol. Re-adding updates the note and keeps the history.
func (s *Service) Add(ctx context.Context, symbol, note string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("watch symbol cannot be empty")
	}
	return s.st.UpsertWatch(ctx, &model.WatchlistModel{Symbol: symbol, Note: note})
}

func (s *Service) Remove(ctx context.Context, symbol string) error {
	return s.st.RemoveWatch(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}

func (s *Service) List(ctx context.Context) ([]model.WatchlistModel, error) {
	return s.st.Watchlist(ctx)
}

// Refresh pulls a quote for every tracked symbol. One dead symbol does not
// stop the rest.
func (s *Service) Refresh(ctx context.Context) error {
	list, err := s.st.Watchlist(ctx)
	if err != nil {
		return err
	}
	for i := range list {
		w := &list[i]
		last, prev, err := s.quote(ctx, w.Symbol)
		if err != nil {
			logger.Warnf("watch: quote for %s failed: %v", w.Symbol, err)
			continue
		}
		now := s.now()
		before := w.LastPrice
		w.LastPrice = last
		w.PrevClose = prev
		w.RefreshedAt = &now
		s.maybeAlert(ctx, w, before, last, now)
		if err := s.st.UpsertWatch(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// maybeAlert pages when the symbol moved past the threshold since the last
// refresh, honoring the per-symbol cooldown so a volatile name does not
// flood the operator.
func (s *Service) maybeAlert(ctx context.Context, w *model.WatchlistModel, before, last float64, now time.Time) {
	if s.notify == nil || s.alertPct <= 0 || before <= 0 {
		return
	}
	pct := (last - before) / before * 100
	if math.Abs(pct) < s.alertPct {
		return
	}
	if w.LastAlertAt != nil && now.Sub(*w.LastAlertAt) < s.cooldown {
		return
	}
	arrow := "📈"
	if pct < 0 {
		arrow = "📉"
	}
	msg := fmt.Sprintf("🚨 Watchlist: %s %s %+.1f%%\n%.2f → %.2f", w.Symbol, arrow, pct, before, last)
	if _, err := s.notify.SendText(ctx, msg); err != nil {
		logger.Warnf("watch: alert for %s failed: %v", w.Symbol, err)
		return
	}
	w.LastAlertAt = &now
}

// Run refreshes on the configured cadence until the context ends.
func (s *Service) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				logger.Warnf("watch: refresh pass failed: %v", err)
			}
		}
	}
}

func (s *Service) quote(ctx context.Context, symbol string) (last, prevClose float64, err error) {
	raw, err := s.tools.Call(ctx, s.quoteTool, map[string]any{"symbol": symbol})
	if err != nil {
		return 0, 0, err
	}
	body := string(raw)
	if !gjson.Valid(body) {
		return 0, 0, fmt.Errorf("quote payload is not JSON")
	}
	// Unwrap the MCP content envelope when present.
	for _, item := range gjson.Get(body, "content.#.text").Array() {
		if inner := item.String(); gjson.Valid(inner) {
			body = inner
			break
		}
	}
	last = firstFloat(body, "last", "last_price", "price")
	prevClose = firstFloat(body, "prev_close", "previous_close", "close")
	if last == 0 {
		return 0, 0, fmt.Errorf("quote payload carried no price")
	}
	return last, prevClose, nil
}

func firstFloat(body string, paths ...string) float64 {
	for _, p := range paths {
		if v := gjson.Get(body, p); v.Exists() {
			return v.Float()
		}
	}
	return 0
}
