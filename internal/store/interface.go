package store

import (
	"context"
	"time"

	"tradeguard/internal/store/model"
)

// Kill switch flag name and values.
const (
	FlagTradingHalted = "trading_halted"
	FlagOn            = "on"
	FlagOff           = "off"
)

// PerformanceStats aggregates signal and trade outcomes over a window.
type PerformanceStats struct {
	TotalSignals  int64   `json:"total_signals"`
	Executed      int64   `json:"executed"`
	Rejected      int64   `json:"rejected"`
	Expired       int64   `json:"expired"`
	SafetyBlocked int64   `json:"safety_blocked"`
	TotalTrades   int64   `json:"total_trades"`
	WinningTrades int64   `json:"winning_trades"`
	RealizedPnL   float64 `json:"realized_pnl"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	TokensIn      int64   `json:"tokens_in"`
	TokensOut     int64   `json:"tokens_out"`
}

// Store is the persistence surface. The sqlite package provides the only
// production implementation.
type Store interface {
	// Signals.
	SaveSignal(ctx context.Context, sig *model.SignalModel) error
	UpdateSignal(ctx context.Context, sig *model.SignalModel) error
	SignalByID(ctx context.Context, signalID string) (*model.SignalModel, error)
	PendingSignals(ctx context.Context) ([]model.SignalModel, error)
	RecentSignals(ctx context.Context, limit int) ([]model.SignalModel, error)

	// Trades and daily risk inputs.
	SaveTrade(ctx context.Context, tr *model.TradeModel) error
	UpdateTrade(ctx context.Context, tr *model.TradeModel) error
	UnsettledTrades(ctx context.Context) ([]model.TradeModel, error)
	OrdersPlacedSince(ctx context.Context, t time.Time) (int64, error)
	RealizedPnLSince(ctx context.Context, t time.Time) (float64, error)

	// Analysis audit trail.
	SaveAnalysis(ctx context.Context, log *model.AnalysisLogModel) error
	RecentAnalyses(ctx context.Context, limit int) ([]model.AnalysisLogModel, error)

	// Operational flags.
	SetFlag(ctx context.Context, name, value string) error
	Flag(ctx context.Context, name string) (string, error)

	// Watchlist.
	UpsertWatch(ctx context.Context, w *model.WatchlistModel) error
	RemoveWatch(ctx context.Context, symbol string) error
	Watchlist(ctx context.Context) ([]model.WatchlistModel, error)

	Performance(ctx context.Context, since time.Time) (*PerformanceStats, error)

	Close() error
}
