package model

import (
	"time"

	"gorm.io/datatypes"
)

// Signal lifecycle statuses.
const (
	StatusPending       = "pending"
	StatusApproved      = "approved"
	StatusExecuted      = "executed"
	StatusFailed        = "failed"
	StatusRejected      = "rejected"
	StatusExpired       = "expired"
	StatusSafetyBlocked = "safety_blocked"
)

// Fill tracking statuses for executed orders.
const (
	FillPending   = "pending"
	FillFilled    = "filled"
	FillPartial   = "partial"
	FillCancelled = "cancelled"
	FillExpired   = "expired"
)

// SignalModel is one trade recommendation produced by the reasoning engine,
// carried through the approval lifecycle.
type SignalModel struct {
	ID           uint           `gorm:"primaryKey"`
	SignalID     string         `gorm:"uniqueIndex;size:64"`
	Ticker       string         `gorm:"size:16;index"`
	Action       string         `gorm:"size:8"`
	Quantity     float64        `gorm:"default:0"`
	Price        float64        `gorm:"default:0"`
	StopLoss     float64        `gorm:"default:0"`
	TakeProfit   float64        `gorm:"default:0"`
	Confidence   float64        `gorm:"default:0"`
	Rationale    string         `gorm:"type:text"`
	Status       string         `gorm:"size:16;index"`
	SafetyChecks datatypes.JSON `gorm:"type:json"`
	Trigger      string         `gorm:"size:32"`
	NotifyMsgID  int64          `gorm:"default:0"`
	OrderID      string         `gorm:"size:64"`
	FillStatus   string         `gorm:"size:16"`
	FillPrice    float64        `gorm:"default:0"`
	FailReason   string         `gorm:"type:text"`
	ApprovedAt   *time.Time
	ExecutedAt   *time.Time
	ExpiresAt    time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SignalModel) TableName() string { return "signals" }

// TradeModel is one placed order and its settlement outcome.
type TradeModel struct {
	ID          uint    `gorm:"primaryKey"`
	SignalID    string  `gorm:"size:64;index"`
	Ticker      string  `gorm:"size:16;index"`
	Side        string  `gorm:"size:8"`
	Quantity    float64 `gorm:"default:0"`
	LimitPrice  float64 `gorm:"default:0"`
	AvgPrice    float64 `gorm:"default:0"`
	OrderID     string  `gorm:"size:64;index"`
	Status      string  `gorm:"size:16;index"`
	RealizedPnL float64 `gorm:"column:realized_pnl;default:0"`
	Commission  float64 `gorm:"default:0"`
	PlacedAt    time.Time
	FilledAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TradeModel) TableName() string { return "trades" }

// AnalysisLogModel records one full reasoning run for audit.
type AnalysisLogModel struct {
	ID         uint           `gorm:"primaryKey"`
	TraceID    string         `gorm:"size:64;index"`
	Trigger    string         `gorm:"size:32;index"`
	Prompt     string         `gorm:"type:text"`
	Answer     string         `gorm:"type:text"`
	Rounds     int            `gorm:"default:0"`
	ToolCalls  datatypes.JSON `gorm:"type:json"`
	TokensIn   int            `gorm:"default:0"`
	TokensOut  int            `gorm:"default:0"`
	DurationMs int64          `gorm:"default:0"`
	CreatedAt  time.Time
}

func (AnalysisLogModel) TableName() string { return "analysis_logs" }

// SystemFlagModel is a named operational switch, e.g. the trading kill
// switch. Flags survive restarts.
type SystemFlagModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:64"`
	Value     string `gorm:"size:128"`
	UpdatedAt time.Time
}

func (SystemFlagModel) TableName() string { return "system_flags" }

// WatchlistModel is one tracked symbol with its latest refreshed quote.
// LastAlertAt implements the move-alert cooldown.
type WatchlistModel struct {
	ID          uint    `gorm:"primaryKey"`
	Symbol      string  `gorm:"uniqueIndex;size:16"`
	Note        string  `gorm:"type:text"`
	LastPrice   float64 `gorm:"default:0"`
	PrevClose   float64 `gorm:"default:0"`
	RefreshedAt *time.Time
	LastAlertAt *time.Time
	CreatedAt   time.Time
}

func (WatchlistModel) TableName() string { return "watchlist" }
