package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeguard/internal/store"
	"tradeguard/internal/store/model"
)

func (s *SqliteStore) SaveAnalysis(ctx context.Context, log *model.AnalysisLogModel) error {
	if log == nil {
		return errors.New("analysis log cannot be nil")
	}
	return s.db.WithContext(ctx).Create(log).Error
}

func (s *SqliteStore) RecentAnalyses(ctx context.Context, limit int) ([]model.AnalysisLogModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []model.AnalysisLogModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *SqliteStore) SetFlag(ctx context.Context, name, value string) error {
	flag := model.SystemFlagModel{Name: name, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&flag).Error
}

// Flag returns the flag value, empty string when never set.
func (s *SqliteStore) Flag(ctx context.Context, name string) (string, error) {
	var flag model.SystemFlagModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return flag.Value, nil
}

func (s *SqliteStore) UpsertWatch(ctx context.Context, w *model.WatchlistModel) error {
	if w == nil {
		return errors.New("watch entry cannot be nil")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"note", "last_price", "prev_close", "refreshed_at", "last_alert_at"}),
	}).Create(w).Error
}

func (s *SqliteStore) RemoveWatch(ctx context.Context, symbol string) error {
	return s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Delete(&model.WatchlistModel{}).Error
}

func (s *SqliteStore) Watchlist(ctx context.Context) ([]model.WatchlistModel, error) {
	var list []model.WatchlistModel
	err := s.db.WithContext(ctx).Order("symbol ASC").Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *SqliteStore) Performance(ctx context.Context, since time.Time) (*store.PerformanceStats, error) {
	stats := &store.PerformanceStats{}
	db := s.db.WithContext(ctx)

	counts := []struct {
		status string
		dest   *int64
	}{
		{model.StatusExecuted, &stats.Executed},
		{model.StatusRejected, &stats.Rejected},
		{model.StatusExpired, &stats.Expired},
		{model.StatusSafetyBlocked, &stats.SafetyBlocked},
	}
	if err := db.Model(&model.SignalModel{}).
		Where("created_at >= ?", since).
		Count(&stats.TotalSignals).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		if err := db.Model(&model.SignalModel{}).
			Where("created_at >= ? AND status = ?", since, c.status).
			Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	if err := db.Model(&model.TradeModel{}).
		Where("placed_at >= ?", since).
		Count(&stats.TotalTrades).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.TradeModel{}).
		Where("placed_at >= ? AND realized_pnl > 0", since).
		Count(&stats.WinningTrades).Error; err != nil {
		return nil, err
	}
	var total struct {
		Sum float64
	}
	if err := db.Model(&model.TradeModel{}).
		Select("COALESCE(SUM(realized_pnl), 0) AS sum").
		Where("placed_at >= ?", since).
		Scan(&total).Error; err != nil {
		return nil, err
	}
	stats.RealizedPnL = total.Sum

	var extremes struct {
		Best  float64
		Worst float64
	}
	if err := db.Model(&model.TradeModel{}).
		Select("COALESCE(MAX(realized_pnl), 0) AS best, COALESCE(MIN(realized_pnl), 0) AS worst").
		Where("placed_at >= ?", since).
		Scan(&extremes).Error; err != nil {
		return nil, err
	}
	stats.BestTrade = extremes.Best
	stats.WorstTrade = extremes.Worst

	var tokens struct {
		TotalIn  int64
		TotalOut int64
	}
	if err := db.Model(&model.AnalysisLogModel{}).
		Select("COALESCE(SUM(tokens_in), 0) AS total_in, COALESCE(SUM(tokens_out), 0) AS total_out").
		Where("created_at >= ?", since).
		Scan(&tokens).Error; err != nil {
		return nil, err
	}
	stats.TokensIn = tokens.TotalIn
	stats.TokensOut = tokens.TotalOut
	return stats, nil
}
