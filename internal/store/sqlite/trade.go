package sqlite

import (
	"context"
	"errors"
	"time"

	"tradeguard/internal/store/model"
)

func (s *SqliteStore) SaveTrade(ctx context.Context, tr *model.TradeModel) error {
	if tr == nil {
		return errors.New("trade cannot be nil")
	}
	return s.db.WithContext(ctx).Create(tr).Error
}

func (s *SqliteStore) UpdateTrade(ctx context.Context, tr *model.TradeModel) error {
	if tr == nil {
		return errors.New("trade cannot be nil")
	}
	return s.db.WithContext(ctx).Save(tr).Error
}

// UnsettledTrades returns placed orders not yet fully filled.
func (s *SqliteStore) UnsettledTrades(ctx context.Context) ([]model.TradeModel, error) {
	var trades []model.TradeModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{model.FillPending, model.FillPartial}).
		Order("placed_at ASC, id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (s *SqliteStore) OrdersPlacedSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Where("placed_at >= ?", t).
		Count(&n).Error
	return n, err
}

func (s *SqliteStore) RealizedPnLSince(ctx context.Context, t time.Time) (float64, error) {
	var total struct {
		Sum float64
	}
	err := s.db.WithContext(ctx).
		Model(&model.TradeModel{}).
		Select("COALESCE(SUM(realized_pnl), 0) AS sum").
		Where("placed_at >= ?", t).
		Scan(&total).Error
	return total.Sum, err
}
