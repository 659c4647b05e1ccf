package sqlite

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tradeguard/internal/store/model"
)

func (s *SqliteStore) SaveSignal(ctx context.Context, sig *model.SignalModel) error {
	if sig == nil {
		return errors.New("signal cannot be nil")
	}
	return s.db.WithContext(ctx).Create(sig).Error
}

func (s *SqliteStore) UpdateSignal(ctx context.Context, sig *model.SignalModel) error {
	if sig == nil {
		return errors.New("signal cannot be nil")
	}
	return s.db.WithContext(ctx).Save(sig).Error
}

func (s *SqliteStore) SignalByID(ctx context.Context, signalID string) (*model.SignalModel, error) {
	var sig model.SignalModel
	err := s.db.WithContext(ctx).Where("signal_id = ?", signalID).First(&sig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// PendingSignals returns signals still awaiting a decision, oldest first.
// Approved-but-unconfirmed signals are included since they can still expire.
func (s *SqliteStore) PendingSignals(ctx context.Context) ([]model.SignalModel, error) {
	var sigs []model.SignalModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{model.StatusPending, model.StatusApproved}).
		Order("created_at ASC, id ASC").
		Find(&sigs).Error
	if err != nil {
		return nil, err
	}
	return sigs, nil
}

func (s *SqliteStore) RecentSignals(ctx context.Context, limit int) ([]model.SignalModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var sigs []model.SignalModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&sigs).Error
	if err != nil {
		return nil, err
	}
	return sigs, nil
}
