package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/you/craftwork-marketplace/internal/domain"
)

// TimeoutRepo persists armed timeouts so deadlines survive a restart.
type TimeoutRepo struct{ db *gorm.DB }

func NewTimeoutRepo(db *gorm.DB) *TimeoutRepo {
	return &TimeoutRepo{db: db}
}

func (r *TimeoutRepo) Insert(ctx context.Context, t *domain.PendingTimeout) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TimeoutRepo) DeleteByToken(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).
		Delete(&domain.PendingTimeout{}, "token = ?", token).Error
}

func (r *TimeoutRepo) DeleteByCorrelation(ctx context.Context, correlationID string) error {
	return r.db.WithContext(ctx).
		Delete(&domain.PendingTimeout{}, "correlation_id = ?", correlationID).Error
}

func (r *TimeoutRepo) ListPending(ctx context.Context) ([]domain.PendingTimeout, error) {
	var out []domain.PendingTimeout
	if err := r.db.WithContext(ctx).Order("fire_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
