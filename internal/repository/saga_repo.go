package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/craftwork-marketplace/internal/domain"
)

var ErrNotFound = errors.New("saga_not_found")

type SagaRepo struct{ db *gorm.DB }

func NewSagaRepo(db *gorm.DB) *SagaRepo {
	return &SagaRepo{db: db}
}

func (r *SagaRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.SagaInstance{}, &domain.PendingTimeout{})
}

func (r *SagaRepo) Load(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	var inst domain.SagaInstance
	err := r.db.WithContext(ctx).First(&inst, "correlation_id = ?", correlationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Save creates or replaces the instance row. Events for one correlation id are
// serialized by the coordinator, so last-write-wins upsert is safe here.
func (r *SagaRepo) Save(ctx context.Context, inst *domain.SagaInstance) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}},
			UpdateAll: true,
		}).
		Create(inst).Error
}

func (r *SagaRepo) Delete(ctx context.Context, correlationID string) error {
	return r.db.WithContext(ctx).
		Delete(&domain.SagaInstance{}, "correlation_id = ?", correlationID).Error
}
