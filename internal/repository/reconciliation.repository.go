package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrReconciliationNotFound = errors.New("reconciliation item not found")

const defaultOpenLimit = 100

type ReconciliationRepository struct {
	*pg.DB
}

func NewReconciliationRepository(db *pg.DB) *ReconciliationRepository {
	return &ReconciliationRepository{
		db,
	}
}

// Record stores a failed credit. A second report for the same provider payment bumps attempts
// and keeps the latest reason instead of creating a duplicate row.
func (r *ReconciliationRepository) Record(ctx context.Context, f model.FailedCredit) (*model.ReconciliationItem, error) {
	entity := toReconciliationEntity(f)
	err := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "external_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempts":   gorm.Expr("credit_reconciliations.attempts + 1"),
				"reason":     f.Reason,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	var stored ReconciliationEntity
	err = r.Write(ctx).
		Where("provider = ? AND external_id = ?", f.Provider, f.ExternalID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return toReconciliationModel(&stored), nil
}

// ListOpen returns unresolved items, oldest first.
func (r *ReconciliationRepository) ListOpen(ctx context.Context, limit int) ([]*model.ReconciliationItem, error) {
	if limit <= 0 {
		limit = defaultOpenLimit
	}

	var entities []*ReconciliationEntity
	err := r.Read(ctx).
		Where("status = ?", string(model.ReconciliationOpen)).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toReconciliationModels(entities), nil
}

// CountOpen reports unresolved items per provider.
func (r *ReconciliationRepository) CountOpen(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Provider string
		Total    int64
	}
	err := r.Read(ctx).
		Model(&ReconciliationEntity{}).
		Select("provider, COUNT(*) AS total").
		Where("status = ?", string(model.ReconciliationOpen)).
		Group("provider").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Provider] = row.Total
	}
	return counts, nil
}

// Resolve marks an item as handled. Resolving twice is a no-op that returns the stored item.
func (r *ReconciliationRepository) Resolve(ctx context.Context, id string) (*model.ReconciliationItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrReconciliationNotFound
	}

	var entity ReconciliationEntity
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		tx := r.Write(ctx)
		if err := tx.Where("id = ?", id).First(&entity).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReconciliationNotFound
			}
			return err
		}
		if entity.Status == string(model.ReconciliationResolved) {
			return nil
		}

		now := time.Now().UTC()
		entity.Status = string(model.ReconciliationResolved)
		entity.ResolvedAt = &now
		return tx.Model(&entity).Updates(map[string]any{
			"status":      entity.Status,
			"resolved_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return toReconciliationModel(&entity), nil
}
