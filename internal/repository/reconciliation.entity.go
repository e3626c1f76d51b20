package repository

import (
	"time"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/pg"
)

type ReconciliationEntity struct {
	pg.Model
	Provider   string     `gorm:"column:provider;not null;uniqueIndex:uq_reconciliation_external,priority:1"`
	ExternalID string     `gorm:"column:external_id;not null;uniqueIndex:uq_reconciliation_external,priority:2"`
	UserID     string     `gorm:"column:user_id;not null"`
	Credits    int64      `gorm:"column:credits;not null"`
	PackID     string     `gorm:"column:pack_id;not null"`
	Amount     string     `gorm:"column:amount;not null"`
	Currency   string     `gorm:"column:currency;not null"`
	Reason     string     `gorm:"column:reason;not null"`
	Attempts   int        `gorm:"column:attempts;not null"`
	Status     string     `gorm:"column:status;not null;index"`
	ResolvedAt *time.Time `gorm:"column:resolved_at"`
}

func (ReconciliationEntity) TableName() string {
	return "credit_reconciliations"
}

func toReconciliationEntity(f model.FailedCredit) *ReconciliationEntity {
	return &ReconciliationEntity{
		Provider:   f.Provider,
		ExternalID: f.ExternalID,
		UserID:     f.UserID,
		Credits:    f.Credits,
		PackID:     f.PackID,
		Amount:     f.Amount,
		Currency:   f.Currency,
		Reason:     f.Reason,
		Attempts:   1,
		Status:     string(model.ReconciliationOpen),
	}
}

func toReconciliationModel(e *ReconciliationEntity) *model.ReconciliationItem {
	if e == nil {
		return nil
	}
	return &model.ReconciliationItem{
		ID:         e.ID.String(),
		Provider:   e.Provider,
		ExternalID: e.ExternalID,
		UserID:     e.UserID,
		Credits:    e.Credits,
		PackID:     e.PackID,
		Amount:     e.Amount,
		Currency:   e.Currency,
		Reason:     e.Reason,
		Attempts:   e.Attempts,
		Status:     model.ReconciliationStatus(e.Status),
		CreatedAt:  e.CreatedAt,
		ResolvedAt: e.ResolvedAt,
	}
}

func toReconciliationModels(entities []*ReconciliationEntity) []*model.ReconciliationItem {
	models := make([]*model.ReconciliationItem, len(entities))
	for i, e := range entities {
		models[i] = toReconciliationModel(e)
	}
	return models
}
