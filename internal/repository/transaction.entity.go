package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/credits-gateway/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionEntity struct {
	ID           uuid.UUID         `gorm:"column:id;primaryKey;type:uuid"`
	UserID       string            `gorm:"column:user_id;not null;index:idx_credit_transactions_user_created,priority:1"`
	Amount       int64             `gorm:"column:amount;not null"`
	BalanceAfter int64             `gorm:"column:balance_after;not null"`
	Type         string            `gorm:"column:type;not null"`
	ReferenceID  *string           `gorm:"column:reference_id"`
	Description  *string           `gorm:"column:description"`
	PackID       *string           `gorm:"column:pack_id"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_credit_transactions_user_created,priority:2"`
}

func (TransactionEntity) TableName() string {
	return "credit_transactions"
}

func (e *TransactionEntity) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:           e.ID.String(),
		UserID:       e.UserID,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Type:         model.TransactionType(e.Type),
		ReferenceID:  e.ReferenceID,
		Description:  e.Description,
		PackID:       e.PackID,
		Metadata:     normalizeMetadata(e.Metadata),
		CreatedAt:    e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}

// normalizeMetadata turns the json.Number values JSONMap decodes into int64 or float64.
func normalizeMetadata(m datatypes.JSONMap) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
