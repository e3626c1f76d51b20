package repository

import (
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/pg"
)

type BalanceEntity struct {
	pg.Model
	UserID  string `gorm:"column:user_id;not null;uniqueIndex"`
	Balance int64  `gorm:"column:balance;not null"`
}

func (BalanceEntity) TableName() string {
	return "user_credits"
}

func toBalanceModel(e *BalanceEntity) *model.AccountBalance {
	if e == nil {
		return nil
	}
	return &model.AccountBalance{
		ID:        e.ID.String(),
		UserID:    e.UserID,
		Balance:   e.Balance,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}
