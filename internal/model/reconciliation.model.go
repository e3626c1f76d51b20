package model

import (
	"errors"
	"time"
)

type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)

const (
	ProviderPayPal = "paypal"
	ProviderCreem  = "creem"
)

// FailedCredit describes a payment the provider accepted but whose credits never reached the ledger.
// It travels over the reconciliation stream as JSON.
type FailedCredit struct {
	Provider   string          `json:"provider"`
	ExternalID string          `json:"externalId"`
	UserID     string          `json:"userId"`
	Credits    int64           `json:"credits"`
	Type       TransactionType `json:"type"`
	PackID     string          `json:"packId"`
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	OccurredAt time.Time       `json:"occurredAt"`
}

func (f FailedCredit) Validate() error {
	if f.Provider == "" {
		return errors.New("provider is required")
	}
	if f.ExternalID == "" {
		return errors.New("external id is required")
	}
	if f.Credits <= 0 {
		return errors.New("credits must be positive")
	}
	return nil
}

type ReconciliationItem struct {
	ID         string               `json:"id"`
	Provider   string               `json:"provider"`
	ExternalID string               `json:"externalId"`
	UserID     string               `json:"userId"`
	Credits    int64                `json:"credits"`
	PackID     string               `json:"packId"`
	Amount     string               `json:"amount"`
	Currency   string               `json:"currency"`
	Reason     string               `json:"reason"`
	Attempts   int                  `json:"attempts"`
	Status     ReconciliationStatus `json:"status"`
	CreatedAt  time.Time            `json:"createdAt"`
	ResolvedAt *time.Time           `json:"resolvedAt,omitempty"`
}
