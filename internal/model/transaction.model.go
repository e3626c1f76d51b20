package model

import (
	"errors"
	"fmt"
	"time"
)

type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeUsage    TransactionType = "usage"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypeBonus    TransactionType = "bonus"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeUsage, TransactionTypeRefund, TransactionTypeBonus:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry. Amount is signed: positive credits, negative debits.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balanceAfter"`
	Type         TransactionType `json:"type"`
	ReferenceID  *string         `json:"referenceId,omitempty"`
	Description  *string         `json:"description"`
	PackID       *string         `json:"packId"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// CreditOptions are the optional arguments of a ledger mutation.
type CreditOptions struct {
	ReferenceID string
	Description string
	PackID      string
	Metadata    map[string]any
}

// MutationResult is what add/deduct report back. Balance is the value returned by the store.
type MutationResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Balance       int64  `json:"balance"`
	Error         string `json:"error,omitempty"`
}

type TransactionStats struct {
	TotalCredited int64 `json:"totalCredited"`
	TotalDebited  int64 `json:"totalDebited"`
	Count         int64 `json:"count"`
}

const (
	DefaultTransactionsLimit = 50
	MaxTransactionsLimit     = 200
)

// TransactionFilter controls ListTransactions paging.
type TransactionFilter struct {
	UserID string
	Limit  int
	Offset int
}

// Normalize applies the default page size, the upper bound and a non-negative offset.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultTransactionsLimit
	}
	if f.Limit > MaxTransactionsLimit {
		f.Limit = MaxTransactionsLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type AddCreditsRequest struct {
	UserID  string
	Amount  int64
	Type    TransactionType
	Options CreditOptions
}

func (r AddCreditsRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be a positive integer")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q", r.Type)
	}
	return nil
}

type DeductCreditsRequest struct {
	UserID  string
	Amount  int64
	Options CreditOptions
}

func (r DeductCreditsRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be a positive integer")
	}
	return nil
}
