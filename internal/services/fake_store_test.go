package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
)

// memoryStore follows the add_credits/deduct_credits contract in memory.
type memoryStore struct {
	mu       sync.Mutex
	balances map[string]*model.AccountBalance
	txs      map[string][]*model.Transaction
	clock    time.Time
	failNext error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		balances: make(map[string]*model.AccountBalance),
		txs:      make(map[string][]*model.Transaction),
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memoryStore) GetBalance(_ context.Context, userID string) (*model.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	b, ok := m.balances[userID]
	if !ok {
		return nil, repository.ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memoryStore) CreateBalance(_ context.Context, userID string) (*model.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	b := m.ensure(userID)
	cp := *b
	return &cp, nil
}

func (m *memoryStore) ensure(userID string) *model.AccountBalance {
	b, ok := m.balances[userID]
	if !ok {
		b = &model.AccountBalance{ID: uuid.NewString(), UserID: userID, CreatedAt: m.clock, UpdatedAt: m.clock}
		m.balances[userID] = b
	}
	return b
}

func (m *memoryStore) AddCredits(_ context.Context, req model.AddCreditsRequest) (*repository.ProcedureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, repository.ErrInvalidAmount
	}
	b := m.ensure(req.UserID)
	if ref := req.Options.ReferenceID; ref != "" {
		for _, tx := range m.txs[req.UserID] {
			if tx.Type == req.Type && tx.ReferenceID != nil && *tx.ReferenceID == ref {
				return &repository.ProcedureResult{TransactionID: tx.ID, Balance: b.Balance}, nil
			}
		}
	}
	b.Balance += req.Amount
	tx := m.append(req.UserID, req.Amount, b.Balance, req.Type, req.Options)
	return &repository.ProcedureResult{TransactionID: tx.ID, Balance: b.Balance}, nil
}

func (m *memoryStore) DeductCredits(_ context.Context, req model.DeductCreditsRequest) (*repository.ProcedureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, repository.ErrInvalidAmount
	}
	b, ok := m.balances[req.UserID]
	if !ok || b.Balance < req.Amount {
		return nil, fmt.Errorf("%w: balance too low", repository.ErrInsufficientCredits)
	}
	b.Balance -= req.Amount
	tx := m.append(req.UserID, -req.Amount, b.Balance, model.TransactionTypeUsage, req.Options)
	return &repository.ProcedureResult{TransactionID: tx.ID, Balance: b.Balance}, nil
}

func (m *memoryStore) append(userID string, amount, after int64, txType model.TransactionType, opts model.CreditOptions) *model.Transaction {
	m.clock = m.clock.Add(time.Second)
	tx := &model.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: after,
		Type:         txType,
		Metadata:     opts.Metadata,
		CreatedAt:    m.clock,
	}
	if opts.ReferenceID != "" {
		ref := opts.ReferenceID
		tx.ReferenceID = &ref
	}
	if opts.Description != "" {
		d := opts.Description
		tx.Description = &d
	}
	if opts.PackID != "" {
		p := opts.PackID
		tx.PackID = &p
	}
	m.txs[userID] = append(m.txs[userID], tx)
	return tx
}

func (m *memoryStore) ListTransactions(_ context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	all := m.txs[f.UserID]
	out := make([]*model.Transaction, 0, f.Limit)
	for i := len(all) - 1 - f.Offset; i >= 0 && len(out) < f.Limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memoryStore) TransactionStats(_ context.Context, userID string) (model.TransactionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return model.TransactionStats{}, err
	}
	var stats model.TransactionStats
	for _, tx := range m.txs[userID] {
		if tx.Amount > 0 {
			stats.TotalCredited += tx.Amount
		} else {
			stats.TotalDebited -= tx.Amount
		}
		stats.Count++
	}
	return stats, nil
}
