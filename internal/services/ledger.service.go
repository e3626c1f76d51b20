package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

var (
	ErrNotFound            = errors.New("balance not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStorage             = errors.New("storage error")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type LedgerStore interface {
	GetBalance(ctx context.Context, userID string) (*model.AccountBalance, error)
	CreateBalance(ctx context.Context, userID string) (*model.AccountBalance, error)
	AddCredits(ctx context.Context, req model.AddCreditsRequest) (*repository.ProcedureResult, error)
	DeductCredits(ctx context.Context, req model.DeductCreditsRequest) (*repository.ProcedureResult, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error)
	TransactionStats(ctx context.Context, userID string) (model.TransactionStats, error)
}

// LedgerService is the typed client of the credits ledger. It keeps no state between calls,
// every balance comes from the store.
type LedgerService struct {
	store LedgerStore
}

func NewLedgerService(store LedgerStore) *LedgerService {
	return &LedgerService{
		store: store,
	}
}

func (s *LedgerService) GetBalance(ctx context.Context, userID string) (*model.AccountBalance, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	b, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return nil, ErrNotFound
		}
		prom.IncLedgerError("get_balance")
		logger.Error("[ledger] get balance failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: get balance: %w", ErrStorage, err)
	}
	return b, nil
}

// GetOrCreateBalance returns the user's balance, creating a zero row on first use.
func (s *LedgerService) GetOrCreateBalance(ctx context.Context, userID string) (*model.AccountBalance, error) {
	b, err := s.GetBalance(ctx, userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	b, err = s.store.CreateBalance(ctx, userID)
	if err != nil {
		prom.IncLedgerError("create_balance")
		logger.Error("[ledger] create balance failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: create balance: %w", ErrStorage, err)
	}
	logger.Info("[ledger] balance created", "user_id", userID)
	return b, nil
}

func (s *LedgerService) AddCredits(ctx context.Context, userID string, amount int64, txType model.TransactionType, opts model.CreditOptions) (model.MutationResult, error) {
	req := model.AddCreditsRequest{
		UserID:  userID,
		Amount:  amount,
		Type:    txType,
		Options: opts,
	}
	if err := req.Validate(); err != nil {
		return failed(err), fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	res, err := s.store.AddCredits(ctx, req)
	if err != nil {
		prom.IncLedgerError("add_credits")
		logger.Error("[ledger] add credits failed",
			"user_id", userID,
			"amount", amount,
			"type", txType,
			"reference_id", opts.ReferenceID,
			"error", err,
		)
		return failed(err), fmt.Errorf("%w: add credits: %w", ErrStorage, err)
	}

	prom.AddCreditsAdded(amount, string(txType))
	logger.Info("[ledger] credits added",
		"user_id", userID,
		"amount", amount,
		"type", txType,
		"transaction_id", res.TransactionID,
		"balance", res.Balance,
	)
	return model.MutationResult{
		Success:       true,
		TransactionID: res.TransactionID,
		Balance:       res.Balance,
	}, nil
}

// DeductCredits spends credits. An overdraft is refused by the store and the balance stays untouched;
// the returned error then matches both ErrStorage and ErrInsufficientCredits.
func (s *LedgerService) DeductCredits(ctx context.Context, userID string, amount int64, opts model.CreditOptions) (model.MutationResult, error) {
	req := model.DeductCreditsRequest{
		UserID:  userID,
		Amount:  amount,
		Options: opts,
	}
	if err := req.Validate(); err != nil {
		return failed(err), fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	res, err := s.store.DeductCredits(ctx, req)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			logger.Warn("[ledger] deduct refused", "user_id", userID, "amount", amount)
			return failed(ErrInsufficientCredits), fmt.Errorf("%w: %w", ErrStorage, ErrInsufficientCredits)
		}
		prom.IncLedgerError("deduct_credits")
		logger.Error("[ledger] deduct credits failed", "user_id", userID, "amount", amount, "error", err)
		return failed(err), fmt.Errorf("%w: deduct credits: %w", ErrStorage, err)
	}

	prom.AddCreditsDeducted(amount)
	return model.MutationResult{
		Success:       true,
		TransactionID: res.TransactionID,
		Balance:       res.Balance,
	}, nil
}

// ListTransactions returns a newest-first page; limit and offset are clamped by TransactionFilter.Normalize.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	f := model.TransactionFilter{UserID: userID, Limit: limit, Offset: offset}.Normalize()
	txs, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		prom.IncLedgerError("list_transactions")
		return nil, fmt.Errorf("%w: list transactions: %w", ErrStorage, err)
	}
	return txs, nil
}

func (s *LedgerService) GetTransactionStats(ctx context.Context, userID string) (model.TransactionStats, error) {
	if userID == "" {
		return model.TransactionStats{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	stats, err := s.store.TransactionStats(ctx, userID)
	if err != nil {
		prom.IncLedgerError("transaction_stats")
		return model.TransactionStats{}, fmt.Errorf("%w: transaction stats: %w", ErrStorage, err)
	}
	return stats, nil
}

func failed(err error) model.MutationResult {
	return model.MutationResult{Success: false, Error: err.Error()}
}
