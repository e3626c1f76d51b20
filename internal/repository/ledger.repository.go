package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrBalanceNotFound is returned when the user has no balance row yet.
	ErrBalanceNotFound = errors.New("balance not found")
	// ErrInsufficientCredits is raised by deduct_credits when the balance cannot cover the amount.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidAmount is raised by the procedures for non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrMalformedResult means a procedure answered with something other than one (id, balance) row.
	ErrMalformedResult = errors.New("malformed procedure result")
)

const (
	addCreditsSQL    = "SELECT id, balance FROM add_credits(?, ?, ?, ?, ?, ?, CAST(? AS jsonb))"
	deductCreditsSQL = "SELECT id, balance FROM deduct_credits(?, ?, ?, CAST(? AS jsonb))"
)

// ProcedureResult is the strict shape of an add_credits/deduct_credits answer.
type ProcedureResult struct {
	TransactionID string
	Balance       int64
}

type procedureRow struct {
	ID      *string `gorm:"column:id"`
	Balance *int64  `gorm:"column:balance"`
}

type LedgerRepository struct {
	*pg.DB
}

func NewLedgerRepository(db *pg.DB) *LedgerRepository {
	return &LedgerRepository{
		db,
	}
}

func (r *LedgerRepository) GetBalance(ctx context.Context, userID string) (*model.AccountBalance, error) {
	return r.getBalance(r.Read(ctx), userID)
}

func (r *LedgerRepository) getBalance(db *gorm.DB, userID string) (*model.AccountBalance, error) {
	var entity BalanceEntity
	err := db.Where("user_id = ?", userID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return toBalanceModel(&entity), nil
}

// CreateBalance inserts a zero balance for the user unless one already exists and returns the stored row.
// A concurrent first creation resolves to the row that won.
func (r *LedgerRepository) CreateBalance(ctx context.Context, userID string) (*model.AccountBalance, error) {
	entity := &BalanceEntity{UserID: userID}
	err := r.Write(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}
	// read from the primary, the replica may not have the row yet
	return r.getBalance(r.Write(ctx), userID)
}

// AddCredits calls add_credits and returns its (id, balance) answer.
func (r *LedgerRepository) AddCredits(ctx context.Context, req model.AddCreditsRequest) (*ProcedureResult, error) {
	meta, err := encodeMetadata(req.Options.Metadata)
	if err != nil {
		return nil, err
	}
	return r.callProcedure(ctx, addCreditsSQL,
		req.UserID,
		req.Amount,
		string(req.Type),
		nullable(req.Options.ReferenceID),
		nullable(req.Options.Description),
		nullable(req.Options.PackID),
		meta,
	)
}

// DeductCredits calls deduct_credits; the procedure refuses to overdraw.
func (r *LedgerRepository) DeductCredits(ctx context.Context, req model.DeductCreditsRequest) (*ProcedureResult, error) {
	meta, err := encodeMetadata(req.Options.Metadata)
	if err != nil {
		return nil, err
	}
	return r.callProcedure(ctx, deductCreditsSQL,
		req.UserID,
		req.Amount,
		nullable(req.Options.Description),
		meta,
	)
}

func (r *LedgerRepository) callProcedure(ctx context.Context, query string, args ...any) (*ProcedureResult, error) {
	var rows []procedureRow
	if err := r.Write(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, mapProcedureError(err)
	}

	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: expected 1 row, got %d", ErrMalformedResult, len(rows))
	}
	row := rows[0]
	if row.ID == nil || *row.ID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrMalformedResult)
	}
	if row.Balance == nil {
		return nil, fmt.Errorf("%w: missing balance", ErrMalformedResult)
	}
	if *row.Balance < 0 {
		return nil, fmt.Errorf("%w: negative balance %d", ErrMalformedResult, *row.Balance)
	}

	return &ProcedureResult{TransactionID: *row.ID, Balance: *row.Balance}, nil
}

// ListTransactions returns one newest-first page of the user's transactions.
func (r *LedgerRepository) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error) {
	f = f.Normalize()

	var entities []*TransactionEntity
	err := r.Read(ctx).
		Where("user_id = ?", f.UserID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	return toTransactionModels(entities), nil
}

// TransactionStats aggregates credits and debits in the database instead of scanning rows here.
func (r *LedgerRepository) TransactionStats(ctx context.Context, userID string) (model.TransactionStats, error) {
	var stats model.TransactionStats
	err := r.Read(ctx).
		Model(&TransactionEntity{}).
		Select(`COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS total_credited,
			COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS total_debited,
			COUNT(*) AS count`).
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		return model.TransactionStats{}, err
	}
	return stats, nil
}

func mapProcedureError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22023" {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, pgErr.Message)
	}
	if strings.Contains(err.Error(), "insufficient credits") {
		return fmt.Errorf("%w: %v", ErrInsufficientCredits, err)
	}
	return err
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
