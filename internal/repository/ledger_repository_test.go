package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func seedTransactions(t *testing.T, db *testDB, userID string, amounts ...int64) []*TransactionEntity {
	t.Helper()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var balance int64
	var out []*TransactionEntity
	for i, amount := range amounts {
		balance += amount
		txType := string(model.TransactionTypePurchase)
		if amount < 0 {
			txType = string(model.TransactionTypeUsage)
		}
		e := &TransactionEntity{
			UserID:       userID,
			Amount:       amount,
			BalanceAfter: balance,
			Type:         txType,
			Metadata:     datatypes.JSONMap{"seq": i},
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.rawDB.Create(e).Error)
		out = append(out, e)
	}
	return out
}

func TestLedgerRepository_GetBalance(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db.DB)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		b, err := repo.GetBalance(ctx, "nobody")
		assert.ErrorIs(t, err, ErrBalanceNotFound)
		assert.Nil(t, b)
	})

	t.Run("existing row", func(t *testing.T) {
		require.NoError(t, db.rawDB.Create(&BalanceEntity{UserID: "u-existing", Balance: 42}).Error)

		b, err := repo.GetBalance(ctx, "u-existing")
		require.NoError(t, err)
		assert.Equal(t, int64(42), b.Balance)
		assert.Equal(t, "u-existing", b.UserID)
		assert.NotEmpty(t, b.ID)
	})
}

func TestLedgerRepository_CreateBalance(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db.DB)
	ctx := context.Background()

	t.Run("creates zero balance", func(t *testing.T) {
		b, err := repo.CreateBalance(ctx, "u-new")
		require.NoError(t, err)
		assert.Equal(t, int64(0), b.Balance)
	})

	t.Run("second create returns existing row", func(t *testing.T) {
		first, err := repo.CreateBalance(ctx, "u-twice")
		require.NoError(t, err)

		require.NoError(t, db.rawDB.Model(&BalanceEntity{}).Where("user_id = ?", "u-twice").Update("balance", 15).Error)

		second, err := repo.CreateBalance(ctx, "u-twice")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, int64(15), second.Balance)

		var count int64
		require.NoError(t, db.rawDB.Model(&BalanceEntity{}).Where("user_id = ?", "u-twice").Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestLedgerRepository_ListTransactions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db.DB)
	ctx := context.Background()

	seeded := seedTransactions(t, db, "u1", 100, -10, 50, -20, 5)
	seedTransactions(t, db, "u2", 7)

	t.Run("newest first", func(t *testing.T) {
		txs, err := repo.ListTransactions(ctx, model.TransactionFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, txs, 5)

		assert.Equal(t, seeded[4].ID.String(), txs[0].ID)
		assert.Equal(t, seeded[0].ID.String(), txs[4].ID)
		assert.Equal(t, int64(125), txs[0].BalanceAfter)
		assert.Equal(t, model.TransactionTypeUsage, txs[1].Type)
	})

	t.Run("pages are contiguous", func(t *testing.T) {
		first, err := repo.ListTransactions(ctx, model.TransactionFilter{UserID: "u1", Limit: 2})
		require.NoError(t, err)
		second, err := repo.ListTransactions(ctx, model.TransactionFilter{UserID: "u1", Limit: 2, Offset: 2})
		require.NoError(t, err)
		all, err := repo.ListTransactions(ctx, model.TransactionFilter{UserID: "u1", Limit: 4})
		require.NoError(t, err)

		require.Len(t, first, 2)
		require.Len(t, second, 2)
		assert.Equal(t, all, append(first, second...))
	})

	t.Run("metadata round trips", func(t *testing.T) {
		txs, err := repo.ListTransactions(ctx, model.TransactionFilter{UserID: "u2"})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, int64(0), txs[0].Metadata["seq"])
	})

	t.Run("unknown user", func(t *testing.T) {
		txs, err := repo.ListTransactions(ctx, model.TransactionFilter{UserID: "ghost"})
		require.NoError(t, err)
		assert.Empty(t, txs)
	})
}

func TestLedgerRepository_TransactionStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db.DB)
	ctx := context.Background()

	seedTransactions(t, db, "u1", 100, -10, 50, -20)

	stats, err := repo.TransactionStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStats{TotalCredited: 150, TotalDebited: 30, Count: 4}, stats)

	empty, err := repo.TransactionStats(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStats{}, empty)
}

func TestLedgerRepository_AddCredits(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT id, balance FROM add_credits(")

	req := model.AddCreditsRequest{
		UserID: "u1",
		Amount: 500,
		Type:   model.TransactionTypePurchase,
		Options: model.CreditOptions{
			ReferenceID: "ORDER-1",
			Description: "Purchased Starter Pack",
			PackID:      "small",
			Metadata:    map[string]any{"paypalOrderId": "ORDER-1"},
		},
	}

	t.Run("returns procedure row", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).
			WithArgs("u1", int64(500), "purchase", "ORDER-1", "Purchased Starter Pack", "small", `{"paypalOrderId":"ORDER-1"}`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("tx-1", int64(500)))

		res, err := repo.AddCredits(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, &ProcedureResult{TransactionID: "tx-1", Balance: 500}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optional arguments are null", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).
			WithArgs("u1", int64(10), "bonus", nil, nil, nil, "{}").
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("tx-2", int64(10)))

		res, err := repo.AddCredits(ctx, model.AddCreditsRequest{UserID: "u1", Amount: 10, Type: model.TransactionTypeBonus})
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row is malformed", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}))

		_, err := repo.AddCredits(ctx, req)
		assert.ErrorIs(t, err, ErrMalformedResult)
	})

	t.Run("null balance is malformed", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("tx-3", nil))

		_, err := repo.AddCredits(ctx, req)
		assert.ErrorIs(t, err, ErrMalformedResult)
	})

	t.Run("unexpected columns are malformed", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "new_balance"}).AddRow("tx-4", int64(5)))

		_, err := repo.AddCredits(ctx, req)
		assert.ErrorIs(t, err, ErrMalformedResult)
	})

	t.Run("driver error is returned", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		boom := errors.New("connection reset")
		mock.ExpectQuery(query).WillReturnError(boom)

		_, err := repo.AddCredits(ctx, req)
		assert.ErrorIs(t, err, boom)
	})
}

func TestLedgerRepository_DeductCredits(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT id, balance FROM deduct_credits(")

	req := model.DeductCreditsRequest{
		UserID:  "u1",
		Amount:  2,
		Options: model.CreditOptions{Description: "Image generation", Metadata: map[string]any{"source": "web"}},
	}

	t.Run("returns procedure row", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).
			WithArgs("u1", int64(2), "Image generation", `{"source":"web"}`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("tx-9", int64(8)))

		res, err := repo.DeductCredits(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(8), res.Balance)
		assert.Equal(t, "tx-9", res.TransactionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("procedure rejects overdraft", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewLedgerRepository(db)

		mock.ExpectQuery(query).WillReturnError(errors.New("ERROR: insufficient credits (SQLSTATE P0001)"))

		_, err := repo.DeductCredits(ctx, req)
		assert.ErrorIs(t, err, ErrInsufficientCredits)
	})
}

func TestNormalizeMetadata(t *testing.T) {
	in := datatypes.JSONMap{
		"count":  json.Number("3"),
		"amount": json.Number("29.99"),
		"label":  "pro",
		"nested": map[string]any{"seq": json.Number("7")},
		"list":   []any{json.Number("1"), "x"},
	}

	out := normalizeMetadata(in)
	assert.Equal(t, map[string]any{
		"count":  int64(3),
		"amount": 29.99,
		"label":  "pro",
		"nested": map[string]any{"seq": int64(7)},
		"list":   []any{int64(1), "x"},
	}, out)
	assert.Nil(t, normalizeMetadata(nil))
}
