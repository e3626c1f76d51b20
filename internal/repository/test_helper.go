package repository

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// setupTestDB opens a private in-memory sqlite database with the ledger tables.
func setupTestDB(t *testing.T) *testDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(&BalanceEntity{}, &TransactionEntity{}, &ReconciliationEntity{})
	require.NoError(t, err)

	return &testDB{
		DB:    pg.NewDB(db, db),
		rawDB: db,
	}
}

// setupMockDB wires the postgres dialector to sqlmock so the procedure calls can be asserted.
func setupMockDB(t *testing.T) (*pg.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return pg.NewDB(db, db), mock
}
