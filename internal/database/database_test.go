package database

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aethra/lowcode/internal/config"
	"github.com/aethra/lowcode/internal/models"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestLedgerRecordToleratesDuplicate(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, MigrationsTable)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `sys_migrations`")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"})

	require.NoError(t, ledger.Record(db, "20240101000000-create-pessoa.sql"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRecordPropagatesOtherErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, SeedersTable)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `sys_seeders`")).
		WillReturnError(errors.New("connection lost"))

	err := ledger.Record(db, "x.sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestLedgerAppliedAndLast(t *testing.T) {
	db, mock := setupMockDB(t)
	ledger := NewLedger(db, MigrationsTable)

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"name"}).
			AddRow("20240101000000-create-a.sql").
			AddRow("20240301000000-create-c.sql").
			AddRow("20240201000000-create-b.sql")
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `name` FROM `sys_migrations`")).WillReturnRows(rows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `name` FROM `sys_migrations`")).WillReturnRows(rows())

	applied, err := ledger.Applied(context.Background())
	require.NoError(t, err)
	assert.Len(t, applied, 3)
	assert.True(t, applied["20240201000000-create-b.sql"])

	last, err := ledger.Last(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240301000000-create-c.sql", "20240201000000-create-b.sql"}, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm", gorm.ErrDuplicatedKey, true},
		{"wrapped gorm", errors.Join(errors.New("insert"), gorm.ErrDuplicatedKey), true},
		{"mysql 1062", &mysqldriver.MySQLError{Number: 1062}, true},
		{"mysql other", &mysqldriver.MySQLError{Number: 1045}, false},
		{"postgres text", errors.New(`ERROR: duplicate key value violates unique constraint "x"`), true},
		{"sqlite text", errors.New("UNIQUE constraint failed: sys_migrations.name"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKey(tt.err))
		})
	}
}

func TestDSNs(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "lowcode"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=lowcode sslmode=disable", PostgresDSN(cfg))

	dsn := MySQLDSN(cfg)
	assert.Contains(t, dsn, "u:p@tcp(db:3306)/lowcode")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Contains(t, dsn, "parseTime=true")

	cfg.URL = "postgres://x"
	assert.Equal(t, "postgres://x", PostgresDSN(cfg))

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestBootstrapOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "boot.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Bootstrap(ctx, db, nil))
	// a second run over existing tables is a no-op
	require.NoError(t, Bootstrap(ctx, db, nil))

	crud := models.Crud{Name: "pessoas", Resource: "pessoa", Config: models.JSONB{"pageSize": float64(20)}}
	require.NoError(t, db.Create(&crud).Error)

	var got models.Crud
	require.NoError(t, db.First(&got, crud.ID).Error)
	assert.Equal(t, float64(20), got.Config["pageSize"])

	fn := models.Function{Name: "getModels", InputSchema: models.JSONB{"type": "object"}}
	require.NoError(t, db.Create(&fn).Error)

	for _, table := range []string{MigrationsTable, SeedersTable, "sys_cruds", "sys_functions"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
