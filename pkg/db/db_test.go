package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/surge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	cfg := config.Config{
		DBHost:     "db",
		DBPort:     "5432",
		DBUser:     "surge",
		DBPassword: "pw",
		DBName:     "surge",
		DBSSLMode:  "disable",
		DBPath:     "/tmp/surge.db",
	}

	cfg.DBType = "PostgreSQL"
	dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "TimeZone=UTC")

	cfg.DBType = "mysql"
	cfg.DBPort = "3306"
	dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "surge:pw@tcp(db:3306)/surge?charset=utf8mb4&loc=UTC&parseTime=True", dsn)

	cfg.DBType = "sqlite3"
	dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/surge.db?_foreign_keys=1&_busy_timeout=5000", dsn)

	cfg.DBType = "oracle"
	_, err = DSN(cfg)
	assert.Error(t, err)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: surges.name")))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062 (23000): Duplicate entry")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}
