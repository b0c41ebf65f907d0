// Package testutil holds fixtures shared by pipeline tests.
package testutil

import (
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns an isolated in-memory database with the surge schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_loc=auto"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	if err := db.AutoMigrate(
		&householddomain.Organization{},
		&householddomain.Household{},
		&householddomain.Account{},
		&reportdomain.ReportRecord{},
		&surgedomain.Surge{},
		&surgedomain.Snapshot{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
