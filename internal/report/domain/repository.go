package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertMissing creates records that do not exist yet and leaves existing
	// (household, type) pairs untouched.
	InsertMissing(ctx context.Context, db *gorm.DB, records []*ReportRecord) error
	ListByHousehold(ctx context.Context, db *gorm.DB, householdID snowflake.ID) ([]*ReportRecord, error)
}
