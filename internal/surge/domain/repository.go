package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, surge *Surge) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Surge, error)
	// Update persists the mutable configuration columns of a surge.
	Update(ctx context.Context, db *gorm.DB, surge *Surge) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// UpsertSnapshot creates or replaces the snapshot for its
	// (surge, household) pair.
	UpsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
	FindSnapshot(ctx context.Context, db *gorm.DB, surgeID, householdID snowflake.ID) (*Snapshot, error)
	ListSnapshots(ctx context.Context, db *gorm.DB, surgeID snowflake.ID) ([]*Snapshot, error)
	// DeleteSnapshots removes the given households' snapshots, or all of the
	// surge's snapshots when householdIDs is empty.
	DeleteSnapshots(ctx context.Context, db *gorm.DB, surgeID snowflake.ID, householdIDs []snowflake.ID) error
}
