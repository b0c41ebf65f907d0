package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrHouseholdNotFound = errors.New("household_not_found")

type Repository interface {
	// FindByID loads a household with its organization and accounts.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Household, error)
	// ListByIDs loads households without relations, in no particular order.
	ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Household, error)
}
