package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/report/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertMissing(ctx context.Context, db *gorm.DB, records []*domain.ReportRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "household_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(&records).Error
}

func (r *repo) ListByHousehold(ctx context.Context, db *gorm.DB, householdID snowflake.ID) ([]*domain.ReportRecord, error) {
	var records []*domain.ReportRecord
	err := db.WithContext(ctx).
		Where("household_id = ?", householdID).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
