package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/surge/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, surge *domain.Surge) error {
	return db.WithContext(ctx).Create(surge).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Surge, error) {
	var surges []domain.Surge
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&surges).Error
	if err != nil {
		return nil, err
	}
	if len(surges) == 0 {
		return nil, nil
	}
	return &surges[0], nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, surge *domain.Surge) error {
	return db.WithContext(ctx).
		Model(&domain.Surge{}).
		Where("id = ?", surge.ID).
		Updates(map[string]any{
			"name":         surge.Name,
			"start_date":   surge.StartDate,
			"end_date":     surge.EndDate,
			"report_types": surge.ReportTypes,
			"uploads":      surge.Uploads,
			"module_order": surge.Order,
			"updated_at":   surge.UpdatedAt,
		}).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Surge{}).Error
}

func (r *repo) UpsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *domain.Snapshot) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "surge_id"}, {Name: "household_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"storage_key",
				"file_name",
				"size_bytes",
				"prepared_at",
				"reports",
				"warnings",
				"updated_at",
			}),
		}).
		Create(snapshot).Error
}

func (r *repo) FindSnapshot(ctx context.Context, db *gorm.DB, surgeID, householdID snowflake.ID) (*domain.Snapshot, error) {
	var snapshots []domain.Snapshot
	err := db.WithContext(ctx).
		Where("surge_id = ? AND household_id = ?", surgeID, householdID).
		Limit(1).
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

func (r *repo) ListSnapshots(ctx context.Context, db *gorm.DB, surgeID snowflake.ID) ([]*domain.Snapshot, error) {
	var snapshots []*domain.Snapshot
	err := db.WithContext(ctx).
		Where("surge_id = ?", surgeID).
		Order("prepared_at desc, id desc").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *repo) DeleteSnapshots(ctx context.Context, db *gorm.DB, surgeID snowflake.ID, householdIDs []snowflake.ID) error {
	stmt := db.WithContext(ctx).Where("surge_id = ?", surgeID)
	if len(householdIDs) > 0 {
		stmt = stmt.Where("household_id IN ?", householdIDs)
	}
	return stmt.Delete(&domain.Snapshot{}).Error
}
