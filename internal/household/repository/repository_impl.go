package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/household/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Household, error) {
	var households []domain.Household
	err := db.WithContext(ctx).
		Preload("Organization").
		Preload("Accounts", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id asc")
		}).
		Where("id = ?", id).
		Limit(1).
		Find(&households).Error
	if err != nil {
		return nil, err
	}
	if len(households) == 0 {
		return nil, nil
	}
	return &households[0], nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.Household, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var households []*domain.Household
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&households).Error
	if err != nil {
		return nil, err
	}
	return households, nil
}
