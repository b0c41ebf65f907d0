// Package seed bootstraps a demo organization for local development.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/clock"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultOrgName = "Main"

type demoHousehold struct {
	name       string
	advisor    bool
	withdrawal float64
	stocks     float64
}

// The demo organization has no logo, so every household warns about
// branding. Okafor Trust also lacks an advisor and Lindqvist Family has an
// account with neither a withdrawal nor an allocation.
var demoHouseholds = []demoHousehold{
	{name: "Smith Family", advisor: true, withdrawal: 1500, stocks: 0.6},
	{name: "Garcia Household", advisor: true, withdrawal: 2200, stocks: 0.45},
	{name: "Okafor Trust", advisor: false, withdrawal: 900, stocks: 0.7},
	{name: "Lindqvist Family", advisor: true},
}

type Result struct {
	OrgID        snowflake.ID
	HouseholdIDs []snowflake.ID
}

// EnsureDemoOrg creates the "Main" organization, its demo households and a
// report record of every type per household. Existing rows are left as they
// are, so running it twice is harmless.
func EnsureDemoOrg(ctx context.Context, db *gorm.DB, node *snowflake.Node, clk clock.Clock) (*Result, error) {
	if db == nil {
		return nil, errors.New("seed database handle is required")
	}
	if node == nil {
		return nil, errors.New("seed id generator is required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}

	result := &Result{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureOrgTx(ctx, tx, node, clk)
		if err != nil {
			return err
		}
		result.OrgID = org.ID

		for _, demo := range demoHouseholds {
			household, err := ensureHouseholdTx(ctx, tx, node, clk, org.ID, demo)
			if err != nil {
				return err
			}
			if err := ensureRecordsTx(ctx, tx, node, clk, household); err != nil {
				return err
			}
			result.HouseholdIDs = append(result.HouseholdIDs, household.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func ensureOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clk clock.Clock) (householddomain.Organization, error) {
	var org householddomain.Organization
	err := tx.WithContext(ctx).Where("name = ?", defaultOrgName).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}
	now := clk.Now()
	org = householddomain.Organization{
		ID:        node.Generate(),
		Name:      defaultOrgName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}

func ensureHouseholdTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clk clock.Clock, orgID snowflake.ID, demo demoHousehold) (householddomain.Household, error) {
	var household householddomain.Household
	err := tx.WithContext(ctx).Where("org_id = ? AND name = ?", orgID, demo.name).First(&household).Error
	if err == nil {
		return household, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return household, err
	}

	now := clk.Now()
	household = householddomain.Household{
		ID:        node.Generate(),
		OrgID:     orgID,
		Name:      demo.name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if demo.advisor {
		advisorID := node.Generate()
		household.AdvisorID = &advisorID
	}
	if err := tx.WithContext(ctx).Create(&household).Error; err != nil {
		return household, err
	}

	account := householddomain.Account{
		ID:          node.Generate(),
		OrgID:       orgID,
		HouseholdID: household.ID,
		Name:        "Joint Brokerage",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if demo.withdrawal > 0 {
		withdrawal := demo.withdrawal
		account.SystematicWithdrawal = &withdrawal
	}
	if demo.stocks > 0 {
		stocks, bonds := demo.stocks, 1-demo.stocks
		account.AllocationStocks = &stocks
		account.AllocationBonds = &bonds
	}
	if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
		return household, err
	}
	return household, nil
}

func ensureRecordsTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, clk clock.Clock, household householddomain.Household) error {
	var existing []reportdomain.ReportType
	if err := tx.WithContext(ctx).
		Model(&reportdomain.ReportRecord{}).
		Where("household_id = ?", household.ID).
		Pluck("type", &existing).Error; err != nil {
		return err
	}
	have := make(map[reportdomain.ReportType]struct{}, len(existing))
	for _, t := range existing {
		have[t] = struct{}{}
	}

	now := clk.Now()
	for _, t := range reportdomain.ReportTypes() {
		if _, ok := have[t]; ok {
			continue
		}
		record := reportdomain.ReportRecord{
			ID:          node.Generate(),
			OrgID:       household.OrgID,
			HouseholdID: household.ID,
			Type:        t,
			Data:        datatypes.JSONMap(reportdomain.DefaultData(t)),
			Warnings:    datatypes.NewJSONSlice([]string{}),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}
