package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/surge/internal/clock"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	"github.com/smallbiznis/surge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDemoOrg_Idempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testutil.Epoch)
	ctx := context.Background()

	first, err := EnsureDemoOrg(ctx, db, node, clk)
	require.NoError(t, err)
	require.Len(t, first.HouseholdIDs, len(demoHouseholds))

	second, err := EnsureDemoOrg(ctx, db, node, clk)
	require.NoError(t, err)
	assert.Equal(t, first.OrgID, second.OrgID)
	assert.Equal(t, first.HouseholdIDs, second.HouseholdIDs)

	var orgs, households, records int64
	require.NoError(t, db.Model(&householddomain.Organization{}).Count(&orgs).Error)
	require.NoError(t, db.Model(&householddomain.Household{}).Count(&households).Error)
	require.NoError(t, db.Model(&reportdomain.ReportRecord{}).Count(&records).Error)
	assert.EqualValues(t, 1, orgs)
	assert.EqualValues(t, len(demoHouseholds), households)
	assert.EqualValues(t, len(demoHouseholds)*len(reportdomain.ReportTypes()), records)
}

func TestEnsureDemoOrg_AccountShapes(t *testing.T) {
	db := testutil.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	result, err := EnsureDemoOrg(context.Background(), db, node, nil)
	require.NoError(t, err)

	var last householddomain.Household
	require.NoError(t, db.Preload("Accounts").First(&last, "id = ?", result.HouseholdIDs[len(result.HouseholdIDs)-1]).Error)
	require.Len(t, last.Accounts, 1)
	assert.False(t, last.Accounts[0].HasSystematicWithdrawal())
	assert.True(t, last.Accounts[0].MissingAllocation())
}

func TestEnsureDemoOrg_RequiresHandles(t *testing.T) {
	_, err := EnsureDemoOrg(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}
