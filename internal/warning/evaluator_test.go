package warning

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func idPtr(v snowflake.ID) *snowflake.ID { return &v }

func completeHousehold() *householddomain.Household {
	return &householddomain.Household{
		ID:           10,
		Name:         "Rivera Family",
		AdvisorID:    idPtr(7),
		Organization: &householddomain.Organization{ID: 1, Name: "Acme Wealth", LogoKey: "logos/acme.png"},
		Accounts: []householddomain.Account{
			{ID: 100, Name: "IRA", SystematicWithdrawal: floatPtr(1500), AllocationStocks: floatPtr(60), AllocationBonds: floatPtr(40)},
		},
	}
}

func surgeWith(types ...reportdomain.ReportType) *surgedomain.Surge {
	return &surgedomain.Surge{ID: 1, ReportTypes: types}
}

func TestEvaluate_CompleteHouseholdHasNoWarnings(t *testing.T) {
	codes, err := Evaluate(completeHousehold(), surgeWith(reportdomain.ReportTypeBuckets, reportdomain.ReportTypeGuardrails))
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestEvaluate_Rules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(h *householddomain.Household)
		types  []reportdomain.ReportType
		want   []surgedomain.WarningCode
	}{
		{
			name:   "no accounts",
			mutate: func(h *householddomain.Household) { h.Accounts = nil },
			types:  []reportdomain.ReportType{reportdomain.ReportTypeNetWorth},
			want:   []surgedomain.WarningCode{surgedomain.WarningNoAccounts},
		},
		{
			name:   "no accounts with buckets",
			mutate: func(h *householddomain.Household) { h.Accounts = nil },
			types:  []reportdomain.ReportType{reportdomain.ReportTypeBuckets},
			want:   []surgedomain.WarningCode{surgedomain.WarningNoAccounts, surgedomain.WarningNoSystematicWithdrawal},
		},
		{
			name:   "no branding",
			mutate: func(h *householddomain.Household) { h.Organization.LogoKey = "" },
			want:   []surgedomain.WarningCode{surgedomain.WarningNoBranding},
		},
		{
			name:   "no advisor",
			mutate: func(h *householddomain.Household) { h.AdvisorID = nil },
			want:   []surgedomain.WarningCode{surgedomain.WarningNoAdvisor},
		},
		{
			name:   "no withdrawal for guardrails",
			mutate: func(h *householddomain.Household) { h.Accounts[0].SystematicWithdrawal = floatPtr(0) },
			types:  []reportdomain.ReportType{reportdomain.ReportTypeGuardrails},
			want:   []surgedomain.WarningCode{surgedomain.WarningNoSystematicWithdrawal},
		},
		{
			name:   "no withdrawal ignored without buckets or guardrails",
			mutate: func(h *householddomain.Household) { h.Accounts[0].SystematicWithdrawal = nil },
			types:  []reportdomain.ReportType{reportdomain.ReportTypeNetWorth},
		},
		{
			name: "missing allocation for buckets",
			mutate: func(h *householddomain.Household) {
				h.Accounts = append(h.Accounts, householddomain.Account{ID: 101, Name: "Cash", AllocationCash: floatPtr(0)})
			},
			types: []reportdomain.ReportType{reportdomain.ReportTypeBuckets},
			want:  []surgedomain.WarningCode{surgedomain.WarningMissingAllocation},
		},
		{
			name: "missing allocation ignored for guardrails",
			mutate: func(h *householddomain.Household) {
				h.Accounts = append(h.Accounts, householddomain.Account{ID: 101, Name: "Cash"})
			},
			types: []reportdomain.ReportType{reportdomain.ReportTypeGuardrails},
		},
		{
			name: "all rules in order",
			mutate: func(h *householddomain.Household) {
				h.Organization.LogoKey = ""
				h.AdvisorID = nil
				h.Accounts = []householddomain.Account{{ID: 102, Name: "Brokerage"}}
			},
			types: []reportdomain.ReportType{reportdomain.ReportTypeBuckets},
			want: []surgedomain.WarningCode{
				surgedomain.WarningNoBranding,
				surgedomain.WarningNoAdvisor,
				surgedomain.WarningNoSystematicWithdrawal,
				surgedomain.WarningMissingAllocation,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := completeHousehold()
			tc.mutate(h)
			codes, err := Evaluate(h, surgeWith(tc.types...))
			require.NoError(t, err)
			if len(tc.want) == 0 {
				assert.Empty(t, codes)
				return
			}
			assert.Equal(t, tc.want, codes)
		})
	}
}

func TestEvaluate_MissingOrganizationIsAnError(t *testing.T) {
	h := completeHousehold()
	h.Organization = nil

	_, err := Evaluate(h, surgeWith(reportdomain.ReportTypeBuckets))
	assert.ErrorIs(t, err, ErrMissingOrganization)
}
