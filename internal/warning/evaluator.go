// Package warning computes data quality warnings for a household relative to
// a surge. Warnings are never stored on their own.
package warning

import (
	"errors"

	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
)

var ErrMissingOrganization = errors.New("household_missing_organization")

// Evaluate returns every applicable warning code in rule order. The household
// must be loaded with its organization and accounts.
func Evaluate(h *householddomain.Household, s *surgedomain.Surge) ([]surgedomain.WarningCode, error) {
	if h == nil || s == nil {
		return nil, errors.New("household and surge are required")
	}
	if h.Organization == nil {
		return nil, ErrMissingOrganization
	}

	codes := make([]surgedomain.WarningCode, 0, 5)
	if len(h.Accounts) == 0 {
		codes = append(codes, surgedomain.WarningNoAccounts)
	}
	if !h.Organization.HasBranding() {
		codes = append(codes, surgedomain.WarningNoBranding)
	}
	if h.AdvisorID == nil || *h.AdvisorID == 0 {
		codes = append(codes, surgedomain.WarningNoAdvisor)
	}

	wantsBuckets := s.HasReportType(reportdomain.ReportTypeBuckets)
	wantsGuardrails := s.HasReportType(reportdomain.ReportTypeGuardrails)

	if (wantsBuckets || wantsGuardrails) && !anyAccount(h.Accounts, householddomain.Account.HasSystematicWithdrawal) {
		codes = append(codes, surgedomain.WarningNoSystematicWithdrawal)
	}
	if wantsBuckets && anyAccount(h.Accounts, householddomain.Account.MissingAllocation) {
		codes = append(codes, surgedomain.WarningMissingAllocation)
	}
	return codes, nil
}

func anyAccount(accounts []householddomain.Account, pred func(householddomain.Account) bool) bool {
	for _, account := range accounts {
		if pred(account) {
			return true
		}
	}
	return false
}
