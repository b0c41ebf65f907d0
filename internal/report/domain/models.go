package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ReportType identifies a generated report. Its string value doubles as the
// report token in a surge order.
type ReportType string

const (
	ReportTypeBuckets        ReportType = "BUCKETS"
	ReportTypeGuardrails     ReportType = "GUARDRAILS"
	ReportTypeNetWorth       ReportType = "NET_WORTH"
	ReportTypeRelationship   ReportType = "RELATIONSHIP"
	ReportTypeStressTest     ReportType = "STRESS_TEST"
	ReportTypeSocialSecurity ReportType = "SOCIAL_SECURITY"
)

var reportTypes = []ReportType{
	ReportTypeBuckets,
	ReportTypeGuardrails,
	ReportTypeNetWorth,
	ReportTypeRelationship,
	ReportTypeStressTest,
	ReportTypeSocialSecurity,
}

func ReportTypes() []ReportType {
	return append([]ReportType(nil), reportTypes...)
}

func (t ReportType) Valid() bool {
	for _, known := range reportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ReportRecord is the per-household data a report is rendered from. There is
// at most one record per (household, type).
type ReportRecord struct {
	ID          snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID                `gorm:"not null;index" json:"organization_id"`
	HouseholdID snowflake.ID                `gorm:"not null;uniqueIndex:ux_report_records_household_type" json:"household_id"`
	Type        ReportType                  `gorm:"not null;size:32;uniqueIndex:ux_report_records_household_type" json:"type"`
	Data        datatypes.JSONMap           `json:"data"`
	Warnings    datatypes.JSONSlice[string] `json:"warnings"`
	CreatedAt   time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"not null" json:"updated_at"`
}

func (ReportRecord) TableName() string {
	return "report_records"
}

// DefaultData returns the seed content for a newly created record of the
// given type.
func DefaultData(t ReportType) map[string]any {
	switch t {
	case ReportTypeBuckets:
		return map[string]any{
			"buckets":      []any{},
			"horizonYears": 30,
			"inflation":    0.025,
		}
	case ReportTypeGuardrails:
		return map[string]any{
			"withdrawalRate": 0.04,
			"upperGuardrail": 0.2,
			"lowerGuardrail": 0.2,
			"adjustment":     0.1,
		}
	case ReportTypeNetWorth:
		return map[string]any{
			"assets":      []any{},
			"liabilities": []any{},
		}
	case ReportTypeRelationship:
		return map[string]any{
			"members":      []any{},
			"professional": []any{},
		}
	case ReportTypeStressTest:
		return map[string]any{
			"scenarios": []any{"2008", "1973", "2000"},
		}
	case ReportTypeSocialSecurity:
		return map[string]any{
			"claimingAge": 67,
			"benefits":    []any{},
		}
	default:
		return map[string]any{}
	}
}
