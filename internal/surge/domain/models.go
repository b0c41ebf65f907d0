package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	"gorm.io/datatypes"
)

// Surge is a named campaign that builds one packet per selected household.
type Surge struct {
	ID          snowflake.ID                                 `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID                                 `gorm:"not null;uniqueIndex:ux_surges_org_name" json:"organization_id"`
	Name        string                                       `gorm:"not null;uniqueIndex:ux_surges_org_name" json:"name"`
	StartDate   time.Time                                    `gorm:"not null" json:"start_date"`
	EndDate     time.Time                                    `gorm:"not null" json:"end_date"`
	ReportTypes datatypes.JSONSlice[reportdomain.ReportType] `json:"report_types"`
	Uploads     datatypes.JSONSlice[Upload]                  `json:"uploads"`
	Order       datatypes.JSONSlice[string]                  `gorm:"column:module_order" json:"order"`
	CreatedBy   string                                       `json:"created_by"`
	CreatedAt   time.Time                                    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                                    `gorm:"not null" json:"updated_at"`
}

func (Surge) TableName() string {
	return "surges"
}

// Upload is a static PDF attached to a surge and included in every packet.
type Upload struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StorageKey string    `json:"storage_key"`
	PageCount  *int      `json:"page_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StepsPerHousehold is the number of sources attempted for each packet.
func (s Surge) StepsPerHousehold() int {
	return len(s.ReportTypes) + len(s.Uploads)
}

func (s Surge) HasReportType(t reportdomain.ReportType) bool {
	for _, enabled := range s.ReportTypes {
		if enabled == t {
			return true
		}
	}
	return false
}

func (s Surge) FindUpload(id string) (Upload, bool) {
	for _, upload := range s.Uploads {
		if upload.ID == id {
			return upload, true
		}
	}
	return Upload{}, false
}

// Snapshot records the last built packet for a (surge, household) pair.
type Snapshot struct {
	ID          snowflake.ID                       `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID                       `gorm:"not null;index" json:"organization_id"`
	SurgeID     snowflake.ID                       `gorm:"not null;uniqueIndex:ux_surge_snapshots_surge_household" json:"surge_id"`
	HouseholdID snowflake.ID                       `gorm:"not null;uniqueIndex:ux_surge_snapshots_surge_household" json:"household_id"`
	StorageKey  string                             `gorm:"not null" json:"storage_key"`
	FileName    string                             `gorm:"not null" json:"file_name"`
	SizeBytes   int64                              `gorm:"not null" json:"size_bytes"`
	PreparedAt  time.Time                          `gorm:"not null" json:"prepared_at"`
	Reports     datatypes.JSONSlice[ReportCapture] `json:"reports"`
	Warnings    datatypes.JSONSlice[WarningCode]   `json:"warnings"`
	CreatedAt   time.Time                          `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                          `gorm:"not null" json:"updated_at"`
}

func (Snapshot) TableName() string {
	return "surge_snapshots"
}

// ReportCapture is the audit copy of a report's data at build time.
type ReportCapture struct {
	Type     reportdomain.ReportType `json:"type"`
	Data     map[string]any          `json:"data"`
	Warnings []string                `json:"warnings,omitempty"`
}

type WarningCode string

const (
	WarningNoAccounts             WarningCode = "NO_ACCOUNTS"
	WarningNoBranding             WarningCode = "NO_BRANDING"
	WarningNoAdvisor              WarningCode = "NO_ADVISOR"
	WarningNoSystematicWithdrawal WarningCode = "NO_SYSTEMATIC_WITHDRAWAL"
	WarningMissingAllocation      WarningCode = "MISSING_ALLOCATION"
)
