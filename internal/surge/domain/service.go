package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
)

var (
	ErrSurgeNotFound      = errors.New("surge_not_found")
	ErrUploadNotFound     = errors.New("upload_not_found")
	ErrDuplicateName      = errors.New("duplicate_surge_name")
	ErrInvalidName        = errors.New("invalid_surge_name")
	ErrInvalidDateRange   = errors.New("invalid_date_range")
	ErrInvalidReportType  = errors.New("invalid_report_type")
	ErrInvalidUpload      = errors.New("invalid_upload")
	ErrOrganizationNeeded = errors.New("organization_required")
)

type CreateSurgeRequest struct {
	Name        string
	StartDate   time.Time
	EndDate     time.Time
	ReportTypes []reportdomain.ReportType
	CreatedBy   string
}

type AddUploadRequest struct {
	SurgeID   snowflake.ID
	Name      string
	Content   []byte
	PageCount *int
}

type HouseholdWarnings struct {
	HouseholdID snowflake.ID  `json:"household_id"`
	Warnings    []WarningCode `json:"warnings"`
}

// Service manages surge configuration. Packet building lives in the batch
// pipeline.
type Service interface {
	Create(ctx context.Context, req CreateSurgeRequest) (*Surge, error)
	Get(ctx context.Context, id snowflake.ID) (*Surge, error)
	SelectReportTypes(ctx context.Context, id snowflake.ID, types []reportdomain.ReportType) (*Surge, error)
	AddUpload(ctx context.Context, req AddUploadRequest) (*Surge, error)
	RemoveUpload(ctx context.Context, id snowflake.ID, uploadID string) (*Surge, error)
	Reorder(ctx context.Context, id snowflake.ID, order []string) (*Surge, error)
	Delete(ctx context.Context, id snowflake.ID) error

	ListSnapshots(ctx context.Context, id snowflake.ID) ([]*Snapshot, error)
	ClearSnapshots(ctx context.Context, id snowflake.ID, householdIDs []snowflake.ID) error
	HouseholdWarnings(ctx context.Context, id snowflake.ID, householdIDs []snowflake.ID) ([]HouseholdWarnings, error)
}

// UploadKey is the storage key of a surge upload.
func UploadKey(surgeID snowflake.ID, uploadID string) string {
	return "surges/" + surgeID.String() + "/uploads/" + uploadID + ".pdf"
}

// PacketKey is the storage key of a household's merged packet. It is stable
// across rebuilds.
func PacketKey(surgeID, householdID snowflake.ID) string {
	return "surges/" + surgeID.String() + "/packets/" + householdID.String() + ".pdf"
}

// ArchiveKey is the storage key of a bundled download.
func ArchiveKey(surgeID snowflake.ID, archiveID string) string {
	return "surges/" + surgeID.String() + "/archives/" + archiveID + ".zip"
}
