package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	householddomain "github.com/smallbiznis/surge/internal/household/domain"
	reportdomain "github.com/smallbiznis/surge/internal/report/domain"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Seeder inserts rows directly, bypassing services.
type Seeder struct {
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewSeeder(t testing.TB, db *gorm.DB) *Seeder {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return &Seeder{DB: db, Node: node}
}

func (s *Seeder) Organization(t testing.TB, name, logoKey string) *householddomain.Organization {
	t.Helper()
	org := &householddomain.Organization{
		ID:        s.Node.Generate(),
		Name:      name,
		LogoKey:   logoKey,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	s.create(t, org)
	return org
}

// Household creates a household with an advisor and one fully allocated
// account with a systematic withdrawal, so it raises no warnings under a
// branded organization.
func (s *Seeder) Household(t testing.TB, orgID snowflake.ID, name string) *householddomain.Household {
	t.Helper()
	advisor := s.Node.Generate()
	h := &householddomain.Household{
		ID:        s.Node.Generate(),
		OrgID:     orgID,
		Name:      name,
		AdvisorID: &advisor,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	s.create(t, h)

	withdrawal, stocks := 1500.0, 0.6
	s.create(t, &householddomain.Account{
		ID:                   s.Node.Generate(),
		OrgID:                orgID,
		HouseholdID:          h.ID,
		Name:                 "Joint Brokerage",
		SystematicWithdrawal: &withdrawal,
		AllocationStocks:     &stocks,
		CreatedAt:            Epoch,
		UpdatedAt:            Epoch,
	})
	return h
}

func (s *Seeder) Surge(t testing.TB, orgID snowflake.ID, name string, types []reportdomain.ReportType, uploads []surgedomain.Upload, order []string) *surgedomain.Surge {
	t.Helper()
	surge := &surgedomain.Surge{
		ID:          s.Node.Generate(),
		OrgID:       orgID,
		Name:        name,
		StartDate:   Epoch,
		EndDate:     Epoch.AddDate(0, 1, 0),
		ReportTypes: datatypes.NewJSONSlice(types),
		Uploads:     datatypes.NewJSONSlice(uploads),
		Order:       datatypes.NewJSONSlice(order),
		CreatedAt:   Epoch,
		UpdatedAt:   Epoch,
	}
	s.create(t, surge)
	return surge
}

func (s *Seeder) Record(t testing.TB, h *householddomain.Household, reportType reportdomain.ReportType, data map[string]any) *reportdomain.ReportRecord {
	t.Helper()
	record := &reportdomain.ReportRecord{
		ID:          s.Node.Generate(),
		OrgID:       h.OrgID,
		HouseholdID: h.ID,
		Type:        reportType,
		Data:        datatypes.JSONMap(data),
		Warnings:    datatypes.NewJSONSlice([]string{}),
		CreatedAt:   Epoch,
		UpdatedAt:   Epoch,
	}
	s.create(t, record)
	return record
}

func (s *Seeder) create(t testing.TB, value any) {
	t.Helper()
	if err := s.DB.Create(value).Error; err != nil {
		t.Fatalf("seed %T: %v", value, err)
	}
}
