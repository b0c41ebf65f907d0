package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"not null" json:"name"`
	LogoKey   string       `gorm:"column:logo_key" json:"logo_key,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

func (o Organization) HasBranding() bool {
	return o.LogoKey != ""
}

type Household struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	Name         string        `gorm:"not null" json:"name"`
	AdvisorID    *snowflake.ID `json:"advisor_id,omitempty"`
	Organization *Organization `gorm:"foreignKey:OrgID;references:ID" json:"organization,omitempty"`
	Accounts     []Account     `gorm:"foreignKey:HouseholdID;references:ID" json:"accounts,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null" json:"updated_at"`
}

func (Household) TableName() string {
	return "households"
}

type Account struct {
	ID                     snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID                  snowflake.ID `gorm:"not null;index" json:"organization_id"`
	HouseholdID            snowflake.ID `gorm:"not null;index" json:"household_id"`
	Name                   string       `gorm:"not null" json:"name"`
	SystematicWithdrawal   *float64     `json:"systematic_withdrawal,omitempty"`
	AllocationStocks       *float64     `json:"allocation_stocks,omitempty"`
	AllocationBonds        *float64     `json:"allocation_bonds,omitempty"`
	AllocationCash         *float64     `json:"allocation_cash,omitempty"`
	AllocationAlternatives *float64     `json:"allocation_alternatives,omitempty"`
	CreatedAt              time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time    `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a Account) HasSystematicWithdrawal() bool {
	return a.SystematicWithdrawal != nil && *a.SystematicWithdrawal > 0
}

// MissingAllocation reports whether every allocation bucket is unset or zero.
func (a Account) MissingAllocation() bool {
	for _, bucket := range []*float64{
		a.AllocationStocks,
		a.AllocationBonds,
		a.AllocationCash,
		a.AllocationAlternatives,
	} {
		if bucket != nil && *bucket != 0 {
			return false
		}
	}
	return true
}
