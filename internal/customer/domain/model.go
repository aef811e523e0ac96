package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrCustomerNotFound    = errors.New("customer_not_found")
)

type Customer struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"org_id" gorm:"not null;index"`
	ExternalID string       `json:"external_id" gorm:"type:text;not null;index"`
	Name       string       `json:"name" gorm:"type:text"`
	Email      string       `json:"email" gorm:"type:text"`
	// Fingerprint dedups customers across accounts for free-trial abuse
	// checks. Empty means no fingerprint was captured.
	Fingerprint string `json:"fingerprint" gorm:"type:text;index"`
	// EntityID scopes the customer to a sub-account when set.
	EntityID string `json:"entity_id" gorm:"type:text"`
	// ProcessorCustomerID is set the first time the executor touches the
	// payment processor for this customer.
	ProcessorCustomerID string    `json:"processor_customer_id" gorm:"type:text"`
	CreatedAt           time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }
