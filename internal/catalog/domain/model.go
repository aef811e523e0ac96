package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrProductNotFound     = errors.New("product_not_found")
	ErrPriceNotFound       = errors.New("price_not_found")
	ErrFeatureNotFound     = errors.New("feature_not_found")
	ErrMixedCurrencies     = errors.New("mixed_currencies")
)

const (
	FeatureKindBoolean = "boolean"
	FeatureKindMetered = "metered"
	FeatureKindCredit  = "credit"
)

type Feature struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"org_id" gorm:"not null;index"`
	Key       string       `json:"key" gorm:"type:text;not null"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Kind      string       `json:"kind" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Feature) TableName() string { return "features" }

type Product struct {
	ID    snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID snowflake.ID `json:"org_id" gorm:"not null;index"`
	Key   string       `json:"key" gorm:"type:text;not null"`
	Name  string       `json:"name" gorm:"type:text;not null"`
	// Group is a mutually-exclusive product family. At most one
	// non-add-on product per group may be active for a customer.
	Group       string       `json:"group" gorm:"column:product_group;type:text;not null;default:''"`
	IsAddOn     bool         `json:"is_add_on" gorm:"not null;default:false"`
	IsDefault   bool         `json:"is_default" gorm:"not null;default:false"`
	Version     int          `json:"version" gorm:"not null;default:1"`
	FreeTrialID snowflake.ID `json:"free_trial_id" gorm:"default:0"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

const (
	BillingSchemeFlat    = "flat"
	BillingSchemePerUnit = "per_unit"
	BillingSchemeTiered  = "tiered"

	UsageModelLicensed  = "licensed"
	UsageModelPrepaid   = "prepaid"
	UsageModelPayPerUse = "pay_per_use"

	IntervalOneOff = "one_off"
	IntervalMonth  = "month"
	IntervalYear   = "year"
)

type Price struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"org_id" gorm:"not null;index"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	// FeatureID is zero for flat product prices.
	FeatureID     snowflake.ID `json:"feature_id" gorm:"default:0"`
	BillingScheme string       `json:"billing_scheme" gorm:"type:text;not null"`
	UsageModel    string       `json:"usage_model" gorm:"type:text;not null"`
	Interval      string       `json:"interval" gorm:"column:billing_interval;type:text;not null"`
	AmountCents   int64        `json:"amount_cents" gorm:"not null"`
	Currency      string       `json:"currency" gorm:"type:text;not null"`
	// BillingUnits is the pack size for per-unit prices (price is per
	// BillingUnits units). Zero means 1.
	BillingUnits int64 `json:"billing_units" gorm:"default:1"`
	// IsConsumable marks a pooled processor price shared by multiple
	// customer products (e.g. a shared metered price).
	IsConsumable     bool      `json:"is_consumable" gorm:"not null;default:false"`
	ProcessorPriceID string    `json:"processor_price_id" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"not null"`
}

func (Price) TableName() string { return "prices" }

// IsOneOff reports whether the price bills once, outside any cycle.
// One-off prices are never prorated.
func (p Price) IsOneOff() bool { return p.Interval == IntervalOneOff }

// IsMetered reports whether the processor tracks usage for this price,
// in which case subscription items carry no quantity.
func (p Price) IsMetered() bool { return p.UsageModel == UsageModelPayPerUse }

const (
	AllowanceTypeFixed     = "fixed"
	AllowanceTypeUnlimited = "unlimited"
	AllowanceTypeNone      = "none"
)

type Entitlement struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID `json:"org_id" gorm:"not null;index"`
	ProductID     snowflake.ID `json:"product_id" gorm:"not null;index"`
	FeatureID     snowflake.ID `json:"feature_id" gorm:"not null"`
	Allowance     int64        `json:"allowance" gorm:"not null;default:0"`
	AllowanceType string       `json:"allowance_type" gorm:"type:text;not null"`
	Interval      string       `json:"interval" gorm:"column:reset_interval;type:text;not null"`
	// CarryOver rolls unused balance into the next period, capped by
	// RolloverMax (0 means uncapped).
	CarryOver    bool      `json:"carry_over" gorm:"not null;default:false"`
	RolloverMax  int64     `json:"rollover_max" gorm:"default:0"`
	EntityScoped bool      `json:"entity_scoped" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}

func (Entitlement) TableName() string { return "entitlements" }

const (
	TrialUnitDay   = "day"
	TrialUnitMonth = "month"
)

type FreeTrial struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"org_id" gorm:"not null;index"`
	ProductID snowflake.ID `json:"product_id" gorm:"not null;index"`
	Length    int          `json:"length" gorm:"not null"`
	Unit      string       `json:"unit" gorm:"type:text;not null"`
	// UniqueFingerprint limits the trial to once per customer fingerprint.
	UniqueFingerprint bool      `json:"unique_fingerprint" gorm:"not null;default:true"`
	CardRequired      bool      `json:"card_required" gorm:"not null;default:false"`
	CreatedAt         time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"not null"`
}

func (FreeTrial) TableName() string { return "free_trials" }

// End computes when a trial started at the given instant runs out.
func (t FreeTrial) End(start time.Time) time.Time {
	if t.Unit == TrialUnitMonth {
		return start.AddDate(0, t.Length, 0)
	}
	return start.AddDate(0, 0, t.Length)
}
