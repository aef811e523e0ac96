package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidOrganization     = errors.New("invalid_organization")
	ErrCustomerProductNotFound = errors.New("customer_product_not_found")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
)

const (
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusScheduled = "scheduled"
	StatusExpired   = "expired"
	StatusCanceled  = "canceled"
)

// CustomerProduct is a customer's instantiation of a catalog product.
type CustomerProduct struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"org_id" gorm:"not null;index"`
	CustomerID snowflake.ID `json:"customer_id" gorm:"not null;index"`
	ProductID  snowflake.ID `json:"product_id" gorm:"not null;index"`
	Status     string       `json:"status" gorm:"type:text;not null"`
	Group      string       `json:"group" gorm:"column:product_group;type:text;not null;default:''"`
	IsAddOn    bool         `json:"is_add_on" gorm:"not null;default:false"`
	// Processor-side resources this row mirrors. Always written after
	// the processor call that created them succeeded.
	ProcessorSubscriptionID string `json:"processor_subscription_id" gorm:"type:text"`
	ProcessorScheduleID     string `json:"processor_schedule_id" gorm:"type:text"`
	StartsAt                time.Time  `json:"starts_at" gorm:"not null"`
	CanceledAt              *time.Time `json:"canceled_at"`
	EndedAt                 *time.Time `json:"ended_at"`
	TrialEndsAt             *time.Time `json:"trial_ends_at"`
	// Options maps feature key to the quantity the customer chose for
	// prepaid prices.
	Options   datatypes.JSONMap `json:"options"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null"`
}

func (CustomerProduct) TableName() string { return "customer_products" }

// IsOngoing reports whether the row currently entitles the customer:
// active or past-due, including canceled-at-period-end rows that have
// not ended yet.
func (cp CustomerProduct) IsOngoing() bool {
	return cp.Status == StatusActive || cp.Status == StatusPastDue
}

func (cp CustomerProduct) IsMain() bool { return !cp.IsAddOn }

// CustomerEntitlement tracks one feature's usage allowance for one
// CustomerProduct. Accounting invariant:
// usage = startingAllowance + adjustment - balance.
type CustomerEntitlement struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID             snowflake.ID `json:"org_id" gorm:"not null;index"`
	CustomerID        snowflake.ID `json:"customer_id" gorm:"not null;index"`
	CustomerProductID snowflake.ID `json:"customer_product_id" gorm:"not null;index"`
	EntitlementID     snowflake.ID `json:"entitlement_id" gorm:"not null"`
	FeatureID         snowflake.ID `json:"feature_id" gorm:"not null"`
	Balance           int64        `json:"balance" gorm:"not null;default:0"`
	AdditionalBalance int64        `json:"additional_balance" gorm:"not null;default:0"`
	Adjustment        int64        `json:"adjustment" gorm:"not null;default:0"`
	// EntityBalances holds per-entity balances for entity-scoped
	// features, keyed by entity id.
	EntityBalances datatypes.JSONMap `json:"entity_balances"`
	NextResetAt    *time.Time        `json:"next_reset_at"`
	Unlimited      bool              `json:"unlimited" gorm:"not null;default:false"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null"`
}

func (CustomerEntitlement) TableName() string { return "customer_entitlements" }

// CustomerPrice links a CustomerProduct to one of its catalog prices,
// capturing any per-customer amount override at attach time.
type CustomerPrice struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID             snowflake.ID `json:"org_id" gorm:"not null;index"`
	CustomerID        snowflake.ID `json:"customer_id" gorm:"not null;index"`
	CustomerProductID snowflake.ID `json:"customer_product_id" gorm:"not null;index"`
	PriceID           snowflake.ID `json:"price_id" gorm:"not null"`
	AmountCents       int64        `json:"amount_cents" gorm:"not null"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (CustomerPrice) TableName() string { return "customer_prices" }

// Rollover is unused balance carried from a prior period. Rollovers are
// consumed before the current-period balance and expire on their own
// schedule.
type Rollover struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID                 snowflake.ID `json:"org_id" gorm:"not null;index"`
	CustomerEntitlementID snowflake.ID `json:"customer_entitlement_id" gorm:"not null;index"`
	Balance               int64        `json:"balance" gorm:"not null"`
	ExpiresAt             *time.Time   `json:"expires_at"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null"`
}

func (Rollover) TableName() string { return "rollovers" }

// Replaceable reserves one overage unit against a prepaid entitlement.
// The processor-billed quantity must always equal the prepaid quantity
// plus live replaceable slots.
type Replaceable struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID                 snowflake.ID `json:"org_id" gorm:"not null;index"`
	CustomerEntitlementID snowflake.ID `json:"customer_entitlement_id" gorm:"not null;index"`
	DeletedAt             *time.Time   `json:"deleted_at" gorm:"index"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null"`
}

func (Replaceable) TableName() string { return "replaceables" }

// FullCusProduct is the nested aggregate the billing pipeline reads.
type FullCusProduct struct {
	CustomerProduct
	Entitlements []FullCusEntitlement `json:"entitlements" gorm:"-"`
	Prices       []CustomerPrice      `json:"prices" gorm:"-"`
}

// FullCusEntitlement is a CustomerEntitlement with its rollovers and
// live replaceable slots attached.
type FullCusEntitlement struct {
	CustomerEntitlement
	Rollovers    []Rollover    `json:"rollovers" gorm:"-"`
	Replaceables []Replaceable `json:"replaceables" gorm:"-"`
}

// UnusedRollover sums the remaining rollover balance.
func (e FullCusEntitlement) UnusedRollover() int64 {
	var total int64
	for _, r := range e.Rollovers {
		total += r.Balance
	}
	return total
}

// isTransitionAllowed gates CustomerProduct status changes.
func isTransitionAllowed(from, to string) bool {
	switch from {
	case StatusActive:
		return to == StatusPastDue || to == StatusExpired || to == StatusCanceled
	case StatusPastDue:
		return to == StatusActive || to == StatusExpired || to == StatusCanceled
	case StatusScheduled:
		return to == StatusActive || to == StatusExpired
	case StatusCanceled:
		// Uncancel restores the product before its period lapses.
		return to == StatusActive || to == StatusExpired
	case StatusExpired:
		return false
	}
	return false
}

// ValidateTransition returns ErrInvalidStatusTransition unless from→to
// is an allowed lifecycle move.
func ValidateTransition(from, to string) error {
	if from == to {
		return nil
	}
	if !isTransitionAllowed(from, to) {
		return ErrInvalidStatusTransition
	}
	return nil
}
