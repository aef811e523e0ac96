package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// ProductSpec is the fully-resolved catalog view of one product: the
// product row plus its prices, entitlements and optional free trial,
// with any per-customer overrides already applied.
type ProductSpec struct {
	Product      Product
	Prices       []Price
	Entitlements []Entitlement
	FreeTrial    *FreeTrial
}

// PriceOverride replaces a catalog price's amount for one customer.
type PriceOverride struct {
	PriceID     snowflake.ID
	AmountCents int64
}

// EntitlementOverride replaces a catalog entitlement's allowance for
// one customer.
type EntitlementOverride struct {
	EntitlementID snowflake.ID
	Allowance     int64
}

type ResolveRequest struct {
	ProductID            snowflake.ID
	PriceOverrides       []PriceOverride
	EntitlementOverrides []EntitlementOverride
}

type Service interface {
	// Resolve loads the ProductSpec for each request, applying
	// overrides. Fails with ErrProductNotFound on an unknown id and
	// ErrMixedCurrencies when the specs do not share one currency.
	Resolve(ctx context.Context, reqs []ResolveRequest) ([]ProductSpec, error)
}
