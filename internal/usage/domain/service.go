package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrCustomerNotFound    = errors.New("customer_not_found")
	ErrFeatureNotFound     = errors.New("feature_not_found")
	ErrFeatureNotEntitled  = errors.New("feature_not_entitled")
)

// TrackParams reports consumed units against a customer's entitlements
// for one feature. A negative delta releases units.
type TrackParams struct {
	CustomerID snowflake.ID `json:"customer_id"`
	FeatureKey string       `json:"feature_key"`
	Delta      int64        `json:"delta"`
}

// EntitlementChange is the per-entitlement effect of one Track call.
type EntitlementChange struct {
	CustomerEntitlementID snowflake.ID `json:"customer_entitlement_id"`
	OldBalance            int64        `json:"old_balance"`
	NewBalance            int64        `json:"new_balance"`
	CreatedReplaceables   int          `json:"created_replaceables"`
	DeletedReplaceables   int          `json:"deleted_replaceables"`
}

type TrackResult struct {
	Changes []EntitlementChange `json:"changes"`
	// Unlimited is set when an unlimited entitlement absorbed the
	// delta and no balance moved.
	Unlimited bool `json:"unlimited"`
}

type Service interface {
	// Track applies a usage delta to the customer's entitlements for
	// the feature, spilling overage into replaceable slots on the last
	// prepaid entitlement. Partial failures are rolled back.
	Track(ctx context.Context, params TrackParams) (*TrackResult, error)
}
