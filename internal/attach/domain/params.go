package domain

import (
	"errors"

	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrCustomerNotFound    = errors.New("customer_not_found")
	ErrInvalidProductSet   = errors.New("invalid_product_set")
	ErrCustomerBusy        = errors.New("customer_busy")
)

// ProductRequest is one product the caller wants attached, with the
// quantities chosen for its prepaid prices and any custom items.
type ProductRequest struct {
	ProductID snowflake.ID `json:"product_id"`
	// Options maps feature key to the prepaid quantity the customer
	// chose.
	Options              map[string]int64                     `json:"options,omitempty"`
	PriceOverrides       []catalogdomain.PriceOverride        `json:"price_overrides,omitempty"`
	EntitlementOverrides []catalogdomain.EntitlementOverride  `json:"entitlement_overrides,omitempty"`
}

type AttachOptions struct {
	// ForceCheckout always routes through a hosted checkout session,
	// even with a stored payment method.
	ForceCheckout bool `json:"force_checkout"`
	// InvoiceOnly bills by direct invoice and never opens checkout.
	InvoiceOnly bool   `json:"invoice_only"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

type AttachParams struct {
	CustomerID snowflake.ID     `json:"customer_id"`
	Products   []ProductRequest `json:"products"`
	Options    AttachOptions    `json:"options"`
}

// AttachResult is the single produced interface: either a checkout
// redirect or a synchronously applied plan.
type AttachResult struct {
	// CheckoutURL is set when the customer must complete checkout
	// out-of-band; no other mutation happened.
	CheckoutURL string `json:"checkout_url,omitempty"`
	// Applied reports that the plan executed synchronously.
	Applied bool `json:"applied"`
	// CustomerProductIDs are the ledger rows created by this call.
	CustomerProductIDs []snowflake.ID `json:"customer_product_ids,omitempty"`
	InvoiceID          string         `json:"invoice_id,omitempty"`
	SubscriptionID     string         `json:"subscription_id,omitempty"`
	// Uncanceled is set when the request reduced to an uncancel.
	Uncanceled bool `json:"uncanceled,omitempty"`
}
