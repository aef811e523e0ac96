package domain

import "context"

type Service interface {
	// Attach computes and executes the billing plan for the requested
	// products. At most one Attach runs per customer at a time;
	// concurrent calls fail with ErrCustomerBusy.
	Attach(ctx context.Context, params AttachParams) (*AttachResult, error)
	// Preview computes the plan without executing it.
	Preview(ctx context.Context, params AttachParams) (*PlanPreview, error)
}

// PlanPreview describes what Attach would do, without side effects.
type PlanPreview struct {
	Timing        NewProductTiming `json:"timing"`
	Uncancel      bool             `json:"uncancel"`
	LineItems     []LineItem       `json:"line_items"`
	TotalCents    int64            `json:"total_cents"`
	Currency      string           `json:"currency"`
	WillCheckout  bool             `json:"will_checkout"`
	WillInvoice   bool             `json:"will_invoice"`
}
