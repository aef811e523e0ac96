package domain

import (
	"time"

	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/bwmarrin/snowflake"
)

// RequestedProduct pairs a resolved catalog spec with the request's
// per-product inputs and trial eligibility.
type RequestedProduct struct {
	Spec    catalogdomain.ProductSpec
	Options map[string]int64
	Trial   *catalogdomain.FreeTrial
}

// AttachContext is the immutable snapshot the pipeline computes over.
// The context fetcher builds it once; later stages never reload state.
type AttachContext struct {
	OrgID    snowflake.ID
	Now      time.Time
	Params   AttachParams
	Customer *customerdomain.Customer
	// CusProducts is every non-expired CustomerProduct of the customer,
	// loaded as full aggregates.
	CusProducts []cusproductdomain.FullCusProduct
	Requested   []RequestedProduct
	// ProcessorCustomer is nil until the customer first touches the
	// processor.
	ProcessorCustomer *processordomain.Customer
	// ProcessorSub is the live subscription mirrored by the ongoing
	// CustomerProducts, nil when none exists.
	ProcessorSub   *processordomain.Subscription
	PaymentMethods []processordomain.PaymentMethod
	// PricesByID indexes every catalog price referenced by the
	// customer's products or the requested specs.
	PricesByID map[snowflake.ID]catalogdomain.Price
	// FeaturesByID indexes the features those prices and entitlements
	// refer to, for option lookups by feature key.
	FeaturesByID map[snowflake.ID]catalogdomain.Feature
}

func (c *AttachContext) HasPaymentMethod() bool {
	return len(c.PaymentMethods) > 0
}

// BillingAnchor returns the current processor billing period, or ok
// false when no subscription exists yet.
func (c *AttachContext) BillingAnchor() (start, end time.Time, ok bool) {
	if c.ProcessorSub == nil || c.ProcessorSub.CurrentPeriodEnd.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return c.ProcessorSub.CurrentPeriodStart, c.ProcessorSub.CurrentPeriodEnd, true
}

// OngoingMainInGroup returns the customer's ongoing main product in
// the group, nil when none.
func (c *AttachContext) OngoingMainInGroup(group string) *cusproductdomain.FullCusProduct {
	for i := range c.CusProducts {
		cp := &c.CusProducts[i]
		if cp.IsMain() && cp.Group == group && cp.IsOngoing() {
			return cp
		}
	}
	return nil
}

// ScheduledMainInGroup returns the scheduled main product in the
// group, nil when none. At most one may exist.
func (c *AttachContext) ScheduledMainInGroup(group string) *cusproductdomain.FullCusProduct {
	for i := range c.CusProducts {
		cp := &c.CusProducts[i]
		if cp.IsMain() && cp.Group == group && cp.Status == cusproductdomain.StatusScheduled {
			return cp
		}
	}
	return nil
}

// CanceledProduct returns the customer's canceled CustomerProduct for
// the exact product id, nil when none. A cancel-at-period-end row
// stays ongoing with only canceled_at set, so that marker is what
// defines canceled here, alongside rows already moved to the
// canceled status.
func (c *AttachContext) CanceledProduct(productID snowflake.ID) *cusproductdomain.FullCusProduct {
	for i := range c.CusProducts {
		cp := &c.CusProducts[i]
		if cp.ProductID != productID {
			continue
		}
		if cp.Status == cusproductdomain.StatusCanceled {
			return cp
		}
		if cp.IsOngoing() && cp.CanceledAt != nil {
			return cp
		}
	}
	return nil
}

// RemainingPriceRefs counts, per processor price id, how many ongoing
// customer products still reference it after the given ones are
// removed. The reconciler uses it to keep shared prices alive.
func (c *AttachContext) RemainingPriceRefs(removed map[snowflake.ID]bool) map[string]int {
	refs := map[string]int{}
	for i := range c.CusProducts {
		cp := &c.CusProducts[i]
		if removed[cp.ID] || !cp.IsOngoing() {
			continue
		}
		for _, price := range cp.Prices {
			catalogPrice, ok := c.PricesByID[price.PriceID]
			if !ok || catalogPrice.ProcessorPriceID == "" {
				continue
			}
			refs[catalogPrice.ProcessorPriceID]++
		}
	}
	return refs
}
