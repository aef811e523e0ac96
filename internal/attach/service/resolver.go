package service

import (
	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
)

// ResolveActions classifies the requested change into customer-product
// lifecycle transitions. Pure function of the attach context.
//
// Rules, in order: an uncancel short-circuits everything else; a new
// main product is scheduled for period end when an active same-group
// product's period has not elapsed, immediate otherwise; a scheduled
// replacement cancels the existing ongoing product at period end; an
// immediate replacement expires it; either way any previously
// scheduled main in the group is displaced. Add-ons never displace
// anything.
func ResolveActions(actx *attachdomain.AttachContext) (*attachdomain.Plan, error) {
	if len(actx.Requested) == 0 {
		return nil, attachdomain.ErrInvalidProductSet
	}

	// Uncancel short-circuit: re-attaching a canceled product reduces
	// the whole request to restoring it.
	for i := range actx.Requested {
		rp := &actx.Requested[i]
		canceled := actx.CanceledProduct(rp.Spec.Product.ID)
		if canceled == nil {
			continue
		}
		plan := &attachdomain.Plan{
			Ongoing: attachdomain.UncancelOngoing{Target: canceled},
		}
		if canceled.IsMain() {
			if sched := actx.ScheduledMainInGroup(canceled.Group); sched != nil {
				plan.Scheduled = attachdomain.DeleteScheduled{Target: sched}
			}
		}
		return plan, nil
	}

	plan := &attachdomain.Plan{}
	seenGroups := map[string]bool{}

	for i := range actx.Requested {
		rp := &actx.Requested[i]
		product := rp.Spec.Product

		if product.IsAddOn {
			plan.NewProducts = append(plan.NewProducts, attachdomain.NewProductAction{
				Spec:     rp.Spec,
				Timing:   attachdomain.TimingImmediate,
				Options:  rp.Options,
				Trial:    rp.Trial,
				StartsAt: actx.Now,
			})
			continue
		}

		// Two mains in one group within a single request is ambiguous.
		if seenGroups[product.Group] {
			return nil, attachdomain.ErrInvalidProductSet
		}
		seenGroups[product.Group] = true

		timing := attachdomain.TimingImmediate
		startsAt := actx.Now

		existing := actx.OngoingMainInGroup(product.Group)
		if existing != nil {
			if _, periodEnd, ok := actx.BillingAnchor(); ok && periodEnd.After(actx.Now) {
				// Scheduled replacement: the current product runs out
				// its paid period and cancels at period end, when the
				// new one takes over.
				timing = attachdomain.TimingScheduled
				startsAt = periodEnd
				if existing.CanceledAt == nil {
					plan.Ongoing = attachdomain.CancelOngoing{Target: existing}
				}
			} else {
				plan.Ongoing = attachdomain.ExpireOngoing{Target: existing}
			}
		}

		// At most one scheduled main per group may exist; a new attach
		// in the group displaces it regardless of timing.
		if sched := actx.ScheduledMainInGroup(product.Group); sched != nil {
			plan.Scheduled = attachdomain.DeleteScheduled{Target: sched}
		}

		plan.NewProducts = append(plan.NewProducts, attachdomain.NewProductAction{
			Spec:     rp.Spec,
			Timing:   timing,
			Options:  rp.Options,
			Trial:    rp.Trial,
			StartsAt: startsAt,
		})
	}
	return plan, nil
}
