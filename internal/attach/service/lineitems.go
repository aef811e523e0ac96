package service

import (
	"fmt"
	"time"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/shopspring/decimal"
)

// prorate scales an amount by the remaining fraction of the period.
func prorate(amountCents int64, periodStart, periodEnd, now time.Time) int64 {
	total := periodEnd.Sub(periodStart)
	if total <= 0 {
		return amountCents
	}
	remaining := periodEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining > total {
		remaining = total
	}
	fraction := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(total)))
	return decimal.NewFromInt(amountCents).Mul(fraction).Round(0).IntPart()
}

// ComputeLineItems produces the charge/refund projection for the plan:
// refunds for unused time on products being removed plus their
// unbilled overage, and charges for the remaining period on products
// being added. Without a billing anchor nothing is prorated and new
// products bill a full period from now.
func ComputeLineItems(actx *attachdomain.AttachContext, plan *attachdomain.Plan) []attachdomain.LineItem {
	var items []attachdomain.LineItem

	anchorStart, anchorEnd, hasAnchor := actx.BillingAnchor()

	switch ongoing := plan.Ongoing.(type) {
	case attachdomain.ExpireOngoing:
		items = append(items, removalLineItems(actx, ongoing.Target, anchorStart, anchorEnd, hasAnchor)...)
	case attachdomain.CancelOngoing, attachdomain.UncancelOngoing, nil:
		// Cancellation keeps the paid period; uncancel restores it.
		// Neither moves money now.
	}

	for _, action := range plan.NewProducts {
		if action.Timing != attachdomain.TimingImmediate {
			// Scheduled products bill when their period starts.
			continue
		}
		if action.Trial != nil {
			// Trialing products bill at trial end, not now.
			continue
		}
		items = append(items, additionLineItems(actx, action, anchorStart, anchorEnd, hasAnchor)...)
	}
	return items
}

func removalLineItems(actx *attachdomain.AttachContext, target *cusproductdomain.FullCusProduct, anchorStart, anchorEnd time.Time, hasAnchor bool) []attachdomain.LineItem {
	var items []attachdomain.LineItem

	for _, cusPrice := range target.Prices {
		price, ok := actx.PricesByID[cusPrice.PriceID]
		if !ok || price.IsOneOff() {
			// One-off purchases are never refunded by proration.
			continue
		}
		if price.IsMetered() {
			continue
		}
		amount := cusPrice.AmountCents
		if hasAnchor {
			amount = prorate(amount, anchorStart, anchorEnd, actx.Now)
		}
		if amount <= 0 {
			continue
		}
		items = append(items, attachdomain.LineItem{
			Direction:        attachdomain.DirectionRefund,
			Description:      fmt.Sprintf("Unused time: %s", priceDescription(actx, price)),
			AmountCents:      amount,
			PeriodStart:      actx.Now,
			PeriodEnd:        anchorEnd,
			ProcessorPriceID: price.ProcessorPriceID,
		})
	}

	// Unbilled arrears: overage reserved against prepaid entitlements
	// is billed on the way out, bounded by the current period.
	for _, ent := range target.Entitlements {
		if ent.Balance >= 0 {
			continue
		}
		price, ok := relatedPrice(actx, target, ent.CustomerEntitlement)
		if !ok || price.UsageModel == catalogdomain.UsageModelLicensed {
			continue
		}
		overageUnits := -ent.Balance
		amount := unitAmount(price, overageUnits)
		if amount <= 0 {
			continue
		}
		periodStart := anchorStart
		if !hasAnchor {
			periodStart = actx.Now
		}
		items = append(items, attachdomain.LineItem{
			Direction:   attachdomain.DirectionCharge,
			Description: fmt.Sprintf("Usage overage: %s", priceDescription(actx, price)),
			AmountCents: amount,
			PeriodStart: periodStart,
			PeriodEnd:   actx.Now,
		})
	}
	return items
}

func additionLineItems(actx *attachdomain.AttachContext, action attachdomain.NewProductAction, anchorStart, anchorEnd time.Time, hasAnchor bool) []attachdomain.LineItem {
	var items []attachdomain.LineItem

	for _, price := range action.Spec.Prices {
		if price.IsMetered() {
			continue
		}
		quantity := quantityFor(actx, action, price)
		base := price.AmountCents * quantity

		if price.IsOneOff() {
			// Billed in full, never prorated.
			items = append(items, attachdomain.LineItem{
				Direction:        attachdomain.DirectionCharge,
				Description:      priceDescription(actx, price),
				AmountCents:      base,
				PeriodStart:      actx.Now,
				PeriodEnd:        actx.Now,
				ProcessorPriceID: price.ProcessorPriceID,
			})
			continue
		}

		amount := base
		periodEnd := periodEndFromNow(actx.Now, price.Interval)
		if hasAnchor {
			amount = prorate(base, anchorStart, anchorEnd, actx.Now)
			periodEnd = anchorEnd
		}
		if amount <= 0 {
			continue
		}
		items = append(items, attachdomain.LineItem{
			Direction:        attachdomain.DirectionCharge,
			Description:      priceDescription(actx, price),
			AmountCents:      amount,
			PeriodStart:      actx.Now,
			PeriodEnd:        periodEnd,
			ProcessorPriceID: price.ProcessorPriceID,
		})
	}
	return items
}

// quantityFor resolves the pack quantity the customer chose for a
// per-unit price, defaulting to 1.
func quantityFor(actx *attachdomain.AttachContext, action attachdomain.NewProductAction, price catalogdomain.Price) int64 {
	if price.BillingScheme != catalogdomain.BillingSchemePerUnit || price.FeatureID == 0 {
		return 1
	}
	feature, ok := actx.FeaturesByID[price.FeatureID]
	if !ok {
		return 1
	}
	if qty, ok := action.Options[feature.Key]; ok && qty > 0 {
		return qty
	}
	return 1
}

// unitAmount prices a unit count against a per-unit price, rounding
// partial packs up.
func unitAmount(price catalogdomain.Price, units int64) int64 {
	packSize := price.BillingUnits
	if packSize <= 0 {
		packSize = 1
	}
	packs := decimal.NewFromInt(units).Div(decimal.NewFromInt(packSize)).Ceil()
	return packs.Mul(decimal.NewFromInt(price.AmountCents)).IntPart()
}

func periodEndFromNow(now time.Time, interval string) time.Time {
	switch interval {
	case catalogdomain.IntervalYear:
		return now.AddDate(1, 0, 0)
	default:
		return now.AddDate(0, 1, 0)
	}
}

func relatedPrice(actx *attachdomain.AttachContext, target *cusproductdomain.FullCusProduct, ent cusproductdomain.CustomerEntitlement) (catalogdomain.Price, bool) {
	for _, cusPrice := range target.Prices {
		price, ok := actx.PricesByID[cusPrice.PriceID]
		if ok && price.FeatureID == ent.FeatureID {
			return price, true
		}
	}
	return catalogdomain.Price{}, false
}

func priceDescription(actx *attachdomain.AttachContext, price catalogdomain.Price) string {
	if price.FeatureID != 0 {
		if feature, ok := actx.FeaturesByID[price.FeatureID]; ok {
			return feature.Name
		}
	}
	return fmt.Sprintf("price %s", price.ID.String())
}
