package service

import (
	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
)

type CheckoutDecision string

const (
	DecisionCheckout   CheckoutDecision = "checkout"
	DecisionNoCheckout CheckoutDecision = "no_checkout"
)

// DecisionInput flattens everything the checkout decision depends on.
type DecisionInput struct {
	ForceCheckout    bool
	InvoiceOnly      bool
	HasPaymentMethod bool
	AllProductsFree  bool
	HasPaidOngoing   bool
}

// DecideCheckout is the ordered decision table; first match wins, and
// every input maps to exactly one outcome.
func DecideCheckout(in DecisionInput) CheckoutDecision {
	switch {
	case in.ForceCheckout:
		return DecisionCheckout
	case in.InvoiceOnly:
		return DecisionNoCheckout
	case in.HasPaymentMethod:
		return DecisionNoCheckout
	case in.AllProductsFree:
		return DecisionNoCheckout
	case in.HasPaidOngoing:
		return DecisionNoCheckout
	default:
		return DecisionCheckout
	}
}

// decisionInputFor projects an attach context and plan onto the table.
func decisionInputFor(actx *attachdomain.AttachContext, plan *attachdomain.Plan) DecisionInput {
	return DecisionInput{
		ForceCheckout:    actx.Params.Options.ForceCheckout,
		InvoiceOnly:      actx.Params.Options.InvoiceOnly,
		HasPaymentMethod: actx.HasPaymentMethod(),
		AllProductsFree:  allProductsFree(plan.NewProducts),
		HasPaidOngoing:   hasPaidOngoing(actx),
	}
}

func allProductsFree(actions []attachdomain.NewProductAction) bool {
	for _, action := range actions {
		for _, price := range action.Spec.Prices {
			if price.AmountCents > 0 {
				return false
			}
		}
	}
	return true
}

func hasPaidOngoing(actx *attachdomain.AttachContext) bool {
	for i := range actx.CusProducts {
		cp := &actx.CusProducts[i]
		if !cp.IsOngoing() {
			continue
		}
		for _, cusPrice := range cp.Prices {
			price, ok := actx.PricesByID[cusPrice.PriceID]
			if ok && price.AmountCents > 0 && !price.IsOneOff() {
				return true
			}
			if !ok && cusPrice.AmountCents > 0 {
				return true
			}
		}
	}
	return false
}
