package domain

import (
	"time"

	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
)

// Action families are closed sums: every consumption site switches on
// the concrete variants and fails loudly on anything else, so a new
// variant cannot slip through unhandled.

// OngoingAction is the lifecycle move applied to an existing ongoing
// CustomerProduct in the same group.
type OngoingAction interface{ isOngoingAction() }

// ExpireOngoing ends the product immediately, replaced by the new one.
type ExpireOngoing struct {
	Target *cusproductdomain.FullCusProduct
}

// CancelOngoing schedules the product to end at period close.
type CancelOngoing struct {
	Target *cusproductdomain.FullCusProduct
}

// UncancelOngoing clears a pending cancellation on the product.
type UncancelOngoing struct {
	Target *cusproductdomain.FullCusProduct
}

func (ExpireOngoing) isOngoingAction()   {}
func (CancelOngoing) isOngoingAction()   {}
func (UncancelOngoing) isOngoingAction() {}

// ScheduledAction acts on a previously scheduled CustomerProduct.
type ScheduledAction interface{ isScheduledAction() }

// DeleteScheduled removes a scheduled main product displaced by this
// request.
type DeleteScheduled struct {
	Target *cusproductdomain.FullCusProduct
}

func (DeleteScheduled) isScheduledAction() {}

type NewProductTiming string

const (
	TimingImmediate NewProductTiming = "immediate"
	TimingScheduled NewProductTiming = "scheduled"
)

// NewProductAction instantiates one requested product.
type NewProductAction struct {
	Spec    catalogdomain.ProductSpec
	Timing  NewProductTiming
	Options map[string]int64
	// Trial is the eligible free trial, nil when none applies.
	Trial *catalogdomain.FreeTrial
	// StartsAt is period end for scheduled products, now otherwise.
	StartsAt time.Time
}

// Plan is the resolver's output, consumed by the executor.
type Plan struct {
	// Ongoing is nil when no existing product is affected.
	Ongoing OngoingAction
	// Scheduled is nil when no scheduled product is displaced.
	Scheduled   ScheduledAction
	NewProducts []NewProductAction
}

// SubAction is the processor subscription move the executor applies.
type SubAction interface{ isSubAction() }

type CreateSub struct {
	Items    []processordomain.SubscriptionItem
	TrialEnd *time.Time
}

type UpdateSub struct {
	SubscriptionID string
	Changes        []processordomain.ItemChange
}

type CancelSubImmediately struct {
	SubscriptionID string
}

type CancelSubAtPeriodEnd struct {
	SubscriptionID string
}

// ReleaseSubCancellation clears cancel-at-period-end during uncancel.
type ReleaseSubCancellation struct {
	SubscriptionID string
}

type NoSubAction struct{}

func (CreateSub) isSubAction()              {}
func (UpdateSub) isSubAction()              {}
func (CancelSubImmediately) isSubAction()   {}
func (CancelSubAtPeriodEnd) isSubAction()   {}
func (ReleaseSubCancellation) isSubAction() {}
func (NoSubAction) isSubAction()            {}
