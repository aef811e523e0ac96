package service

import (
	"context"
	"fmt"
	"time"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// execute applies a resolved plan: processor mutations first, ledger
// writes last, inside one transaction. When the decision routes
// through checkout, the function stops after creating the session and
// nothing else is mutated.
func (s *Service) execute(ctx context.Context, actx *attachdomain.AttachContext, plan *attachdomain.Plan, lineItems []attachdomain.LineItem, decision CheckoutDecision) (*attachdomain.AttachResult, error) {
	if err := s.ensureProcessorCustomer(ctx, actx); err != nil {
		return nil, err
	}

	if decision == DecisionCheckout {
		session, err := s.createCheckoutSession(ctx, actx, plan)
		if err != nil {
			return nil, err
		}
		return &attachdomain.AttachResult{CheckoutURL: session.URL}, nil
	}

	result := &attachdomain.AttachResult{Applied: true}

	subAction := s.planSubAction(actx, plan)
	subID, err := s.applySubAction(ctx, actx, subAction)
	if err != nil {
		return nil, err
	}
	result.SubscriptionID = subID

	if len(lineItems) > 0 {
		invoice, err := s.createInvoice(ctx, actx, lineItems, subID)
		if err != nil {
			return nil, err
		}
		result.InvoiceID = invoice.ID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.persistPlan(ctx, tx, actx, plan, subID, result)
	})
	if err != nil {
		return nil, fmt.Errorf("persist billing plan: %w", err)
	}

	s.log.Info("attach applied",
		zap.String("customer_id", actx.Customer.ID.String()),
		zap.Int("new_products", len(result.CustomerProductIDs)),
		zap.String("subscription_id", result.SubscriptionID),
		zap.String("invoice_id", result.InvoiceID),
		zap.Bool("uncanceled", result.Uncanceled),
	)
	return result, nil
}

// ensureProcessorCustomer creates the processor-side customer on first
// contact and persists the reference before anything depends on it.
func (s *Service) ensureProcessorCustomer(ctx context.Context, actx *attachdomain.AttachContext) error {
	if actx.ProcessorCustomer != nil {
		return nil
	}

	cust, err := s.processor.CreateCustomer(ctx, processordomain.CreateCustomerParams{
		Email: actx.Customer.Email,
		Name:  actx.Customer.Name,
		Metadata: map[string]string{
			"customer_id": actx.Customer.ID.String(),
			"org_id":      actx.OrgID.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("create processor customer: %w", err)
	}

	if err := s.customerRepo.UpdateProcessorCustomerID(ctx, s.db, actx.OrgID, actx.Customer.ID, cust.ID); err != nil {
		return fmt.Errorf("store processor customer id: %w", err)
	}
	actx.Customer.ProcessorCustomerID = cust.ID
	actx.ProcessorCustomer = cust
	return nil
}

// createCheckoutSession opens a hosted checkout for the plan's
// immediate products. A rejection for a missing payment method
// configuration is retried once with the configured default types.
func (s *Service) createCheckoutSession(ctx context.Context, actx *attachdomain.AttachContext, plan *attachdomain.Plan) (*processordomain.CheckoutSession, error) {
	params := processordomain.CreateCheckoutParams{
		CustomerID: actx.ProcessorCustomer.ID,
		SuccessURL: actx.Params.Options.SuccessURL,
		CancelURL:  actx.Params.Options.CancelURL,
		Metadata: map[string]string{
			"customer_id": actx.Customer.ID.String(),
			"org_id":      actx.OrgID.String(),
		},
	}

	hasRecurring := false
	for _, action := range plan.NewProducts {
		if action.Timing != attachdomain.TimingImmediate {
			continue
		}
		if action.Trial != nil {
			end := action.Trial.End(actx.Now)
			if params.TrialEnd == nil || end.Before(*params.TrialEnd) {
				params.TrialEnd = &end
			}
		}
		for _, price := range action.Spec.Prices {
			if price.ProcessorPriceID == "" {
				continue
			}
			item := processordomain.CheckoutItem{PriceID: price.ProcessorPriceID}
			if !price.IsMetered() {
				qty := quantityFor(actx, action, price)
				item.Quantity = &qty
			}
			if !price.IsOneOff() {
				hasRecurring = true
			}
			params.Items = append(params.Items, item)
		}
	}
	if len(params.Items) == 0 {
		return nil, attachdomain.ErrInvalidProductSet
	}
	// One-off-only product sets check out as a one-time payment; any
	// recurring price makes it a subscription checkout.
	params.Mode = processordomain.CheckoutModeSubscription
	if !hasRecurring {
		params.Mode = processordomain.CheckoutModePayment
	}

	session, err := s.processor.CreateCheckoutSession(ctx, params)
	if err == nil {
		return session, nil
	}
	if !processordomain.IsPaymentMethodConfigError(err) || len(s.defaultPMTypes) == 0 {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.log.Warn("checkout rejected for payment method configuration, retrying with defaults",
		zap.String("customer_id", actx.Customer.ID.String()),
		zap.Strings("payment_method_types", s.defaultPMTypes),
		zap.Error(err),
	)
	params.PaymentMethodTypes = s.defaultPMTypes
	session, err = s.processor.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return session, nil
}

// planSubAction maps the plan onto the single subscription move the
// processor needs, as a closed sum.
func (s *Service) planSubAction(actx *attachdomain.AttachContext, plan *attachdomain.Plan) attachdomain.SubAction {
	if uncancel, ok := plan.Ongoing.(attachdomain.UncancelOngoing); ok {
		if uncancel.Target.ProcessorSubscriptionID == "" {
			return attachdomain.NoSubAction{}
		}
		return attachdomain.ReleaseSubCancellation{
			SubscriptionID: uncancel.Target.ProcessorSubscriptionID,
		}
	}

	toAdd := s.itemSpecsForNewProducts(actx, plan)

	// A scheduled replacement leaves the current items untouched and
	// lets the subscription run out; immediate add-ons in the same
	// request still go through the reconcile path below.
	if cancel, ok := plan.Ongoing.(attachdomain.CancelOngoing); ok && len(toAdd) == 0 {
		if cancel.Target.ProcessorSubscriptionID == "" {
			return attachdomain.NoSubAction{}
		}
		return attachdomain.CancelSubAtPeriodEnd{
			SubscriptionID: cancel.Target.ProcessorSubscriptionID,
		}
	}

	var toRemove []ItemSpec
	removed := map[snowflake.ID]bool{}
	if expire, ok := plan.Ongoing.(attachdomain.ExpireOngoing); ok {
		toRemove = s.itemSpecsForRemoval(actx, expire.Target)
		removed[expire.Target.ID] = true
	}

	if actx.ProcessorSub != nil {
		changes := ReconcileItems(actx.ProcessorSub.Items, toAdd, toRemove, actx.RemainingPriceRefs(removed))
		if len(changes) == 0 {
			return attachdomain.NoSubAction{}
		}
		if deletesEverything(actx.ProcessorSub.Items, changes) {
			return attachdomain.CancelSubImmediately{SubscriptionID: actx.ProcessorSub.ID}
		}
		return attachdomain.UpdateSub{
			SubscriptionID: actx.ProcessorSub.ID,
			Changes:        changes,
		}
	}

	if len(toAdd) == 0 {
		return attachdomain.NoSubAction{}
	}
	items := make([]processordomain.SubscriptionItem, 0, len(toAdd))
	for _, spec := range toAdd {
		items = append(items, processordomain.SubscriptionItem{
			PriceID:  spec.ProcessorPriceID,
			Quantity: spec.Quantity,
		})
	}
	return attachdomain.CreateSub{
		Items:    items,
		TrialEnd: earliestTrialEnd(actx, plan),
	}
}

// applySubAction performs the processor call for the action and
// returns the subscription id the ledger should reference. The switch
// is exhaustive over the SubAction variants.
func (s *Service) applySubAction(ctx context.Context, actx *attachdomain.AttachContext, action attachdomain.SubAction) (string, error) {
	switch a := action.(type) {
	case attachdomain.NoSubAction:
		if actx.ProcessorSub != nil {
			return actx.ProcessorSub.ID, nil
		}
		return "", nil
	case attachdomain.CreateSub:
		sub, err := s.processor.CreateSubscription(ctx, processordomain.CreateSubscriptionParams{
			CustomerID: actx.ProcessorCustomer.ID,
			Items:      a.Items,
			TrialEnd:   a.TrialEnd,
			Metadata: map[string]string{
				"customer_id": actx.Customer.ID.String(),
				"org_id":      actx.OrgID.String(),
			},
		})
		if err != nil {
			return "", fmt.Errorf("create subscription: %w", err)
		}
		actx.ProcessorSub = sub
		return sub.ID, nil
	case attachdomain.UpdateSub:
		sub, err := s.processor.UpdateSubscriptionItems(ctx, a.SubscriptionID, a.Changes)
		if err != nil {
			return "", fmt.Errorf("update subscription items: %w", err)
		}
		actx.ProcessorSub = sub
		return sub.ID, nil
	case attachdomain.CancelSubImmediately:
		if err := s.processor.CancelSubscription(ctx, a.SubscriptionID, false); err != nil {
			return "", fmt.Errorf("cancel subscription: %w", err)
		}
		actx.ProcessorSub = nil
		return "", nil
	case attachdomain.CancelSubAtPeriodEnd:
		if err := s.processor.CancelSubscription(ctx, a.SubscriptionID, true); err != nil {
			return "", fmt.Errorf("cancel subscription at period end: %w", err)
		}
		return a.SubscriptionID, nil
	case attachdomain.ReleaseSubCancellation:
		if err := s.processor.ReleaseCancellation(ctx, a.SubscriptionID); err != nil {
			return "", fmt.Errorf("release cancellation: %w", err)
		}
		return a.SubscriptionID, nil
	default:
		return "", fmt.Errorf("unhandled subscription action %T", action)
	}
}

func (s *Service) createInvoice(ctx context.Context, actx *attachdomain.AttachContext, lineItems []attachdomain.LineItem, subID string) (*processordomain.Invoice, error) {
	lines := make([]processordomain.InvoiceLine, 0, len(lineItems))
	for _, li := range lineItems {
		lines = append(lines, processordomain.InvoiceLine{
			Description: li.Description,
			AmountCents: li.SignedAmount(),
			PeriodStart: li.PeriodStart,
			PeriodEnd:   li.PeriodEnd,
		})
	}

	invoice, err := s.processor.CreateInvoice(ctx, processordomain.CreateInvoiceParams{
		CustomerID:     actx.ProcessorCustomer.ID,
		SubscriptionID: subID,
		Currency:       currencyFor(actx),
		Lines:          lines,
		AutoCharge:     actx.HasPaymentMethod() && !actx.Params.Options.InvoiceOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return invoice, nil
}

// persistPlan writes the ledger side of the plan. Runs inside a
// transaction; processor calls already happened, so a failure here
// logs loudly at the caller rather than attempting processor undo.
func (s *Service) persistPlan(ctx context.Context, tx *gorm.DB, actx *attachdomain.AttachContext, plan *attachdomain.Plan, subID string, result *attachdomain.AttachResult) error {
	now := actx.Now

	if del, ok := plan.Scheduled.(attachdomain.DeleteScheduled); ok {
		if err := s.cusProductRepo.DeleteCustomerProduct(ctx, tx, actx.OrgID, del.Target.ID); err != nil {
			return fmt.Errorf("delete scheduled product: %w", err)
		}
	}

	var expired *cusproductdomain.FullCusProduct
	switch ongoing := plan.Ongoing.(type) {
	case attachdomain.ExpireOngoing:
		if err := cusproductdomain.ValidateTransition(ongoing.Target.Status, cusproductdomain.StatusExpired); err != nil {
			return err
		}
		if err := s.cusProductRepo.UpdateStatus(ctx, tx, actx.OrgID, ongoing.Target.ID, cusproductdomain.StatusExpired, now); err != nil {
			return fmt.Errorf("expire ongoing product: %w", err)
		}
		expired = ongoing.Target
	case attachdomain.CancelOngoing:
		if err := s.cusProductRepo.UpdateCanceledAt(ctx, tx, actx.OrgID, ongoing.Target.ID, &now, now); err != nil {
			return fmt.Errorf("cancel ongoing product: %w", err)
		}
	case attachdomain.UncancelOngoing:
		if err := cusproductdomain.ValidateTransition(ongoing.Target.Status, cusproductdomain.StatusActive); err != nil {
			return err
		}
		if err := s.cusProductRepo.UpdateCanceledAt(ctx, tx, actx.OrgID, ongoing.Target.ID, nil, now); err != nil {
			return fmt.Errorf("clear cancellation: %w", err)
		}
		if err := s.cusProductRepo.UpdateStatus(ctx, tx, actx.OrgID, ongoing.Target.ID, cusproductdomain.StatusActive, now); err != nil {
			return fmt.Errorf("restore canceled product: %w", err)
		}
		result.Uncanceled = true
	}

	for _, action := range plan.NewProducts {
		cpID, err := s.insertCustomerProduct(ctx, tx, actx, action, expired, subID, now)
		if err != nil {
			return err
		}
		result.CustomerProductIDs = append(result.CustomerProductIDs, cpID)
	}
	return nil
}

func (s *Service) insertCustomerProduct(ctx context.Context, tx *gorm.DB, actx *attachdomain.AttachContext, action attachdomain.NewProductAction, expired *cusproductdomain.FullCusProduct, subID string, now time.Time) (snowflake.ID, error) {
	status := cusproductdomain.StatusActive
	if action.Timing == attachdomain.TimingScheduled {
		status = cusproductdomain.StatusScheduled
	}

	cp := &cusproductdomain.CustomerProduct{
		ID:         s.genID.Generate(),
		OrgID:      actx.OrgID,
		CustomerID: actx.Customer.ID,
		ProductID:  action.Spec.Product.ID,
		Status:     status,
		Group:      action.Spec.Product.Group,
		IsAddOn:    action.Spec.Product.IsAddOn,
		StartsAt:   action.StartsAt,
		Options:    optionsMap(action.Options),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if status == cusproductdomain.StatusActive && hasRecurringProcessorPrice(action.Spec) {
		cp.ProcessorSubscriptionID = subID
	}
	if action.Trial != nil {
		end := action.Trial.End(actx.Now)
		cp.TrialEndsAt = &end
	}
	if err := s.cusProductRepo.InsertCustomerProduct(ctx, tx, cp); err != nil {
		return 0, fmt.Errorf("insert customer product: %w", err)
	}

	for _, ent := range action.Spec.Entitlements {
		if err := s.insertCustomerEntitlement(ctx, tx, actx, cp, ent, expired, now); err != nil {
			return 0, err
		}
	}

	for _, price := range action.Spec.Prices {
		cusPrice := &cusproductdomain.CustomerPrice{
			ID:                s.genID.Generate(),
			OrgID:             actx.OrgID,
			CustomerID:        actx.Customer.ID,
			CustomerProductID: cp.ID,
			PriceID:           price.ID,
			AmountCents:       price.AmountCents,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.cusProductRepo.InsertCustomerPrice(ctx, tx, cusPrice); err != nil {
			return 0, fmt.Errorf("insert customer price: %w", err)
		}
	}
	return cp.ID, nil
}

// insertCustomerEntitlement instantiates one catalog entitlement,
// carrying consumed usage over from a same-feature entitlement on the
// product being replaced so an upgrade cannot reset the meter.
func (s *Service) insertCustomerEntitlement(ctx context.Context, tx *gorm.DB, actx *attachdomain.AttachContext, cp *cusproductdomain.CustomerProduct, ent catalogdomain.Entitlement, expired *cusproductdomain.FullCusProduct, now time.Time) error {
	ce := &cusproductdomain.CustomerEntitlement{
		ID:                s.genID.Generate(),
		OrgID:             actx.OrgID,
		CustomerID:        actx.Customer.ID,
		CustomerProductID: cp.ID,
		EntitlementID:     ent.ID,
		FeatureID:         ent.FeatureID,
		Unlimited:         ent.AllowanceType == catalogdomain.AllowanceTypeUnlimited,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	allowance := ent.Allowance
	if qty := optionQuantityByFeature(actx, cp.Options, ent.FeatureID); qty > 0 {
		allowance = ent.Allowance * qty
	}
	ce.Balance = allowance

	var carried *cusproductdomain.FullCusEntitlement
	if expired != nil {
		carried = findEntitlementByFeature(expired, ent.FeatureID)
	}
	if carried != nil && !ce.Unlimited {
		usage, err := s.consumedUsage(ctx, tx, actx.OrgID, carried)
		if err != nil {
			return err
		}
		ce.Balance = allowance - usage
	}

	if ent.Interval == catalogdomain.IntervalMonth || ent.Interval == catalogdomain.IntervalYear {
		resetAt := periodEndFromNow(now, ent.Interval)
		if _, anchorEnd, ok := actx.BillingAnchor(); ok {
			resetAt = anchorEnd
		}
		ce.NextResetAt = &resetAt
	}

	if err := s.cusProductRepo.InsertCustomerEntitlement(ctx, tx, ce); err != nil {
		return fmt.Errorf("insert customer entitlement: %w", err)
	}

	// Unused rollover survives the product swap, re-capped against the
	// new entitlement's limit.
	if ent.CarryOver && carried != nil {
		if amount := rolloverAmount(carried, ent.RolloverMax); amount > 0 {
			roll := &cusproductdomain.Rollover{
				ID:                    s.genID.Generate(),
				OrgID:                 actx.OrgID,
				CustomerEntitlementID: ce.ID,
				Balance:               amount,
				CreatedAt:             now,
				UpdatedAt:             now,
			}
			if ce.NextResetAt != nil {
				roll.ExpiresAt = ce.NextResetAt
			}
			if err := s.cusProductRepo.InsertRollover(ctx, tx, roll); err != nil {
				return fmt.Errorf("insert rollover: %w", err)
			}
		}
	}
	return nil
}

// consumedUsage derives how much of an entitlement's allowance was
// used: usage = allowance + adjustment − balance − unusedRollover.
func (s *Service) consumedUsage(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, carried *cusproductdomain.FullCusEntitlement) (int64, error) {
	catalogEnt, err := s.catalogRepo.FindEntitlementByID(ctx, tx, orgID, carried.EntitlementID)
	if err != nil {
		return 0, fmt.Errorf("find catalog entitlement: %w", err)
	}
	if catalogEnt == nil {
		return 0, nil
	}
	usage := catalogEnt.Allowance + carried.Adjustment - carried.Balance - carried.UnusedRollover()
	if usage < 0 {
		usage = 0
	}
	return usage, nil
}

func (s *Service) itemSpecsForNewProducts(actx *attachdomain.AttachContext, plan *attachdomain.Plan) []ItemSpec {
	var specs []ItemSpec
	for _, action := range plan.NewProducts {
		if action.Timing != attachdomain.TimingImmediate {
			continue
		}
		for _, price := range action.Spec.Prices {
			if price.IsOneOff() || price.ProcessorPriceID == "" {
				continue
			}
			spec := ItemSpec{
				ProcessorPriceID: price.ProcessorPriceID,
				Consumable:       price.IsConsumable,
			}
			if !price.IsMetered() {
				qty := quantityFor(actx, action, price)
				spec.Quantity = &qty
			}
			specs = append(specs, spec)
		}
	}
	return specs
}

func (s *Service) itemSpecsForRemoval(actx *attachdomain.AttachContext, target *cusproductdomain.FullCusProduct) []ItemSpec {
	var specs []ItemSpec
	for _, cusPrice := range target.Prices {
		price, ok := actx.PricesByID[cusPrice.PriceID]
		if !ok || price.IsOneOff() || price.ProcessorPriceID == "" {
			continue
		}
		spec := ItemSpec{
			ProcessorPriceID: price.ProcessorPriceID,
			Consumable:       price.IsConsumable,
		}
		if !price.IsMetered() {
			qty := optionQuantityByFeature(actx, target.Options, price.FeatureID)
			if qty <= 0 || price.BillingScheme != catalogdomain.BillingSchemePerUnit {
				qty = 1
			}
			spec.Quantity = &qty
		}
		specs = append(specs, spec)
	}
	return specs
}

// deletesEverything reports whether the change set removes every
// current item without adding or updating any.
func deletesEverything(current []processordomain.SubscriptionItem, changes []processordomain.ItemChange) bool {
	if len(current) == 0 {
		return false
	}
	deleted := map[string]bool{}
	for _, change := range changes {
		if change.Op != processordomain.ItemOpDelete {
			return false
		}
		deleted[change.ItemID] = true
	}
	for _, item := range current {
		if !deleted[item.ID] {
			return false
		}
	}
	return true
}

func earliestTrialEnd(actx *attachdomain.AttachContext, plan *attachdomain.Plan) *time.Time {
	var end *time.Time
	for _, action := range plan.NewProducts {
		if action.Timing != attachdomain.TimingImmediate || action.Trial == nil {
			continue
		}
		t := action.Trial.End(actx.Now)
		if end == nil || t.Before(*end) {
			end = &t
		}
	}
	return end
}

func hasRecurringProcessorPrice(spec catalogdomain.ProductSpec) bool {
	for _, price := range spec.Prices {
		if !price.IsOneOff() && price.ProcessorPriceID != "" {
			return true
		}
	}
	return false
}

func currencyFor(actx *attachdomain.AttachContext) string {
	for _, rp := range actx.Requested {
		for _, price := range rp.Spec.Prices {
			if price.Currency != "" {
				return price.Currency
			}
		}
	}
	for _, price := range actx.PricesByID {
		if price.Currency != "" {
			return price.Currency
		}
	}
	return "usd"
}

func optionsMap(options map[string]int64) datatypes.JSONMap {
	if len(options) == 0 {
		return datatypes.JSONMap{}
	}
	m := datatypes.JSONMap{}
	for k, v := range options {
		m[k] = v
	}
	return m
}

// optionQuantityByFeature reads a chosen prepaid quantity back out of
// a stored options map, tolerating JSON number decoding.
func optionQuantityByFeature(actx *attachdomain.AttachContext, options datatypes.JSONMap, featureID snowflake.ID) int64 {
	if featureID == 0 || len(options) == 0 {
		return 0
	}
	feature, ok := actx.FeaturesByID[featureID]
	if !ok {
		return 0
	}
	raw, ok := options[feature.Key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

func findEntitlementByFeature(cp *cusproductdomain.FullCusProduct, featureID snowflake.ID) *cusproductdomain.FullCusEntitlement {
	for i := range cp.Entitlements {
		if cp.Entitlements[i].FeatureID == featureID {
			return &cp.Entitlements[i]
		}
	}
	return nil
}

// rolloverAmount is the unused positive balance carried forward,
// capped by the new entitlement's rollover limit (0 means uncapped).
func rolloverAmount(carried *cusproductdomain.FullCusEntitlement, rolloverMax int64) int64 {
	unused := carried.Balance + carried.UnusedRollover()
	if unused <= 0 {
		return 0
	}
	if rolloverMax > 0 && unused > rolloverMax {
		return rolloverMax
	}
	return unused
}
