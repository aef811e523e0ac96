package service

import (
	"context"
	"errors"
	"fmt"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/bwmarrin/snowflake"
)

// fetchContext loads everything the pipeline reads into one immutable
// snapshot: the customer and their full ledger aggregates, the resolved
// catalog specs, the processor-side subscription and payment methods,
// and per-product trial eligibility.
func (s *Service) fetchContext(ctx context.Context, orgID snowflake.ID, params attachdomain.AttachParams) (*attachdomain.AttachContext, error) {
	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, params.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if customer == nil {
		return nil, attachdomain.ErrCustomerNotFound
	}

	actx := &attachdomain.AttachContext{
		OrgID:        orgID,
		Now:          s.clock.Now(ctx),
		Params:       params,
		Customer:     customer,
		PricesByID:   map[snowflake.ID]catalogdomain.Price{},
		FeaturesByID: map[snowflake.ID]catalogdomain.Feature{},
	}

	if err := s.loadCusProducts(ctx, orgID, actx); err != nil {
		return nil, err
	}
	if err := s.loadRequested(ctx, actx); err != nil {
		return nil, err
	}
	if err := s.loadProcessorState(ctx, actx); err != nil {
		return nil, err
	}
	return actx, nil
}

func (s *Service) loadCusProducts(ctx context.Context, orgID snowflake.ID, actx *attachdomain.AttachContext) error {
	cusProducts, err := s.cusProductRepo.FindByCustomerID(ctx, s.db, orgID, actx.Customer.ID)
	if err != nil {
		return fmt.Errorf("find customer products: %w", err)
	}

	for _, cp := range cusProducts {
		full := cusproductdomain.FullCusProduct{CustomerProduct: cp}

		ents, err := s.cusProductRepo.FindEntitlementsByCustomerProductID(ctx, s.db, orgID, cp.ID)
		if err != nil {
			return fmt.Errorf("find customer entitlements: %w", err)
		}
		for _, ent := range ents {
			fullEnt := cusproductdomain.FullCusEntitlement{CustomerEntitlement: ent}

			fullEnt.Rollovers, err = s.cusProductRepo.FindRolloversByEntitlementID(ctx, s.db, orgID, ent.ID)
			if err != nil {
				return fmt.Errorf("find rollovers: %w", err)
			}
			fullEnt.Replaceables, err = s.cusProductRepo.FindLiveReplaceablesByEntitlementID(ctx, s.db, orgID, ent.ID)
			if err != nil {
				return fmt.Errorf("find replaceables: %w", err)
			}
			full.Entitlements = append(full.Entitlements, fullEnt)
		}

		full.Prices, err = s.cusProductRepo.FindPricesByCustomerProductID(ctx, s.db, orgID, cp.ID)
		if err != nil {
			return fmt.Errorf("find customer prices: %w", err)
		}
		for _, cusPrice := range full.Prices {
			if err := s.indexPrice(ctx, orgID, actx, cusPrice.PriceID); err != nil {
				return err
			}
		}

		actx.CusProducts = append(actx.CusProducts, full)
	}
	return nil
}

func (s *Service) loadRequested(ctx context.Context, actx *attachdomain.AttachContext) error {
	reqs := make([]catalogdomain.ResolveRequest, 0, len(actx.Params.Products))
	for _, pr := range actx.Params.Products {
		reqs = append(reqs, catalogdomain.ResolveRequest{
			ProductID:            pr.ProductID,
			PriceOverrides:       pr.PriceOverrides,
			EntitlementOverrides: pr.EntitlementOverrides,
		})
	}

	specs, err := s.catalogSvc.Resolve(ctx, reqs)
	if err != nil {
		return err
	}

	for i, spec := range specs {
		for _, price := range spec.Prices {
			actx.PricesByID[price.ID] = price
			if err := s.indexFeature(ctx, actx, price.FeatureID); err != nil {
				return err
			}
		}
		for _, ent := range spec.Entitlements {
			if err := s.indexFeature(ctx, actx, ent.FeatureID); err != nil {
				return err
			}
			// An entitlement for a deleted feature cannot be granted.
			if _, ok := actx.FeaturesByID[ent.FeatureID]; !ok && ent.FeatureID != 0 {
				return catalogdomain.ErrFeatureNotFound
			}
		}

		trial, err := s.trialSvc.TrialFor(ctx, actx.Customer, spec)
		if err != nil {
			return err
		}
		actx.Requested = append(actx.Requested, attachdomain.RequestedProduct{
			Spec:    spec,
			Options: actx.Params.Products[i].Options,
			Trial:   trial,
		})
	}
	return nil
}

func (s *Service) loadProcessorState(ctx context.Context, actx *attachdomain.AttachContext) error {
	if actx.Customer.ProcessorCustomerID == "" {
		return nil
	}

	cust, err := s.processor.GetCustomer(ctx, actx.Customer.ProcessorCustomerID)
	if err != nil {
		if errors.Is(err, processordomain.ErrCustomerNotFound) {
			// Stale reference; the executor will recreate it.
			return nil
		}
		return fmt.Errorf("get processor customer: %w", err)
	}
	actx.ProcessorCustomer = cust

	actx.PaymentMethods, err = s.processor.ListPaymentMethods(ctx, cust.ID)
	if err != nil {
		return fmt.Errorf("list payment methods: %w", err)
	}

	for i := range actx.CusProducts {
		cp := &actx.CusProducts[i]
		if !cp.IsOngoing() || cp.ProcessorSubscriptionID == "" {
			continue
		}
		sub, err := s.processor.GetSubscription(ctx, cp.ProcessorSubscriptionID)
		if err != nil {
			if errors.Is(err, processordomain.ErrSubscriptionNotFound) {
				continue
			}
			return fmt.Errorf("get processor subscription: %w", err)
		}
		actx.ProcessorSub = sub
		break
	}
	return nil
}

func (s *Service) indexPrice(ctx context.Context, orgID snowflake.ID, actx *attachdomain.AttachContext, priceID snowflake.ID) error {
	if _, ok := actx.PricesByID[priceID]; ok {
		return nil
	}
	price, err := s.catalogRepo.FindPriceByID(ctx, s.db, orgID, priceID)
	if err != nil {
		return fmt.Errorf("find price: %w", err)
	}
	if price == nil {
		return nil
	}
	actx.PricesByID[priceID] = *price
	return s.indexFeature(ctx, actx, price.FeatureID)
}

func (s *Service) indexFeature(ctx context.Context, actx *attachdomain.AttachContext, featureID snowflake.ID) error {
	if featureID == 0 {
		return nil
	}
	if _, ok := actx.FeaturesByID[featureID]; ok {
		return nil
	}
	feature, err := s.catalogRepo.FindFeatureByID(ctx, s.db, actx.OrgID, featureID)
	if err != nil {
		return fmt.Errorf("find feature: %w", err)
	}
	if feature != nil {
		actx.FeaturesByID[featureID] = *feature
	}
	return nil
}
