package service

import (
	"context"
	"fmt"

	"github.com/accordbilling/accord/internal/balance"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/accordbilling/accord/internal/orgcontext"
	usagedomain "github.com/accordbilling/accord/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Engine         *balance.Engine
	CustomerRepo   customerdomain.Repository
	CusProductRepo cusproductdomain.Repository
	CatalogRepo    catalogdomain.Repository
}

type service struct {
	db             *gorm.DB
	log            *zap.Logger
	engine         *balance.Engine
	customerRepo   customerdomain.Repository
	cusProductRepo cusproductdomain.Repository
	catalogRepo    catalogdomain.Repository
}

func NewService(p ServiceParam) usagedomain.Service {
	return &service{
		db:             p.DB,
		log:            p.Log.Named("usage.service"),
		engine:         p.Engine,
		customerRepo:   p.CustomerRepo,
		cusProductRepo: p.CusProductRepo,
		catalogRepo:    p.CatalogRepo,
	}
}

func (s *service) Track(ctx context.Context, params usagedomain.TrackParams) (*usagedomain.TrackResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if params.Delta == 0 {
		return &usagedomain.TrackResult{}, nil
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, params.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if customer == nil {
		return nil, usagedomain.ErrCustomerNotFound
	}

	feature, err := s.catalogRepo.FindFeatureByKey(ctx, s.db, orgID, params.FeatureKey)
	if err != nil {
		return nil, fmt.Errorf("find feature: %w", err)
	}
	if feature == nil {
		return nil, usagedomain.ErrFeatureNotFound
	}

	ents, err := s.loadEntitlements(ctx, orgID, customer.ID, feature.ID)
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, usagedomain.ErrFeatureNotEntitled
	}

	for _, ent := range ents {
		if ent.Unlimited {
			return &usagedomain.TrackResult{Unlimited: true}, nil
		}
	}

	return s.apply(ctx, ents, params.Delta)
}

// apply distributes the delta across the entitlements: each consumes
// its available balance in order, and the last one absorbs whatever
// remains, going negative into replaceable overage slots. A release
// (negative delta) credits the first entitlement.
func (s *service) apply(ctx context.Context, ents []cusproductdomain.FullCusEntitlement, delta int64) (*usagedomain.TrackResult, error) {
	result := &usagedomain.TrackResult{}
	list := &balance.CompensationList{}
	remaining := delta

	for i := range ents {
		ent := &ents[i]
		old := ent.Balance

		var newBalance int64
		switch {
		case remaining < 0:
			newBalance = old - remaining
			remaining = 0
		case i == len(ents)-1:
			newBalance = old - remaining
			remaining = 0
		default:
			take := old
			if take < 0 {
				take = 0
			}
			if take > remaining {
				take = remaining
			}
			newBalance = old - take
			remaining -= take
		}

		if newBalance == old {
			continue
		}

		list.Add(ent.CustomerEntitlement)
		adj, err := s.engine.AdjustBalance(ctx, ent, old, newBalance)
		if err != nil {
			outcome := s.engine.Rollback(ctx, list)
			s.log.Error("usage tracking failed, rolled back",
				zap.String("customer_entitlement_id", ent.ID.String()),
				zap.String("rollback_status", string(outcome.Status)),
				zap.Int("restored", outcome.Restored),
				zap.Error(err),
			)
			return nil, fmt.Errorf("adjust balance: %w", err)
		}

		result.Changes = append(result.Changes, usagedomain.EntitlementChange{
			CustomerEntitlementID: ent.ID,
			OldBalance:            old,
			NewBalance:            newBalance,
			CreatedReplaceables:   len(adj.CreatedReplaceables),
			DeletedReplaceables:   len(adj.DeletedReplaceables),
		})

		if remaining == 0 {
			break
		}
	}
	return result, nil
}

// loadEntitlements collects the customer's ongoing entitlements for
// the feature, main products before add-ons so plan allowances drain
// first.
func (s *service) loadEntitlements(ctx context.Context, orgID, customerID, featureID snowflake.ID) ([]cusproductdomain.FullCusEntitlement, error) {
	cps, err := s.cusProductRepo.FindByCustomerID(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, fmt.Errorf("find customer products: %w", err)
	}

	var mains, addOns []cusproductdomain.FullCusEntitlement
	for _, cp := range cps {
		if !cp.IsOngoing() {
			continue
		}
		ents, err := s.cusProductRepo.FindEntitlementsByCustomerProductID(ctx, s.db, orgID, cp.ID)
		if err != nil {
			return nil, fmt.Errorf("find customer entitlements: %w", err)
		}
		for _, ent := range ents {
			if ent.FeatureID != featureID {
				continue
			}
			full := cusproductdomain.FullCusEntitlement{CustomerEntitlement: ent}
			full.Rollovers, err = s.cusProductRepo.FindRolloversByEntitlementID(ctx, s.db, orgID, ent.ID)
			if err != nil {
				return nil, fmt.Errorf("find rollovers: %w", err)
			}
			full.Replaceables, err = s.cusProductRepo.FindLiveReplaceablesByEntitlementID(ctx, s.db, orgID, ent.ID)
			if err != nil {
				return nil, fmt.Errorf("find replaceables: %w", err)
			}
			if cp.IsMain() {
				mains = append(mains, full)
			} else {
				addOns = append(addOns, full)
			}
		}
	}
	return append(mains, addOns...), nil
}
