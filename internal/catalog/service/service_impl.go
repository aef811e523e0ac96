package service

import (
	"context"
	"fmt"
	"strings"

	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	"github.com/accordbilling/accord/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo catalogdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo catalogdomain.Repository
}

func NewService(p ServiceParam) catalogdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("catalog.service"),
		repo: p.Repo,
	}
}

func (s *Service) Resolve(ctx context.Context, reqs []catalogdomain.ResolveRequest) ([]catalogdomain.ProductSpec, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, catalogdomain.ErrInvalidOrganization
	}

	specs := make([]catalogdomain.ProductSpec, 0, len(reqs))
	for _, req := range reqs {
		spec, err := s.resolveOne(ctx, orgID, req)
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}

	if err := validateSingleCurrency(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func (s *Service) resolveOne(ctx context.Context, orgID snowflake.ID, req catalogdomain.ResolveRequest) (*catalogdomain.ProductSpec, error) {
	product, err := s.repo.FindProductByID(ctx, s.db, orgID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	if product == nil {
		return nil, catalogdomain.ErrProductNotFound
	}

	prices, err := s.repo.FindPricesByProductID(ctx, s.db, orgID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("find prices: %w", err)
	}
	ents, err := s.repo.FindEntitlementsByProductID(ctx, s.db, orgID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("find entitlements: %w", err)
	}

	if err := applyPriceOverrides(prices, req.PriceOverrides); err != nil {
		return nil, err
	}
	applyEntitlementOverrides(ents, req.EntitlementOverrides)

	spec := &catalogdomain.ProductSpec{
		Product:      *product,
		Prices:       prices,
		Entitlements: ents,
	}

	if product.FreeTrialID != 0 {
		trial, err := s.repo.FindFreeTrialByID(ctx, s.db, orgID, product.FreeTrialID)
		if err != nil {
			return nil, fmt.Errorf("find free trial: %w", err)
		}
		spec.FreeTrial = trial
	}
	return spec, nil
}

// applyPriceOverrides rejects overrides naming a price the product
// does not carry.
func applyPriceOverrides(prices []catalogdomain.Price, overrides []catalogdomain.PriceOverride) error {
	for _, o := range overrides {
		matched := false
		for i := range prices {
			if prices[i].ID == o.PriceID {
				prices[i].AmountCents = o.AmountCents
				matched = true
			}
		}
		if !matched {
			return catalogdomain.ErrPriceNotFound
		}
	}
	return nil
}

func applyEntitlementOverrides(ents []catalogdomain.Entitlement, overrides []catalogdomain.EntitlementOverride) {
	for _, o := range overrides {
		for i := range ents {
			if ents[i].ID == o.EntitlementID {
				ents[i].Allowance = o.Allowance
			}
		}
	}
}

func validateSingleCurrency(specs []catalogdomain.ProductSpec) error {
	currency := ""
	for _, spec := range specs {
		for _, price := range spec.Prices {
			c := strings.ToLower(strings.TrimSpace(price.Currency))
			if c == "" {
				continue
			}
			if currency == "" {
				currency = c
				continue
			}
			if c != currency {
				return catalogdomain.ErrMixedCurrencies
			}
		}
	}
	return nil
}
