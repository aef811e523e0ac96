// Package trial decides free-trial eligibility. Trials are dedupped by
// customer fingerprint so a new account on the same device does not
// restart the clock.
package trial

import (
	"context"
	"fmt"

	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	"github.com/accordbilling/accord/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service interface {
	// TrialFor returns the trial the customer may use for the product,
	// or nil when the product has no trial or the fingerprint already
	// consumed it. A consumed trial is not an error.
	TrialFor(ctx context.Context, customer *customerdomain.Customer, spec catalogdomain.ProductSpec) (*catalogdomain.FreeTrial, error)
}

type service struct {
	db            *gorm.DB
	log           *zap.Logger
	allowMultiple bool
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewService(p ServiceParam, allowMultiple bool) Service {
	return &service{
		db:            p.DB,
		log:           p.Log.Named("trial.service"),
		allowMultiple: allowMultiple,
	}
}

func (s *service) TrialFor(ctx context.Context, customer *customerdomain.Customer, spec catalogdomain.ProductSpec) (*catalogdomain.FreeTrial, error) {
	trial := spec.FreeTrial
	if trial == nil {
		return nil, nil
	}
	if !trial.UniqueFingerprint || s.allowMultiple || customer.Fingerprint == "" {
		return trial, nil
	}

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, customerdomain.ErrInvalidOrganization
	}

	consumed, err := s.countConsumedTrials(ctx, orgID, customer.Fingerprint, spec.Product.ID)
	if err != nil {
		return nil, fmt.Errorf("count consumed trials: %w", err)
	}
	if consumed > 0 {
		s.log.Debug("trial already consumed by fingerprint",
			zap.String("fingerprint", customer.Fingerprint),
			zap.String("product_id", spec.Product.ID.String()),
		)
		return nil, nil
	}
	return trial, nil
}

func (s *service) countConsumedTrials(ctx context.Context, orgID snowflake.ID, fingerprint string, productID snowflake.ID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM customer_products cp
		 JOIN customers c ON c.id = cp.customer_id AND c.org_id = cp.org_id
		 WHERE cp.org_id = ?
		   AND c.fingerprint = ?
		   AND cp.product_id = ?
		   AND cp.trial_ends_at IS NOT NULL`,
		orgID,
		fingerprint,
		productID,
	).Scan(&count).Error
	return count, err
}
