package service

import (
	"context"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	"github.com/accordbilling/accord/internal/clock"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/accordbilling/accord/internal/lock"
	"github.com/accordbilling/accord/internal/orgcontext"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/accordbilling/accord/internal/trial"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service runs the attach pipeline: fetch context, resolve actions,
// compute line items, decide the billing route, execute.
type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	customerRepo   customerdomain.Repository
	cusProductRepo cusproductdomain.Repository
	catalogRepo    catalogdomain.Repository
	catalogSvc     catalogdomain.Service
	trialSvc       trial.Service
	processor      processordomain.Client
	locker         *lock.CustomerLocker
	defaultPMTypes []string
}

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	CustomerRepo   customerdomain.Repository
	CusProductRepo cusproductdomain.Repository
	CatalogRepo    catalogdomain.Repository
	CatalogSvc     catalogdomain.Service
	TrialSvc       trial.Service
	Processor      processordomain.Client
	Locker         *lock.CustomerLocker
}

func NewService(p ServiceParam, defaultPMTypes []string) attachdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("attach.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		customerRepo:   p.CustomerRepo,
		cusProductRepo: p.CusProductRepo,
		catalogRepo:    p.CatalogRepo,
		catalogSvc:     p.CatalogSvc,
		trialSvc:       p.TrialSvc,
		processor:      p.Processor,
		locker:         p.Locker,
		defaultPMTypes: defaultPMTypes,
	}
}

func (s *Service) Attach(ctx context.Context, params attachdomain.AttachParams) (*attachdomain.AttachResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, attachdomain.ErrInvalidOrganization
	}
	if len(params.Products) == 0 {
		return nil, attachdomain.ErrInvalidProductSet
	}

	release, err := s.locker.Acquire(ctx, orgID, params.CustomerID)
	if err != nil {
		if err == lock.ErrCustomerBusy {
			return nil, attachdomain.ErrCustomerBusy
		}
		return nil, err
	}
	defer release()

	actx, err := s.fetchContext(ctx, orgID, params)
	if err != nil {
		return nil, err
	}

	plan, err := ResolveActions(actx)
	if err != nil {
		return nil, err
	}

	lineItems := ComputeLineItems(actx, plan)
	decision := DecideCheckout(decisionInputFor(actx, plan))

	return s.execute(ctx, actx, plan, lineItems, decision)
}

func (s *Service) Preview(ctx context.Context, params attachdomain.AttachParams) (*attachdomain.PlanPreview, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, attachdomain.ErrInvalidOrganization
	}
	if len(params.Products) == 0 {
		return nil, attachdomain.ErrInvalidProductSet
	}

	actx, err := s.fetchContext(ctx, orgID, params)
	if err != nil {
		return nil, err
	}

	plan, err := ResolveActions(actx)
	if err != nil {
		return nil, err
	}

	lineItems := ComputeLineItems(actx, plan)
	decision := DecideCheckout(decisionInputFor(actx, plan))

	preview := &attachdomain.PlanPreview{
		Timing:       planTiming(plan),
		LineItems:    lineItems,
		TotalCents:   attachdomain.TotalCents(lineItems),
		Currency:     currencyFor(actx),
		WillCheckout: decision == DecisionCheckout,
	}
	if _, ok := plan.Ongoing.(attachdomain.UncancelOngoing); ok {
		preview.Uncancel = true
	}
	preview.WillInvoice = !preview.WillCheckout && len(lineItems) > 0
	return preview, nil
}

// planTiming summarizes when the plan takes effect: scheduled when any
// new product waits for period end, immediate otherwise.
func planTiming(plan *attachdomain.Plan) attachdomain.NewProductTiming {
	for _, action := range plan.NewProducts {
		if action.Timing == attachdomain.TimingScheduled {
			return attachdomain.TimingScheduled
		}
	}
	return attachdomain.TimingImmediate
}
