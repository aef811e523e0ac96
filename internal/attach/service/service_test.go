package service

import (
	"context"
	"testing"
	"time"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	catalogrepository "github.com/accordbilling/accord/internal/catalog/repository"
	catalogservice "github.com/accordbilling/accord/internal/catalog/service"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	customerrepository "github.com/accordbilling/accord/internal/customer/repository"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	cusproductrepository "github.com/accordbilling/accord/internal/cusproduct/repository"
	"github.com/accordbilling/accord/internal/lock"
	"github.com/accordbilling/accord/internal/orgcontext"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/accordbilling/accord/internal/trial"
	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now(ctx context.Context) time.Time { return c.t }

// MockProcessor is a mock implementation of the processor client.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) GetCustomer(ctx context.Context, id string) (*processordomain.Customer, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*processordomain.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) CreateCustomer(ctx context.Context, params processordomain.CreateCustomerParams) (*processordomain.Customer, error) {
	args := m.Called(ctx, params)
	if c := args.Get(0); c != nil {
		return c.(*processordomain.Customer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]processordomain.PaymentMethod, error) {
	args := m.Called(ctx, customerID)
	if pms := args.Get(0); pms != nil {
		return pms.([]processordomain.PaymentMethod), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) GetSubscription(ctx context.Context, id string) (*processordomain.Subscription, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*processordomain.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) CreateSubscription(ctx context.Context, params processordomain.CreateSubscriptionParams) (*processordomain.Subscription, error) {
	args := m.Called(ctx, params)
	if s := args.Get(0); s != nil {
		return s.(*processordomain.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) UpdateSubscriptionItems(ctx context.Context, subscriptionID string, changes []processordomain.ItemChange) (*processordomain.Subscription, error) {
	args := m.Called(ctx, subscriptionID, changes)
	if s := args.Get(0); s != nil {
		return s.(*processordomain.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error {
	args := m.Called(ctx, id, atPeriodEnd)
	return args.Error(0)
}

func (m *MockProcessor) ReleaseCancellation(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockProcessor) CreateInvoice(ctx context.Context, params processordomain.CreateInvoiceParams) (*processordomain.Invoice, error) {
	args := m.Called(ctx, params)
	if inv := args.Get(0); inv != nil {
		return inv.(*processordomain.Invoice), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProcessor) CreateCheckoutSession(ctx context.Context, params processordomain.CreateCheckoutParams) (*processordomain.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if s := args.Get(0); s != nil {
		return s.(*processordomain.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

type attachFixture struct {
	svc       attachdomain.Service
	db        *gorm.DB
	node      *snowflake.Node
	orgID     snowflake.ID
	ctx       context.Context
	processor *MockProcessor
	locker    *lock.CustomerLocker
	now       time.Time
}

func newAttachFixture(t *testing.T) *attachFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&catalogdomain.Feature{},
		&catalogdomain.Product{},
		&catalogdomain.Price{},
		&catalogdomain.Entitlement{},
		&catalogdomain.FreeTrial{},
		&cusproductdomain.CustomerProduct{},
		&cusproductdomain.CustomerEntitlement{},
		&cusproductdomain.CustomerPrice{},
		&cusproductdomain.Rollover{},
		&cusproductdomain.Replaceable{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgID := node.Generate()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := lock.NewCustomerLocker(redisClient, node, zap.NewNop(), 30*time.Second)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	processor := &MockProcessor{}

	catalogRepo := catalogrepository.Provide()
	svc := NewService(ServiceParam{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fixedClock{t: now},
		CustomerRepo:   customerrepository.Provide(),
		CusProductRepo: cusproductrepository.Provide(),
		CatalogRepo:    catalogRepo,
		CatalogSvc: catalogservice.NewService(catalogservice.ServiceParam{
			DB:   db,
			Log:  zap.NewNop(),
			Repo: catalogRepo,
		}),
		TrialSvc:  trial.NewService(trial.ServiceParam{DB: db, Log: zap.NewNop()}, false),
		Processor: processor,
		Locker:    locker,
	}, []string{"card"})

	return &attachFixture{
		svc:       svc,
		db:        db,
		node:      node,
		orgID:     orgID,
		ctx:       orgcontext.WithOrgID(context.Background(), orgID),
		processor: processor,
		locker:    locker,
		now:       now,
	}
}

func (f *attachFixture) seedCustomer(t *testing.T, processorCustomerID string) *customerdomain.Customer {
	t.Helper()
	cust := &customerdomain.Customer{
		ID:                  f.node.Generate(),
		OrgID:               f.orgID,
		ExternalID:          "ext_" + f.node.Generate().String(),
		Name:                "Ada",
		Email:               "ada@example.com",
		ProcessorCustomerID: processorCustomerID,
		CreatedAt:           f.now,
		UpdatedAt:           f.now,
	}
	require.NoError(t, f.db.Create(cust).Error)
	return cust
}

type seededProduct struct {
	product   catalogdomain.Product
	flatPrice catalogdomain.Price
	seatPrice catalogdomain.Price
	seatsEnt  catalogdomain.Entitlement
	feature   catalogdomain.Feature
}

// seedProduct creates a main product with a flat monthly price, a
// per-unit seat price and a seat entitlement.
func (f *attachFixture) seedProduct(t *testing.T, key string, flatCents, seatAllowance int64) seededProduct {
	t.Helper()

	feature := catalogdomain.Feature{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		Key:       "seats",
		Name:      "Seats",
		Kind:      catalogdomain.FeatureKindMetered,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(t, f.db.Create(&feature).Error)

	product := catalogdomain.Product{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		Key:       key,
		Name:      key,
		Group:     "plans",
		Version:   1,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(t, f.db.Create(&product).Error)

	flatPrice := catalogdomain.Price{
		ID:               f.node.Generate(),
		OrgID:            f.orgID,
		ProductID:        product.ID,
		BillingScheme:    catalogdomain.BillingSchemeFlat,
		UsageModel:       catalogdomain.UsageModelLicensed,
		Interval:         catalogdomain.IntervalMonth,
		AmountCents:      flatCents,
		Currency:         "usd",
		BillingUnits:     1,
		ProcessorPriceID: "price_flat_" + key,
		CreatedAt:        f.now,
		UpdatedAt:        f.now,
	}
	require.NoError(t, f.db.Create(&flatPrice).Error)

	seatPrice := catalogdomain.Price{
		ID:               f.node.Generate(),
		OrgID:            f.orgID,
		ProductID:        product.ID,
		FeatureID:        feature.ID,
		BillingScheme:    catalogdomain.BillingSchemePerUnit,
		UsageModel:       catalogdomain.UsageModelPrepaid,
		Interval:         catalogdomain.IntervalMonth,
		AmountCents:      500,
		Currency:         "usd",
		BillingUnits:     1,
		ProcessorPriceID: "price_seats_" + key,
		CreatedAt:        f.now,
		UpdatedAt:        f.now,
	}
	require.NoError(t, f.db.Create(&seatPrice).Error)

	seatsEnt := catalogdomain.Entitlement{
		ID:            f.node.Generate(),
		OrgID:         f.orgID,
		ProductID:     product.ID,
		FeatureID:     feature.ID,
		Allowance:     seatAllowance,
		AllowanceType: catalogdomain.AllowanceTypeFixed,
		Interval:      catalogdomain.IntervalMonth,
		CreatedAt:     f.now,
		UpdatedAt:     f.now,
	}
	require.NoError(t, f.db.Create(&seatsEnt).Error)

	return seededProduct{
		product:   product,
		flatPrice: flatPrice,
		seatPrice: seatPrice,
		seatsEnt:  seatsEnt,
		feature:   feature,
	}
}

func TestAttachNewCustomerWithoutPaymentMethodOpensCheckout(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	f.processor.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p processordomain.CreateCheckoutParams) bool {
		return p.CustomerID == "cus_1" && len(p.Items) == 2
	})).Return(&processordomain.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.example/cs_1", result.CheckoutURL)
	assert.False(t, result.Applied)
	assert.Empty(t, result.CustomerProductIDs)

	// No ledger rows until checkout completes.
	var count int64
	require.NoError(t, f.db.Model(&cusproductdomain.CustomerProduct{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	// The processor customer reference is persisted.
	var stored customerdomain.Customer
	require.NoError(t, f.db.First(&stored, "id = ?", cust.ID).Error)
	assert.Equal(t, "cus_1", stored.ProcessorCustomerID)

	f.processor.AssertExpectations(t)
}

func TestAttachCheckoutRetriesWithDefaultPaymentMethodTypes(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	f.processor.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p processordomain.CreateCheckoutParams) bool {
		return len(p.PaymentMethodTypes) == 0
	})).Return(nil, &processordomain.Error{Code: "payment_method_unactivated"}).Once()
	f.processor.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p processordomain.CreateCheckoutParams) bool {
		return len(p.PaymentMethodTypes) == 1 && p.PaymentMethodTypes[0] == "card"
	})).Return(&processordomain.CheckoutSession{ID: "cs_2", URL: "https://checkout.example/cs_2"}, nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_2", result.CheckoutURL)
	f.processor.AssertExpectations(t)
}

func TestAttachRejectsEntitlementForDeletedFeature(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "cus_1")
	seeded := f.seedProduct(t, "pro", 3000, 5)
	require.NoError(t, f.db.Delete(&catalogdomain.Feature{}, "id = ?", seeded.feature.ID).Error)

	_, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	assert.ErrorIs(t, err, catalogdomain.ErrFeatureNotFound)
	f.processor.AssertExpectations(t)
}

func TestAttachOneOffOnlyProductChecksOutAsPayment(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "")

	product := catalogdomain.Product{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		Key:       "setup",
		Name:      "setup",
		Group:     "services",
		Version:   1,
		CreatedAt: f.now,
		UpdatedAt: f.now,
	}
	require.NoError(t, f.db.Create(&product).Error)
	price := catalogdomain.Price{
		ID:               f.node.Generate(),
		OrgID:            f.orgID,
		ProductID:        product.ID,
		BillingScheme:    catalogdomain.BillingSchemeFlat,
		UsageModel:       catalogdomain.UsageModelLicensed,
		Interval:         catalogdomain.IntervalOneOff,
		AmountCents:      9900,
		Currency:         "usd",
		BillingUnits:     1,
		ProcessorPriceID: "price_setup",
		CreatedAt:        f.now,
		UpdatedAt:        f.now,
	}
	require.NoError(t, f.db.Create(&price).Error)

	f.processor.On("CreateCustomer", mock.Anything, mock.Anything).
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p processordomain.CreateCheckoutParams) bool {
		return p.Mode == processordomain.CheckoutModePayment &&
			len(p.Items) == 1 && p.Items[0].PriceID == "price_setup" &&
			p.Items[0].Quantity != nil && *p.Items[0].Quantity == 1
	})).Return(&processordomain.CheckoutSession{ID: "cs_3", URL: "https://checkout.example/cs_3"}, nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: product.ID}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_3", result.CheckoutURL)
	f.processor.AssertExpectations(t)
}

func TestAttachWithPaymentMethodCreatesSubscriptionAndLedger(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "cus_1")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	f.processor.On("GetCustomer", mock.Anything, "cus_1").
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("ListPaymentMethods", mock.Anything, "cus_1").
		Return([]processordomain.PaymentMethod{{ID: "pm_1", Type: "card"}}, nil).Once()
	f.processor.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(p processordomain.CreateSubscriptionParams) bool {
		if p.CustomerID != "cus_1" || len(p.Items) != 2 {
			return false
		}
		quantities := map[string]int64{}
		for _, item := range p.Items {
			if item.Quantity == nil {
				return false
			}
			quantities[item.PriceID] = *item.Quantity
		}
		return quantities["price_flat_pro"] == 1 && quantities["price_seats_pro"] == 2
	})).Return(&processordomain.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: f.now,
		CurrentPeriodEnd:   f.now.AddDate(0, 1, 0),
	}, nil).Once()
	f.processor.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(p processordomain.CreateInvoiceParams) bool {
		return p.CustomerID == "cus_1" && p.AutoCharge && p.Currency == "usd"
	})).Return(&processordomain.Invoice{ID: "in_1", Status: "paid"}, nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products: []attachdomain.ProductRequest{{
			ProductID: seeded.product.ID,
			Options:   map[string]int64{"seats": 2},
		}},
	})
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Empty(t, result.CheckoutURL)
	assert.Equal(t, "sub_1", result.SubscriptionID)
	assert.Equal(t, "in_1", result.InvoiceID)
	require.Len(t, result.CustomerProductIDs, 1)

	var cp cusproductdomain.CustomerProduct
	require.NoError(t, f.db.First(&cp, "id = ?", result.CustomerProductIDs[0]).Error)
	assert.Equal(t, cusproductdomain.StatusActive, cp.Status)
	assert.Equal(t, "sub_1", cp.ProcessorSubscriptionID)

	var ents []cusproductdomain.CustomerEntitlement
	require.NoError(t, f.db.Find(&ents, "customer_product_id = ?", cp.ID).Error)
	require.Len(t, ents, 1)
	// Allowance 5 per seat, 2 seats chosen.
	assert.EqualValues(t, 10, ents[0].Balance)
	require.NotNil(t, ents[0].NextResetAt)

	var prices []cusproductdomain.CustomerPrice
	require.NoError(t, f.db.Find(&prices, "customer_product_id = ?", cp.ID).Error)
	assert.Len(t, prices, 2)

	f.processor.AssertExpectations(t)
}

func TestAttachUpgradeCarriesConsumedUsage(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "cus_1")
	starter := f.seedProduct(t, "starter", 1000, 10)
	pro := f.seedProduct(t, "pro", 3000, 20)

	// Existing starter with 6 of 10 seats consumed.
	oldCP := cusproductdomain.CustomerProduct{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		CustomerID: cust.ID,
		ProductID:  starter.product.ID,
		Status:     cusproductdomain.StatusActive,
		Group:      "plans",
		StartsAt:   f.now.AddDate(0, -1, 0),
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
	}
	require.NoError(t, f.db.Create(&oldCP).Error)
	oldEnt := cusproductdomain.CustomerEntitlement{
		ID:                f.node.Generate(),
		OrgID:             f.orgID,
		CustomerID:        cust.ID,
		CustomerProductID: oldCP.ID,
		EntitlementID:     starter.seatsEnt.ID,
		FeatureID:         starter.feature.ID,
		Balance:           4,
		CreatedAt:         f.now,
		UpdatedAt:         f.now,
	}
	require.NoError(t, f.db.Create(&oldEnt).Error)
	oldPrice := cusproductdomain.CustomerPrice{
		ID:                f.node.Generate(),
		OrgID:             f.orgID,
		CustomerID:        cust.ID,
		CustomerProductID: oldCP.ID,
		PriceID:           starter.flatPrice.ID,
		AmountCents:       1000,
		CreatedAt:         f.now,
		UpdatedAt:         f.now,
	}
	require.NoError(t, f.db.Create(&oldPrice).Error)

	f.processor.On("GetCustomer", mock.Anything, "cus_1").
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("ListPaymentMethods", mock.Anything, "cus_1").
		Return([]processordomain.PaymentMethod{{ID: "pm_1", Type: "card"}}, nil).Once()
	f.processor.On("CreateSubscription", mock.Anything, mock.Anything).
		Return(&processordomain.Subscription{
			ID:                 "sub_2",
			CustomerID:         "cus_1",
			Status:             "active",
			CurrentPeriodStart: f.now,
			CurrentPeriodEnd:   f.now.AddDate(0, 1, 0),
		}, nil).Once()
	f.processor.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(&processordomain.Invoice{ID: "in_2"}, nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: pro.product.ID}},
	})
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Len(t, result.CustomerProductIDs, 1)

	var expiredCP cusproductdomain.CustomerProduct
	require.NoError(t, f.db.First(&expiredCP, "id = ?", oldCP.ID).Error)
	assert.Equal(t, cusproductdomain.StatusExpired, expiredCP.Status)

	var newEnts []cusproductdomain.CustomerEntitlement
	require.NoError(t, f.db.Find(&newEnts, "customer_product_id = ?", result.CustomerProductIDs[0]).Error)
	require.Len(t, newEnts, 1)
	// 6 of starter's 10 were used; pro grants 20, so 14 remain.
	assert.EqualValues(t, 14, newEnts[0].Balance)

	f.processor.AssertExpectations(t)
}

func TestAttachCanceledProductUncancels(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "cus_1")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	canceledAt := f.now.AddDate(0, 0, -2)
	cp := cusproductdomain.CustomerProduct{
		ID:                      f.node.Generate(),
		OrgID:                   f.orgID,
		CustomerID:              cust.ID,
		ProductID:               seeded.product.ID,
		Status:                  cusproductdomain.StatusCanceled,
		Group:                   "plans",
		ProcessorSubscriptionID: "sub_1",
		StartsAt:                f.now.AddDate(0, -1, 0),
		CanceledAt:              &canceledAt,
		CreatedAt:               f.now,
		UpdatedAt:               f.now,
	}
	require.NoError(t, f.db.Create(&cp).Error)

	f.processor.On("GetCustomer", mock.Anything, "cus_1").
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("ListPaymentMethods", mock.Anything, "cus_1").
		Return([]processordomain.PaymentMethod{{ID: "pm_1", Type: "card"}}, nil).Once()
	f.processor.On("ReleaseCancellation", mock.Anything, "sub_1").Return(nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.True(t, result.Uncanceled)
	assert.Empty(t, result.CustomerProductIDs)

	var restored cusproductdomain.CustomerProduct
	require.NoError(t, f.db.First(&restored, "id = ?", cp.ID).Error)
	assert.Equal(t, cusproductdomain.StatusActive, restored.Status)
	assert.Nil(t, restored.CanceledAt)

	f.processor.AssertExpectations(t)
}

func TestAttachPeriodEndCanceledProductRenewsInsteadOfScheduling(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "cus_1")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	// Cancel at period end leaves the row active with only canceled_at
	// set; re-attaching the same product must renew it, not schedule a
	// duplicate.
	canceledAt := f.now.AddDate(0, 0, -2)
	cp := cusproductdomain.CustomerProduct{
		ID:                      f.node.Generate(),
		OrgID:                   f.orgID,
		CustomerID:              cust.ID,
		ProductID:               seeded.product.ID,
		Status:                  cusproductdomain.StatusActive,
		Group:                   "plans",
		ProcessorSubscriptionID: "sub_1",
		StartsAt:                f.now.AddDate(0, -1, 0),
		CanceledAt:              &canceledAt,
		CreatedAt:               f.now,
		UpdatedAt:               f.now,
	}
	require.NoError(t, f.db.Create(&cp).Error)

	f.processor.On("GetCustomer", mock.Anything, "cus_1").
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("ListPaymentMethods", mock.Anything, "cus_1").
		Return([]processordomain.PaymentMethod{{ID: "pm_1", Type: "card"}}, nil).Once()
	f.processor.On("GetSubscription", mock.Anything, "sub_1").
		Return(&processordomain.Subscription{
			ID:                 "sub_1",
			Status:             "active",
			CancelAtPeriodEnd:  true,
			CurrentPeriodStart: f.now.AddDate(0, 0, -10),
			CurrentPeriodEnd:   f.now.AddDate(0, 0, 20),
		}, nil).Once()
	f.processor.On("ReleaseCancellation", mock.Anything, "sub_1").Return(nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.True(t, result.Uncanceled)
	assert.Empty(t, result.CustomerProductIDs)

	var restored cusproductdomain.CustomerProduct
	require.NoError(t, f.db.First(&restored, "id = ?", cp.ID).Error)
	assert.Equal(t, cusproductdomain.StatusActive, restored.Status)
	assert.Nil(t, restored.CanceledAt)

	var count int64
	require.NoError(t, f.db.Model(&cusproductdomain.CustomerProduct{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	f.processor.AssertExpectations(t)
}

func TestAttachScheduledDowngradeCancelsCurrentAtPeriodEnd(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "cus_1")
	current := f.seedProduct(t, "pro", 3000, 5)
	downgrade := f.seedProduct(t, "starter", 1000, 2)

	cp := cusproductdomain.CustomerProduct{
		ID:                      f.node.Generate(),
		OrgID:                   f.orgID,
		CustomerID:              cust.ID,
		ProductID:               current.product.ID,
		Status:                  cusproductdomain.StatusActive,
		Group:                   "plans",
		ProcessorSubscriptionID: "sub_1",
		StartsAt:                f.now.AddDate(0, -1, 0),
		CreatedAt:               f.now,
		UpdatedAt:               f.now,
	}
	require.NoError(t, f.db.Create(&cp).Error)

	periodEnd := f.now.AddDate(0, 0, 20)
	f.processor.On("GetCustomer", mock.Anything, "cus_1").
		Return(&processordomain.Customer{ID: "cus_1"}, nil).Once()
	f.processor.On("ListPaymentMethods", mock.Anything, "cus_1").
		Return([]processordomain.PaymentMethod{{ID: "pm_1", Type: "card"}}, nil).Once()
	f.processor.On("GetSubscription", mock.Anything, "sub_1").
		Return(&processordomain.Subscription{
			ID:                 "sub_1",
			Status:             "active",
			CurrentPeriodStart: f.now.AddDate(0, 0, -10),
			CurrentPeriodEnd:   periodEnd,
		}, nil).Once()
	f.processor.On("CancelSubscription", mock.Anything, "sub_1", true).Return(nil).Once()

	result, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: downgrade.product.ID}},
	})
	require.NoError(t, err)

	assert.True(t, result.Applied)
	require.Len(t, result.CustomerProductIDs, 1)

	var canceled cusproductdomain.CustomerProduct
	require.NoError(t, f.db.First(&canceled, "id = ?", cp.ID).Error)
	assert.Equal(t, cusproductdomain.StatusActive, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)

	var scheduled cusproductdomain.CustomerProduct
	require.NoError(t, f.db.First(&scheduled, "id = ?", result.CustomerProductIDs[0]).Error)
	assert.Equal(t, cusproductdomain.StatusScheduled, scheduled.Status)
	assert.WithinDuration(t, periodEnd, scheduled.StartsAt, time.Second)

	f.processor.AssertExpectations(t)
}

func TestAttachFailsFastWhileCustomerLocked(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	release, err := f.locker.Acquire(f.ctx, f.orgID, cust.ID)
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	assert.ErrorIs(t, err, attachdomain.ErrCustomerBusy)
}

func TestAttachUnknownCustomerFails(t *testing.T) {
	f := newAttachFixture(t)
	seeded := f.seedProduct(t, "pro", 3000, 5)

	_, err := f.svc.Attach(f.ctx, attachdomain.AttachParams{
		CustomerID: f.node.Generate(),
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	assert.ErrorIs(t, err, attachdomain.ErrCustomerNotFound)
}

func TestPreviewReportsPlanWithoutSideEffects(t *testing.T) {
	f := newAttachFixture(t)
	cust := f.seedCustomer(t, "")
	seeded := f.seedProduct(t, "pro", 3000, 5)

	preview, err := f.svc.Preview(f.ctx, attachdomain.AttachParams{
		CustomerID: cust.ID,
		Products:   []attachdomain.ProductRequest{{ProductID: seeded.product.ID}},
	})
	require.NoError(t, err)

	assert.Equal(t, attachdomain.TimingImmediate, preview.Timing)
	assert.True(t, preview.WillCheckout)
	assert.False(t, preview.WillInvoice)
	assert.False(t, preview.Uncancel)
	assert.Equal(t, "usd", preview.Currency)
	// Flat monthly plus one seat pack, billed for a full period.
	assert.EqualValues(t, 3500, preview.TotalCents)

	var count int64
	require.NoError(t, f.db.Model(&cusproductdomain.CustomerProduct{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	f.processor.AssertExpectations(t)
}
