package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCustomerProduct(ctx context.Context, db *gorm.DB, cp *CustomerProduct) error
	FindCustomerProductByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*CustomerProduct, error)
	// FindByCustomerID returns every non-expired CustomerProduct for the
	// customer, newest first.
	FindByCustomerID(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]CustomerProduct, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, status string, now time.Time) error
	UpdateCanceledAt(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, canceledAt *time.Time, now time.Time) error
	UpdateProcessorSubscriptionID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, subscriptionID string, now time.Time) error
	DeleteCustomerProduct(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error

	InsertCustomerEntitlement(ctx context.Context, db *gorm.DB, ce *CustomerEntitlement) error
	FindEntitlementsByCustomerProductID(ctx context.Context, db *gorm.DB, orgID, customerProductID snowflake.ID) ([]CustomerEntitlement, error)
	UpdateEntitlementBalances(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, balance, additionalBalance, adjustment int64, entityBalances map[string]any, now time.Time) error

	InsertCustomerPrice(ctx context.Context, db *gorm.DB, cp *CustomerPrice) error
	FindPricesByCustomerProductID(ctx context.Context, db *gorm.DB, orgID, customerProductID snowflake.ID) ([]CustomerPrice, error)

	InsertRollover(ctx context.Context, db *gorm.DB, r *Rollover) error
	FindRolloversByEntitlementID(ctx context.Context, db *gorm.DB, orgID, customerEntitlementID snowflake.ID) ([]Rollover, error)

	InsertReplaceable(ctx context.Context, db *gorm.DB, r *Replaceable) error
	// FindLiveReplaceablesByEntitlementID excludes soft-deleted slots.
	FindLiveReplaceablesByEntitlementID(ctx context.Context, db *gorm.DB, orgID, customerEntitlementID snowflake.ID) ([]Replaceable, error)
	SoftDeleteReplaceables(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID, now time.Time) error
}
