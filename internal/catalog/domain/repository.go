package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertProduct(ctx context.Context, db *gorm.DB, product *Product) error
	FindProductByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Product, error)
	InsertPrice(ctx context.Context, db *gorm.DB, price *Price) error
	FindPriceByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Price, error)
	FindPricesByProductID(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]Price, error)
	InsertEntitlement(ctx context.Context, db *gorm.DB, ent *Entitlement) error
	FindEntitlementByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Entitlement, error)
	FindEntitlementsByProductID(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]Entitlement, error)
	InsertFeature(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindFeatureByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Feature, error)
	FindFeatureByKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Feature, error)
	InsertFreeTrial(ctx context.Context, db *gorm.DB, trial *FreeTrial) error
	FindFreeTrialByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*FreeTrial, error)
}
