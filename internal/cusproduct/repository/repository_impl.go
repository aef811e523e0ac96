package repository

import (
	"context"
	"time"

	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() cusproductdomain.Repository {
	return &repo{}
}

func (r *repo) InsertCustomerProduct(ctx context.Context, db *gorm.DB, cp *cusproductdomain.CustomerProduct) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_products (
			id, org_id, customer_id, product_id, status, product_group,
			is_add_on, processor_subscription_id, processor_schedule_id,
			starts_at, canceled_at, ended_at, trial_ends_at, options,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID,
		cp.OrgID,
		cp.CustomerID,
		cp.ProductID,
		cp.Status,
		cp.Group,
		cp.IsAddOn,
		cp.ProcessorSubscriptionID,
		cp.ProcessorScheduleID,
		cp.StartsAt,
		cp.CanceledAt,
		cp.EndedAt,
		cp.TrialEndsAt,
		cp.Options,
		cp.CreatedAt,
		cp.UpdatedAt,
	).Error
}

func (r *repo) FindCustomerProductByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*cusproductdomain.CustomerProduct, error) {
	var cp cusproductdomain.CustomerProduct
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, product_id, status, product_group,
		 is_add_on, processor_subscription_id, processor_schedule_id,
		 starts_at, canceled_at, ended_at, trial_ends_at, options,
		 created_at, updated_at
		 FROM customer_products WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&cp).Error
	if err != nil {
		return nil, err
	}
	if cp.ID == 0 {
		return nil, nil
	}
	return &cp, nil
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]cusproductdomain.CustomerProduct, error) {
	var cps []cusproductdomain.CustomerProduct
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, product_id, status, product_group,
		 is_add_on, processor_subscription_id, processor_schedule_id,
		 starts_at, canceled_at, ended_at, trial_ends_at, options,
		 created_at, updated_at
		 FROM customer_products
		 WHERE org_id = ? AND customer_id = ? AND status != ?
		 ORDER BY id DESC`,
		orgID,
		customerID,
		cusproductdomain.StatusExpired,
	).Scan(&cps).Error
	if err != nil {
		return nil, err
	}
	return cps, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_products SET status = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		status,
		now,
		orgID,
		id,
	).Error
}

func (r *repo) UpdateCanceledAt(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, canceledAt *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_products SET canceled_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		canceledAt,
		now,
		orgID,
		id,
	).Error
}

func (r *repo) UpdateProcessorSubscriptionID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, subscriptionID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_products SET processor_subscription_id = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		subscriptionID,
		now,
		orgID,
		id,
	).Error
}

func (r *repo) DeleteCustomerProduct(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM customer_products WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Error
}

func (r *repo) InsertCustomerEntitlement(ctx context.Context, db *gorm.DB, ce *cusproductdomain.CustomerEntitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_entitlements (
			id, org_id, customer_id, customer_product_id, entitlement_id,
			feature_id, balance, additional_balance, adjustment,
			entity_balances, next_reset_at, unlimited, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ce.ID,
		ce.OrgID,
		ce.CustomerID,
		ce.CustomerProductID,
		ce.EntitlementID,
		ce.FeatureID,
		ce.Balance,
		ce.AdditionalBalance,
		ce.Adjustment,
		ce.EntityBalances,
		ce.NextResetAt,
		ce.Unlimited,
		ce.CreatedAt,
		ce.UpdatedAt,
	).Error
}

func (r *repo) FindEntitlementsByCustomerProductID(ctx context.Context, db *gorm.DB, orgID, customerProductID snowflake.ID) ([]cusproductdomain.CustomerEntitlement, error) {
	var ents []cusproductdomain.CustomerEntitlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, customer_product_id, entitlement_id,
		 feature_id, balance, additional_balance, adjustment,
		 entity_balances, next_reset_at, unlimited, created_at, updated_at
		 FROM customer_entitlements
		 WHERE org_id = ? AND customer_product_id = ? ORDER BY id`,
		orgID,
		customerProductID,
	).Scan(&ents).Error
	if err != nil {
		return nil, err
	}
	return ents, nil
}

func (r *repo) UpdateEntitlementBalances(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, balance, additionalBalance, adjustment int64, entityBalances map[string]any, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_entitlements
		 SET balance = ?, additional_balance = ?, adjustment = ?,
		     entity_balances = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		balance,
		additionalBalance,
		adjustment,
		datatypes.JSONMap(entityBalances),
		now,
		orgID,
		id,
	).Error
}

func (r *repo) InsertCustomerPrice(ctx context.Context, db *gorm.DB, cp *cusproductdomain.CustomerPrice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_prices (
			id, org_id, customer_id, customer_product_id, price_id,
			amount_cents, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID,
		cp.OrgID,
		cp.CustomerID,
		cp.CustomerProductID,
		cp.PriceID,
		cp.AmountCents,
		cp.CreatedAt,
		cp.UpdatedAt,
	).Error
}

func (r *repo) FindPricesByCustomerProductID(ctx context.Context, db *gorm.DB, orgID, customerProductID snowflake.ID) ([]cusproductdomain.CustomerPrice, error) {
	var prices []cusproductdomain.CustomerPrice
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, customer_product_id, price_id,
		 amount_cents, created_at, updated_at
		 FROM customer_prices
		 WHERE org_id = ? AND customer_product_id = ? ORDER BY id`,
		orgID,
		customerProductID,
	).Scan(&prices).Error
	if err != nil {
		return nil, err
	}
	return prices, nil
}

func (r *repo) InsertRollover(ctx context.Context, db *gorm.DB, ro *cusproductdomain.Rollover) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO rollovers (
			id, org_id, customer_entitlement_id, balance, expires_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ro.ID,
		ro.OrgID,
		ro.CustomerEntitlementID,
		ro.Balance,
		ro.ExpiresAt,
		ro.CreatedAt,
		ro.UpdatedAt,
	).Error
}

func (r *repo) FindRolloversByEntitlementID(ctx context.Context, db *gorm.DB, orgID, customerEntitlementID snowflake.ID) ([]cusproductdomain.Rollover, error) {
	var rollovers []cusproductdomain.Rollover
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_entitlement_id, balance, expires_at,
		 created_at, updated_at
		 FROM rollovers
		 WHERE org_id = ? AND customer_entitlement_id = ? ORDER BY id`,
		orgID,
		customerEntitlementID,
	).Scan(&rollovers).Error
	if err != nil {
		return nil, err
	}
	return rollovers, nil
}

func (r *repo) InsertReplaceable(ctx context.Context, db *gorm.DB, rep *cusproductdomain.Replaceable) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO replaceables (
			id, org_id, customer_entitlement_id, deleted_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		rep.ID,
		rep.OrgID,
		rep.CustomerEntitlementID,
		rep.DeletedAt,
		rep.CreatedAt,
		rep.UpdatedAt,
	).Error
}

func (r *repo) FindLiveReplaceablesByEntitlementID(ctx context.Context, db *gorm.DB, orgID, customerEntitlementID snowflake.ID) ([]cusproductdomain.Replaceable, error) {
	var reps []cusproductdomain.Replaceable
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_entitlement_id, deleted_at, created_at, updated_at
		 FROM replaceables
		 WHERE org_id = ? AND customer_entitlement_id = ? AND deleted_at IS NULL
		 ORDER BY id`,
		orgID,
		customerEntitlementID,
	).Scan(&reps).Error
	if err != nil {
		return nil, err
	}
	return reps, nil
}

func (r *repo) SoftDeleteReplaceables(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE replaceables SET deleted_at = ?, updated_at = ?
		 WHERE org_id = ? AND id IN ?`,
		now,
		now,
		orgID,
		ids,
	).Error
}
