package repository

import (
	"context"

	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) InsertProduct(ctx context.Context, db *gorm.DB, p *catalogdomain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (
			id, org_id, key, name, product_group, is_add_on, is_default,
			version, free_trial_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrgID,
		p.Key,
		p.Name,
		p.Group,
		p.IsAddOn,
		p.IsDefault,
		p.Version,
		p.FreeTrialID,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindProductByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*catalogdomain.Product, error) {
	var p catalogdomain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, key, name, product_group, is_add_on, is_default,
		 version, free_trial_id, created_at, updated_at
		 FROM products WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) InsertPrice(ctx context.Context, db *gorm.DB, p *catalogdomain.Price) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO prices (
			id, org_id, product_id, feature_id, billing_scheme, usage_model,
			billing_interval, amount_cents, currency, billing_units, is_consumable,
			processor_price_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.OrgID,
		p.ProductID,
		p.FeatureID,
		p.BillingScheme,
		p.UsageModel,
		p.Interval,
		p.AmountCents,
		p.Currency,
		p.BillingUnits,
		p.IsConsumable,
		p.ProcessorPriceID,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindPriceByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*catalogdomain.Price, error) {
	var p catalogdomain.Price
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, product_id, feature_id, billing_scheme, usage_model,
		 billing_interval, amount_cents, currency, billing_units, is_consumable,
		 processor_price_id, created_at, updated_at
		 FROM prices WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindPricesByProductID(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]catalogdomain.Price, error) {
	var prices []catalogdomain.Price
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, product_id, feature_id, billing_scheme, usage_model,
		 billing_interval, amount_cents, currency, billing_units, is_consumable,
		 processor_price_id, created_at, updated_at
		 FROM prices WHERE org_id = ? AND product_id = ? ORDER BY id`,
		orgID,
		productID,
	).Scan(&prices).Error
	if err != nil {
		return nil, err
	}
	return prices, nil
}

func (r *repo) InsertEntitlement(ctx context.Context, db *gorm.DB, e *catalogdomain.Entitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO entitlements (
			id, org_id, product_id, feature_id, allowance, allowance_type,
			reset_interval, carry_over, rollover_max, entity_scoped, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.OrgID,
		e.ProductID,
		e.FeatureID,
		e.Allowance,
		e.AllowanceType,
		e.Interval,
		e.CarryOver,
		e.RolloverMax,
		e.EntityScoped,
		e.CreatedAt,
		e.UpdatedAt,
	).Error
}

func (r *repo) FindEntitlementByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*catalogdomain.Entitlement, error) {
	var e catalogdomain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, product_id, feature_id, allowance, allowance_type,
		 reset_interval, carry_over, rollover_max, entity_scoped, created_at, updated_at
		 FROM entitlements WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&e).Error
	if err != nil {
		return nil, err
	}
	if e.ID == 0 {
		return nil, nil
	}
	return &e, nil
}

func (r *repo) FindEntitlementsByProductID(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID) ([]catalogdomain.Entitlement, error) {
	var ents []catalogdomain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, product_id, feature_id, allowance, allowance_type,
		 reset_interval, carry_over, rollover_max, entity_scoped, created_at, updated_at
		 FROM entitlements WHERE org_id = ? AND product_id = ? ORDER BY id`,
		orgID,
		productID,
	).Scan(&ents).Error
	if err != nil {
		return nil, err
	}
	return ents, nil
}

func (r *repo) InsertFeature(ctx context.Context, db *gorm.DB, f *catalogdomain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (
			id, org_id, key, name, kind, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID,
		f.OrgID,
		f.Key,
		f.Name,
		f.Kind,
		f.CreatedAt,
		f.UpdatedAt,
	).Error
}

func (r *repo) FindFeatureByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*catalogdomain.Feature, error) {
	var f catalogdomain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, key, name, kind, created_at, updated_at
		 FROM features WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) FindFeatureByKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*catalogdomain.Feature, error) {
	var f catalogdomain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, key, name, kind, created_at, updated_at
		 FROM features WHERE org_id = ? AND key = ?`,
		orgID,
		key,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) InsertFreeTrial(ctx context.Context, db *gorm.DB, t *catalogdomain.FreeTrial) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO free_trials (
			id, org_id, product_id, length, unit, unique_fingerprint,
			card_required, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.OrgID,
		t.ProductID,
		t.Length,
		t.Unit,
		t.UniqueFingerprint,
		t.CardRequired,
		t.CreatedAt,
		t.UpdatedAt,
	).Error
}

func (r *repo) FindFreeTrialByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*catalogdomain.FreeTrial, error) {
	var t catalogdomain.FreeTrial
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, product_id, length, unit, unique_fingerprint,
		 card_required, created_at, updated_at
		 FROM free_trials WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}
