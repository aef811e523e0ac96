package repository

import (
	"context"

	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() customerdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, c *customerdomain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (
			id, org_id, external_id, name, email, fingerprint, entity_id,
			processor_customer_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.OrgID,
		c.ExternalID,
		c.Name,
		c.Email,
		c.Fingerprint,
		c.EntityID,
		c.ProcessorCustomerID,
		c.CreatedAt,
		c.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*customerdomain.Customer, error) {
	var c customerdomain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, external_id, name, email, fingerprint, entity_id,
		 processor_customer_id, created_at, updated_at
		 FROM customers WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalID string) (*customerdomain.Customer, error) {
	var c customerdomain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, external_id, name, email, fingerprint, entity_id,
		 processor_customer_id, created_at, updated_at
		 FROM customers WHERE org_id = ? AND external_id = ? LIMIT 1`,
		orgID,
		externalID,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) UpdateProcessorCustomerID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, processorCustomerID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers SET processor_customer_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ?`,
		processorCustomerID,
		orgID,
		id,
	).Error
}
