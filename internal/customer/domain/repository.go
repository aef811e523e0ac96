package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Customer, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, externalID string) (*Customer, error)
	UpdateProcessorCustomerID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, processorCustomerID string) error
}
