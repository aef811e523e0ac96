// Package balance adjusts prepaid entitlement balances when usage
// crosses the prepaid allowance, reserving replaceable overage slots so
// the processor-billed quantity tracks actual reserved overage, and
// rolls entitlements back to a snapshot when a multi-entitlement update
// fails partway.
package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/accordbilling/accord/internal/clock"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/accordbilling/accord/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Engine struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  cusproductdomain.Repository
}

type EngineParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  cusproductdomain.Repository
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		db:    p.DB,
		log:   p.Log.Named("balance.engine"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Adjustment reports what one AdjustBalance call did.
type Adjustment struct {
	CreatedReplaceables []snowflake.ID
	DeletedReplaceables []snowflake.ID
	// PersistedBalance is newBalance − (created − deleted).
	PersistedBalance int64
}

func overage(balance int64) int64 {
	if balance >= 0 {
		return 0
	}
	return -balance
}

// AdjustBalance moves a prepaid entitlement from originalBalance to
// newBalance, creating or releasing replaceable slots so live slots
// always cover the overage. Created slots consume additional balance,
// so the persisted balance is newBalance minus the slot delta.
func (e *Engine) AdjustBalance(ctx context.Context, ent *cusproductdomain.FullCusEntitlement, originalBalance, newBalance int64) (*Adjustment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, cusproductdomain.ErrInvalidOrganization
	}
	now := e.clock.Now(ctx)

	required := overage(newBalance)
	live := int64(len(ent.Replaceables))

	adj := &Adjustment{}

	switch {
	case required > live:
		for i := int64(0); i < required-live; i++ {
			rep := &cusproductdomain.Replaceable{
				ID:                    e.genID.Generate(),
				OrgID:                 orgID,
				CustomerEntitlementID: ent.ID,
				CreatedAt:             now,
				UpdatedAt:             now,
			}
			if err := e.repo.InsertReplaceable(ctx, e.db, rep); err != nil {
				return nil, fmt.Errorf("insert replaceable: %w", err)
			}
			adj.CreatedReplaceables = append(adj.CreatedReplaceables, rep.ID)
		}
	case required < live:
		// Release the newest slots first; the oldest are the most
		// likely to already be referenced by a billed period.
		toDelete := make([]snowflake.ID, 0, live-required)
		for i := live - 1; i >= required; i-- {
			toDelete = append(toDelete, ent.Replaceables[i].ID)
		}
		if err := e.repo.SoftDeleteReplaceables(ctx, e.db, orgID, toDelete, now); err != nil {
			return nil, fmt.Errorf("delete replaceables: %w", err)
		}
		adj.DeletedReplaceables = toDelete
	}

	delta := int64(len(adj.CreatedReplaceables)) - int64(len(adj.DeletedReplaceables))
	adj.PersistedBalance = newBalance - delta

	if err := e.repo.UpdateEntitlementBalances(
		ctx, e.db, orgID, ent.ID,
		adj.PersistedBalance,
		ent.AdditionalBalance,
		ent.Adjustment,
		ent.EntityBalances,
		now,
	); err != nil {
		return nil, fmt.Errorf("persist balance: %w", err)
	}

	e.log.Debug("adjusted prepaid balance",
		zap.String("customer_entitlement_id", ent.ID.String()),
		zap.Int64("original_balance", originalBalance),
		zap.Int64("new_balance", newBalance),
		zap.Int64("persisted_balance", adj.PersistedBalance),
		zap.Int("created_replaceables", len(adj.CreatedReplaceables)),
		zap.Int("deleted_replaceables", len(adj.DeletedReplaceables)),
	)
	return adj, nil
}

// Snapshot captures the mutable balance fields of one entitlement.
type Snapshot struct {
	CustomerEntitlementID snowflake.ID
	Balance               int64
	AdditionalBalance     int64
	Adjustment            int64
	EntityBalances        map[string]any
}

// TakeSnapshot copies an entitlement's pre-transition state.
func TakeSnapshot(ent cusproductdomain.CustomerEntitlement) Snapshot {
	entities := make(map[string]any, len(ent.EntityBalances))
	for k, v := range ent.EntityBalances {
		entities[k] = v
	}
	return Snapshot{
		CustomerEntitlementID: ent.ID,
		Balance:               ent.Balance,
		AdditionalBalance:     ent.AdditionalBalance,
		Adjustment:            ent.Adjustment,
		EntityBalances:        entities,
	}
}

func (e *Engine) restore(ctx context.Context, orgID snowflake.ID, snap Snapshot, now time.Time) error {
	return e.repo.UpdateEntitlementBalances(
		ctx, e.db, orgID, snap.CustomerEntitlementID,
		snap.Balance,
		snap.AdditionalBalance,
		snap.Adjustment,
		snap.EntityBalances,
		now,
	)
}
