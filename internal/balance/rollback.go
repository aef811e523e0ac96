package balance

import (
	"context"

	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/accordbilling/accord/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

type RollbackStatus string

const (
	RolledBackFully     RollbackStatus = "full"
	RolledBackPartially RollbackStatus = "partial"
)

// RollbackOutcome aggregates per-snapshot restore results.
type RollbackOutcome struct {
	Status   RollbackStatus
	Restored int
	Failures map[snowflake.ID]error
}

// CompensationList accumulates snapshots during a forward pass over
// multiple entitlements. On failure, Rollback restores them in reverse
// order of registration.
type CompensationList struct {
	snapshots []Snapshot
}

func (c *CompensationList) Add(ent cusproductdomain.CustomerEntitlement) {
	c.snapshots = append(c.snapshots, TakeSnapshot(ent))
}

func (c *CompensationList) Len() int { return len(c.snapshots) }

// Rollback restores every registered snapshot, newest first. Each
// restore is isolated: one failure is recorded and the rest continue.
// Rollback never returns an error; callers inspect the outcome.
func (e *Engine) Rollback(ctx context.Context, list *CompensationList) RollbackOutcome {
	outcome := RollbackOutcome{
		Status:   RolledBackFully,
		Failures: map[snowflake.ID]error{},
	}

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		// Nothing restorable without the org scope; report every
		// snapshot as failed.
		outcome.Status = RolledBackPartially
		for _, snap := range list.snapshots {
			outcome.Failures[snap.CustomerEntitlementID] = cusproductdomain.ErrInvalidOrganization
		}
		return outcome
	}
	now := e.clock.Now(ctx)

	for i := len(list.snapshots) - 1; i >= 0; i-- {
		snap := list.snapshots[i]
		if err := e.restore(ctx, orgID, snap, now); err != nil {
			outcome.Status = RolledBackPartially
			outcome.Failures[snap.CustomerEntitlementID] = err
			e.log.Error("failed to restore entitlement snapshot",
				zap.String("customer_entitlement_id", snap.CustomerEntitlementID.String()),
				zap.Error(err),
			)
			continue
		}
		outcome.Restored++
	}

	if outcome.Status == RolledBackPartially {
		e.log.Warn("balance rollback incomplete",
			zap.Int("restored", outcome.Restored),
			zap.Int("failed", len(outcome.Failures)),
		)
	}
	return outcome
}
