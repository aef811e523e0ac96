package balance

import (
	"context"
	"testing"
	"time"

	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/accordbilling/accord/internal/cusproduct/repository"
	"github.com/accordbilling/accord/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now(ctx context.Context) time.Time { return c.t }

type engineFixture struct {
	engine *Engine
	db     *gorm.DB
	node   *snowflake.Node
	orgID  snowflake.ID
	ctx    context.Context
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&cusproductdomain.CustomerEntitlement{},
		&cusproductdomain.Replaceable{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgID := node.Generate()

	engine := NewEngine(EngineParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		Repo:  repository.Provide(),
	})

	return &engineFixture{
		engine: engine,
		db:     db,
		node:   node,
		orgID:  orgID,
		ctx:    orgcontext.WithOrgID(context.Background(), orgID),
	}
}

func (f *engineFixture) seedEntitlement(t *testing.T, balance int64, liveReplaceables int) *cusproductdomain.FullCusEntitlement {
	t.Helper()
	now := time.Now().UTC()
	ent := cusproductdomain.CustomerEntitlement{
		ID:                f.node.Generate(),
		OrgID:             f.orgID,
		CustomerID:        f.node.Generate(),
		CustomerProductID: f.node.Generate(),
		EntitlementID:     f.node.Generate(),
		FeatureID:         f.node.Generate(),
		Balance:           balance,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.db.Create(&ent).Error)

	full := &cusproductdomain.FullCusEntitlement{CustomerEntitlement: ent}
	for i := 0; i < liveReplaceables; i++ {
		rep := cusproductdomain.Replaceable{
			ID:                    f.node.Generate(),
			OrgID:                 f.orgID,
			CustomerEntitlementID: ent.ID,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		require.NoError(t, f.db.Create(&rep).Error)
		full.Replaceables = append(full.Replaceables, rep)
	}
	return full
}

func (f *engineFixture) readBalance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, f.db.Raw(
		`SELECT balance FROM customer_entitlements WHERE id = ?`, id,
	).Scan(&balance).Error)
	return balance
}

func (f *engineFixture) countLive(t *testing.T, entID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(1) FROM replaceables WHERE customer_entitlement_id = ? AND deleted_at IS NULL`, entID,
	).Scan(&count).Error)
	return count
}

func TestAdjustBalanceCreatesSlotsForNewOverage(t *testing.T) {
	f := newEngineFixture(t)
	ent := f.seedEntitlement(t, -5, 5)

	adj, err := f.engine.AdjustBalance(f.ctx, ent, -5, -8)
	require.NoError(t, err)

	require.Len(t, adj.CreatedReplaceables, 3)
	require.Empty(t, adj.DeletedReplaceables)
	// Created slots consume additional balance: -8 - 3.
	require.Equal(t, int64(-11), adj.PersistedBalance)
	require.Equal(t, int64(-11), f.readBalance(t, ent.ID))
	require.Equal(t, int64(8), f.countLive(t, ent.ID))
}

func TestAdjustBalanceReleasesSlotsOnRecovery(t *testing.T) {
	f := newEngineFixture(t)
	ent := f.seedEntitlement(t, -8, 8)

	adj, err := f.engine.AdjustBalance(f.ctx, ent, -8, -2)
	require.NoError(t, err)

	require.Empty(t, adj.CreatedReplaceables)
	require.Len(t, adj.DeletedReplaceables, 6)
	require.Equal(t, int64(4), adj.PersistedBalance)
	require.Equal(t, int64(4), f.readBalance(t, ent.ID))
	require.Equal(t, int64(2), f.countLive(t, ent.ID))
}

func TestAdjustBalanceNoChangeWhenCovered(t *testing.T) {
	f := newEngineFixture(t)
	ent := f.seedEntitlement(t, 10, 0)

	adj, err := f.engine.AdjustBalance(f.ctx, ent, 10, 3)
	require.NoError(t, err)

	require.Empty(t, adj.CreatedReplaceables)
	require.Empty(t, adj.DeletedReplaceables)
	require.Equal(t, int64(3), adj.PersistedBalance)
	require.Equal(t, int64(3), f.readBalance(t, ent.ID))
	require.Equal(t, int64(0), f.countLive(t, ent.ID))
}

func TestAdjustBalanceRequiresOrgScope(t *testing.T) {
	f := newEngineFixture(t)
	ent := f.seedEntitlement(t, 0, 0)

	_, err := f.engine.AdjustBalance(context.Background(), ent, 0, -1)
	require.ErrorIs(t, err, cusproductdomain.ErrInvalidOrganization)
}
