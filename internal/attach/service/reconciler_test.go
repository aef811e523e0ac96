package service

import (
	"testing"

	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qty(n int64) *int64 { return &n }

func TestReconcileItemsIdempotentOnUnchangedTarget(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_seats", Quantity: qty(3)},
		{ID: "si_2", PriceID: "price_usage"},
	}

	changes := ReconcileItems(current, nil, nil, nil)
	assert.Empty(t, changes)
}

func TestReconcileItemsAddsMissingPrice(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_seats", Quantity: qty(1)},
	}
	toAdd := []ItemSpec{
		{ProcessorPriceID: "price_storage", Quantity: qty(2)},
	}

	changes := ReconcileItems(current, toAdd, nil, nil)
	require.Len(t, changes, 1)
	assert.Equal(t, processordomain.ItemOpAdd, changes[0].Op)
	assert.Equal(t, "price_storage", changes[0].PriceID)
	require.NotNil(t, changes[0].Quantity)
	assert.EqualValues(t, 2, *changes[0].Quantity)
}

func TestReconcileItemsAccumulatesQuantityOnSharedPrice(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_seats", Quantity: qty(1)},
	}
	toAdd := []ItemSpec{
		{ProcessorPriceID: "price_seats", Quantity: qty(2)},
	}

	changes := ReconcileItems(current, toAdd, nil, nil)
	require.Len(t, changes, 1)
	assert.Equal(t, processordomain.ItemOpUpdate, changes[0].Op)
	assert.Equal(t, "si_1", changes[0].ItemID)
	require.NotNil(t, changes[0].Quantity)
	assert.EqualValues(t, 3, *changes[0].Quantity)
}

func TestReconcileItemsConsumableAddIsNotDoubled(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_pool", Quantity: qty(1)},
	}
	toAdd := []ItemSpec{
		{ProcessorPriceID: "price_pool", Quantity: qty(1), Consumable: true},
	}

	changes := ReconcileItems(current, toAdd, nil, nil)
	assert.Empty(t, changes)
}

func TestReconcileItemsConsumableRemoveKeepsSharedPrice(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_pool", Quantity: qty(1)},
	}
	toRemove := []ItemSpec{
		{ProcessorPriceID: "price_pool", Quantity: qty(1), Consumable: true},
	}

	// Another customer product still references the pooled price.
	changes := ReconcileItems(current, nil, toRemove, map[string]int{"price_pool": 1})
	assert.Empty(t, changes)

	// Last reference gone: the line is deleted.
	changes = ReconcileItems(current, nil, toRemove, map[string]int{})
	require.Len(t, changes, 1)
	assert.Equal(t, processordomain.ItemOpDelete, changes[0].Op)
	assert.Equal(t, "si_1", changes[0].ItemID)
}

func TestReconcileItemsPartialRemoveUpdatesQuantity(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_seats", Quantity: qty(5)},
	}
	toRemove := []ItemSpec{
		{ProcessorPriceID: "price_seats", Quantity: qty(2)},
	}

	changes := ReconcileItems(current, nil, toRemove, nil)
	require.Len(t, changes, 1)
	assert.Equal(t, processordomain.ItemOpUpdate, changes[0].Op)
	require.NotNil(t, changes[0].Quantity)
	assert.EqualValues(t, 3, *changes[0].Quantity)
}

func TestReconcileItemsRemoveToZeroDeletes(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_seats", Quantity: qty(2)},
		{ID: "si_2", PriceID: "price_other", Quantity: qty(1)},
	}
	toRemove := []ItemSpec{
		{ProcessorPriceID: "price_seats", Quantity: qty(2)},
	}

	changes := ReconcileItems(current, nil, toRemove, nil)
	require.Len(t, changes, 1)
	assert.Equal(t, processordomain.ItemOpDelete, changes[0].Op)
	assert.Equal(t, "si_1", changes[0].ItemID)
}

func TestReconcileItemsMeteredPresenceOnly(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_usage"},
	}
	toAdd := []ItemSpec{
		{ProcessorPriceID: "price_usage"},
	}

	changes := ReconcileItems(current, toAdd, nil, nil)
	assert.Empty(t, changes)
}

func TestReconcileItemsSwapReplacesOldWithNew(t *testing.T) {
	current := []processordomain.SubscriptionItem{
		{ID: "si_1", PriceID: "price_starter", Quantity: qty(1)},
	}
	toAdd := []ItemSpec{
		{ProcessorPriceID: "price_pro", Quantity: qty(1)},
	}
	toRemove := []ItemSpec{
		{ProcessorPriceID: "price_starter", Quantity: qty(1)},
	}

	changes := ReconcileItems(current, toAdd, toRemove, nil)
	require.Len(t, changes, 2)

	ops := map[processordomain.ItemOp]processordomain.ItemChange{}
	for _, change := range changes {
		ops[change.Op] = change
	}
	assert.Equal(t, "price_pro", ops[processordomain.ItemOpAdd].PriceID)
	assert.Equal(t, "si_1", ops[processordomain.ItemOpDelete].ItemID)
}
