package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLocker(t *testing.T) (*CustomerLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewCustomerLocker(client, node, zap.NewNop(), 5*time.Second), mr
}

func TestAcquireIsExclusivePerCustomer(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	orgID := snowflake.ID(100)
	customerID := snowflake.ID(200)

	release, err := locker.Acquire(ctx, orgID, customerID)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, orgID, customerID)
	require.ErrorIs(t, err, ErrCustomerBusy)

	// A different customer is unaffected.
	releaseOther, err := locker.Acquire(ctx, orgID, snowflake.ID(201))
	require.NoError(t, err)
	releaseOther()

	release()

	release2, err := locker.Acquire(ctx, orgID, customerID)
	require.NoError(t, err)
	release2()
}

func TestReleaseIgnoresStolenLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	orgID := snowflake.ID(100)
	customerID := snowflake.ID(200)

	release, err := locker.Acquire(ctx, orgID, customerID)
	require.NoError(t, err)

	// Simulate TTL expiry followed by another holder.
	mr.FastForward(10 * time.Second)
	_, err = locker.Acquire(ctx, orgID, customerID)
	require.NoError(t, err)

	// The stale release must not delete the new holder's lock.
	release()
	_, err = locker.Acquire(ctx, orgID, customerID)
	require.ErrorIs(t, err, ErrCustomerBusy)
}
