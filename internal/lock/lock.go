// Package lock serializes billing-plan execution per customer. The
// ledger invariants (one main product per group, balance accounting)
// only hold when at most one plan runs for a customer at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCustomerBusy = errors.New("customer_busy")

// releaseScript deletes the lock only when the stored token matches,
// so a slow holder cannot release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type CustomerLocker struct {
	client *redis.Client
	genID  *snowflake.Node
	log    *zap.Logger
	ttl    time.Duration
}

func NewCustomerLocker(client *redis.Client, genID *snowflake.Node, log *zap.Logger, ttl time.Duration) *CustomerLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CustomerLocker{
		client: client,
		genID:  genID,
		log:    log.Named("lock.customer"),
		ttl:    ttl,
	}
}

func lockKey(orgID, customerID snowflake.ID) string {
	return fmt.Sprintf("attach:lock:%s:%s", orgID.String(), customerID.String())
}

// Acquire takes the customer lock or fails fast with ErrCustomerBusy.
// It returns a release func that is safe to call exactly once.
func (l *CustomerLocker) Acquire(ctx context.Context, orgID, customerID snowflake.ID) (func(), error) {
	key := lockKey(orgID, customerID)
	token := l.genID.Generate().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire customer lock: %w", err)
	}
	if !ok {
		return nil, ErrCustomerBusy
	}

	release := func() {
		// Release should survive caller cancellation.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release customer lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return release, nil
}
