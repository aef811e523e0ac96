package lock

import (
	"github.com/accordbilling/accord/internal/config"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(func(client *redis.Client, genID *snowflake.Node, log *zap.Logger, cfg config.Config) *CustomerLocker {
		return NewCustomerLocker(client, genID, log, cfg.Attach.LockTTL)
	}),
)
