package reconcile

import (
	"context"
	"strings"

	"github.com/medistore/payments/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.reconcile",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(New),
	fx.Invoke(RegisterSweeper),
)

// NewRedisClient returns nil when no address is configured; the sweeper
// then runs unlocked, which is only safe with a single replica.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewLocker(client *redis.Client) Locker {
	if client == nil {
		return nil
	}
	return NewRedisLocker(client)
}

func RegisterSweeper(lc fx.Lifecycle, log *zap.Logger, client *redis.Client, sweeper *Sweeper) {
	if client == nil {
		log.Named("payment.sweeper").Warn("redis not configured, sweeper runs without a lock")
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sweeper.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
