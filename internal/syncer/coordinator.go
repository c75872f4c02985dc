package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
)

// Удаляем блокировку, только если она всё ещё наша
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisCoordinator не даёт двум синхронизаторам работать одновременно
// и уведомляет консоли о новом снимке.
type RedisCoordinator struct {
	rdb   *redis.Client
	ttl   time.Duration
	owner string
}

func NewRedisCoordinator(rdb *redis.Client, ttl time.Duration) *RedisCoordinator {
	return &RedisCoordinator{rdb: rdb, ttl: ttl, owner: uuid.NewString()}
}

func (c *RedisCoordinator) Acquire(ctx context.Context) (bool, error) {
	return c.rdb.SetNX(ctx, infra.RedisKeyLockSync, c.owner, c.ttl).Result()
}

func (c *RedisCoordinator) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, c.rdb, []string{infra.RedisKeyLockSync}, c.owner).Err()
}

func (c *RedisCoordinator) PublishRefresh(ctx context.Context, runID string) error {
	return c.rdb.Publish(ctx, infra.RedisChanDashboardRefresh, runID).Err()
}

// ListenRequests превращает запросы из Redis в канал для Loop.
// Буфер на один запрос: пачка запросов во время прогона схлопывается в один.
func ListenRequests(ctx context.Context, rdb *redis.Client, logger *zap.Logger) <-chan string {
	out := make(chan string, 1)
	go func() {
		defer close(out)
		engine.ListenSignalResilient(ctx, rdb, logger, infra.RedisChanSyncRequest, nil,
			func(payload string) {
				if !offerRequest(out, payload) {
					logger.Debug("sync request coalesced", zap.String("by", payload))
				}
			})
	}()
	return out
}

// offerRequest кладёт запрос, если в буфере есть место; иначе запрос уже ждёт.
func offerRequest(out chan<- string, by string) bool {
	select {
	case out <- by:
		return true
	default:
		return false
	}
}
