package symbols

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/metrics"
)

type RedisStore struct {
	client *redis.Client
	jitter time.Duration
}

func NewRedisStore(c *redis.Client) *RedisStore {
	return &RedisStore{client: c, jitter: time.Minute}
}

func (r *RedisStore) Get(ctx context.Context, exchange string, market topic.MarketType) ([]model.SymbolInfo, bool, error) {
	key := cacheKey(exchange, market)

	start := time.Now()
	b, err := r.client.Get(ctx, key).Bytes()
	metrics.ObserveRedis("get", start, err)
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var infos []model.SymbolInfo
	if err := json.Unmarshal(b, &infos); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, key).Err()
		return nil, false, err
	}
	return infos, true, nil
}

func (r *RedisStore) Set(ctx context.Context, exchange string, market topic.MarketType, infos []model.SymbolInfo, ttl time.Duration) error {
	b, err := json.Marshal(infos)
	if err != nil {
		return err
	}
	// 加随机时间，避免所有交易所同时过期
	start := time.Now()
	err = r.client.Set(ctx, cacheKey(exchange, market), b, withJitter(ttl, r.jitter)).Err()
	metrics.ObserveRedis("set", start, err)
	return err
}
