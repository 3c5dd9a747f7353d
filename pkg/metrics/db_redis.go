package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_open", Help: "Current open DB connections"})
	DbPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_idle"})
	DbPoolInuse = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_inuse"})

	RedisPoolTotal = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_total"})
	RedisPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})

	DbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_db_query_duration_seconds",
		Help:    "DB query latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms ~ 16s
	}, []string{"query", "status"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "app_redis_cmd_duration_seconds",
		Help:    "Redis command latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"cmd", "status"})
)

// ObserveDB 记录一次查询耗时
func ObserveDB(query string, start time.Time, err error) {
	DbQueryDuration.WithLabelValues(query, status(err)).Observe(time.Since(start).Seconds())
}

// ObserveRedis 记录一次 redis 命令耗时，redis.Nil 不算错误
func ObserveRedis(cmd string, start time.Time, err error) {
	if err == redis.Nil {
		err = nil
	}
	RedisCmdDuration.WithLabelValues(cmd, status(err)).Observe(time.Since(start).Seconds())
}

// CollectPools 周期性调用，把连接池状态刷到 gauge；参数可为 nil
func CollectPools(db *sql.DB, rdb *redis.Client) {
	if db != nil {
		st := db.Stats()
		DbPoolOpen.Set(float64(st.OpenConnections))
		DbPoolIdle.Set(float64(st.Idle))
		DbPoolInuse.Set(float64(st.InUse))
	}
	if rdb != nil {
		st := rdb.PoolStats()
		RedisPoolTotal.Set(float64(st.TotalConns))
		RedisPoolIdle.Set(float64(st.IdleConns))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
