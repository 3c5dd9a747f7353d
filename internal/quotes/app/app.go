// Package app 行情网关的组装：配置 → 基础设施 → 组件，负责启动和优雅退出。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"quotehub.com/internal/quotes/api"
	"quotehub.com/internal/quotes/broadcast"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/gateway"
	"quotehub.com/internal/quotes/registry"
	"quotehub.com/internal/quotes/symbols"
	"quotehub.com/internal/quotes/ws"
	vipConfig "quotehub.com/pkg/config"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/metrics"
	"quotehub.com/pkg/orm"
	"quotehub.com/pkg/ratelimit"
	"quotehub.com/pkg/register"
	"quotehub.com/pkg/register/etcd"
	"quotehub.com/pkg/trace"
	"quotehub.com/pkg/xredis"
)

type App struct {
	name string
	cfg  *Config

	db            *gorm.DB
	rdb           *redis.Client
	broker        gateway.Broker
	etcdClient    *clientv3.Client
	etcdReg       *etcd.EtcdRegister
	instance      *register.Instance
	traceShutdown func(context.Context) error

	resolver *symbols.Resolver
	factory  *feed.Factory
	bc       *broadcast.Broadcaster
	registry *registry.Registry
	wsServer *ws.Server
	wsCancel context.CancelFunc
	http     *http.Server
}

// New 读配置并初始化日志，配置热更新时同步日志级别
func New(service string) (*App, error) {
	cfg := &Config{}
	if _, err := vipConfig.LoadAndWatch(service, cfg, func() {
		if !logger.SetLevel(cfg.Log.Level) {
			logger.Warn(context.Background(), "ignore invalid log level", zap.String("level", cfg.Log.Level))
		}
	}); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = service
	}
	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	return &App{name: cfg.Name, cfg: cfg}, nil
}

// Setup 按依赖顺序建好全部组件，出错时已建好的资源由 Close 释放
func (a *App) Setup(ctx context.Context) error {
	if err := a.startTrace(ctx); err != nil {
		return err
	}
	store, err := a.symbolStore(ctx)
	if err != nil {
		return err
	}
	a.resolver = symbols.NewResolver(store, a.cfg.Symbols.TTL)

	exchanges, err := buildExchanges(a.cfg.Exchanges, a.resolver)
	if err != nil {
		return err
	}

	// Broadcaster 先建出来当 sink，Registry 建好后再挂回去
	a.bc = broadcast.New(a.cfg.Broadcast)
	a.factory = feed.NewFactory(ctx, a.bc, a.resolver, a.cfg.Feed, exchanges...)
	a.registry = registry.New(a.factory)
	a.bc.Attach(a.registry)

	if err := a.startBroker(); err != nil {
		return err
	}

	wsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.wsCancel = cancel
	a.wsServer = ws.NewServer(wsCtx, a.registry, a.factory, a.cfg.WS)

	var nodes api.NodeLister
	if a.cfg.Etcd.Enabled {
		if err := a.startEtcd(); err != nil {
			return err
		}
		nodes = etcd.NewDiscovery(a.etcdClient, a.cfg.Etcd.BasePath)
	}

	burst := a.cfg.HTTP.Burst
	if burst <= 0 {
		burst = 100
	}
	limiter := ratelimit.NewStore("http", rate.Limit(orDefault(a.cfg.HTTP.RPS, 50)), burst, 10*time.Minute)
	limiter.StartJanitor(wsCtx, time.Minute)

	router := api.NewRouter(api.Deps{
		Service: a.name,
		Symbols: a.resolver,
		Health:  a.health,
		Nodes:   nodes,
		WS:      a.wsServer,
		Limiter: limiter,
		Tracing: a.cfg.Trace.Enabled,
	})
	a.http = api.NewServer(a.cfg.Server, router)

	logger.Info(ctx, "quote gateway ready",
		zap.Strings("exchanges", a.factory.Exchanges()),
		zap.String("addr", a.cfg.Server.Addr))
	return nil
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func (a *App) health() (registry.Stats, int, []string) {
	return a.registry.Stats(), a.wsServer.Sessions(), a.factory.Exchanges()
}

// Run 阻塞到 ctx 结束或 http 服务出错，然后按顺序退出
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "http server listening", zap.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.etcdReg != nil {
		g.Go(func() error {
			if err := a.etcdReg.Register(gctx, a.instance); err != nil {
				logger.Error(gctx, "register gateway node failed", zap.Error(err))
			}
			return nil
		})
	}

	if a.db != nil || a.rdb != nil {
		g.Go(func() error {
			a.collectPools(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})
	return g.Wait()
}

func (a *App) collectPools(ctx context.Context) {
	var sqlDB *sql.DB
	if a.db != nil {
		sqlDB, _ = a.db.DB()
	}
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		metrics.CollectPools(sqlDB, a.rdb)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// shutdown 先停止接新连接，再断开全部会话（会话退出时撤订阅），最后停 adapter
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.etcdReg != nil && a.instance != nil {
		if err := a.etcdReg.UnRegister(ctx, a.instance); err != nil {
			logger.Warn(ctx, "unregister gateway node failed", zap.Error(err))
		}
	}
	if err := a.http.Shutdown(ctx); err != nil {
		logger.Warn(ctx, "http shutdown", zap.Error(err))
	}
	a.wsCancel()
	a.wsServer.Wait()
	a.registry.Close(ctx)
	logger.Info(ctx, "quote gateway stopped", zap.Any("stats", a.registry.Stats()))
}

// Close 释放基础设施，Run 返回后调用
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.broker != nil {
		_ = a.broker.Close()
	}
	if a.etcdClient != nil {
		_ = a.etcdClient.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.traceShutdown != nil {
		_ = a.traceShutdown(ctx)
	}
	logger.Sync()
}

func (a *App) startTrace(ctx context.Context) error {
	if !a.cfg.Trace.Enabled {
		return nil
	}
	shutdown, err := trace.InitTrace(ctx, a.name, a.cfg.Trace)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.traceShutdown = shutdown
	return nil
}

func (a *App) symbolStore(ctx context.Context) (symbols.Store, error) {
	switch a.cfg.Symbols.Store {
	case "", StoreMemory:
		return symbols.NewMemStore(), nil
	case StoreMySQL:
		db, err := orm.NewMySQL(&a.cfg.MySQL)
		if err != nil {
			return nil, err
		}
		a.db = db
		store := symbols.NewGormStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate symbol cache: %w", err)
		}
		return store, nil
	case StoreRedis:
		rdb, err := xredis.NewRedis(&a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		return symbols.NewRedisStore(rdb), nil
	default:
		return nil, fmt.Errorf("unknown symbols.store %q", a.cfg.Symbols.Store)
	}
}

func (a *App) startBroker() error {
	if !a.cfg.Nats.Enabled {
		return nil
	}
	b, err := gateway.NewNatsBroker(a.cfg.Nats)
	if err != nil {
		return err
	}
	a.broker = b
	a.bc.Mirror(b)
	return nil
}

func (a *App) startEtcd() error {
	c := a.cfg.Etcd
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.BasePath == "" {
		c.BasePath = "/quotehub"
	}
	a.cfg.Etcd = c

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: c.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}
	a.etcdClient = cli
	a.etcdReg = etcd.NewEtcdRegister(cli, c.BasePath, c.TTL)

	addr := c.Advertise
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	a.instance = &register.Instance{
		ID:   addr,
		Name: a.name,
		Addr: addr,
		MetaData: map[string]string{
			"ws":        "/ws",
			"exchanges": strings.Join(a.factory.Exchanges(), ","),
		},
	}
	return nil
}
