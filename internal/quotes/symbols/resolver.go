// Package symbols 全市场品种列表：交易所 exchangeInfo 为源，TTL 缓存，singleflight 合并并发回源。
package symbols

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/xerr"
)

// Source 一个交易所的 exchangeInfo
type Source interface {
	FetchSymbols(ctx context.Context, market topic.MarketType) ([]model.SymbolInfo, error)
}

type Resolver struct {
	store Store
	ttl   time.Duration
	sf    singleflight.Group

	mu      sync.RWMutex
	sources map[string]Source
}

var _ feed.Resolver = (*Resolver)(nil)

// NewResolver store 为 nil 时用进程内缓存
func NewResolver(store Store, ttl time.Duration) *Resolver {
	if store == nil {
		store = NewMemStore()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Resolver{store: store, ttl: ttl, sources: make(map[string]Source)}
}

func (r *Resolver) Register(exchange string, src Source) {
	r.mu.Lock()
	r.sources[exchange] = src
	r.mu.Unlock()
}

func (r *Resolver) source(exchange string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[exchange]
	return s, ok
}

// Resolve 只要品种名，给 adapter 展开全市场用
func (r *Resolver) Resolve(ctx context.Context, exchange string, market topic.MarketType) ([]string, error) {
	infos, err := r.Lookup(ctx, exchange, market, false)
	if err != nil {
		return nil, err
	}
	names := model.Names(infos)
	sort.Strings(names)
	return names, nil
}

// Lookup refresh=true 跳过缓存直接回源，回源结果照样写缓存
func (r *Resolver) Lookup(ctx context.Context, exchange string, market topic.MarketType, refresh bool) ([]model.SymbolInfo, error) {
	src, ok := r.source(exchange)
	if !ok {
		return nil, xerr.Newf(xerr.UnsupportedExchange, "unsupported exchange %q", exchange)
	}

	if !refresh {
		infos, hit, err := r.store.Get(ctx, exchange, market)
		if err != nil {
			// 缓存坏了不影响回源
			logger.Warn(ctx, "symbol cache get failed", zap.String("exchange", exchange),
				zap.String("market_type", string(market)), zap.Error(err))
		}
		if hit {
			return infos, nil
		}
	}

	key := fmt.Sprintf("%s:%s:%t", exchange, market, refresh)
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		infos, err := src.FetchSymbols(ctx, market)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			// 空列表不缓存，下次再试
			return infos, nil
		}
		if err := r.store.Set(ctx, exchange, market, infos, r.ttl); err != nil {
			logger.Warn(ctx, "symbol cache set failed", zap.String("exchange", exchange),
				zap.String("market_type", string(market)), zap.Error(err))
		}
		logger.Info(ctx, "symbol universe loaded", zap.String("exchange", exchange),
			zap.String("market_type", string(market)), zap.Int("count", len(infos)))
		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]model.SymbolInfo)), nil
}
