package symbols

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/topic"
)

// Store 品种列表缓存。ok=false 表示没有或已过期。
type Store interface {
	Get(ctx context.Context, exchange string, market topic.MarketType) ([]model.SymbolInfo, bool, error)
	Set(ctx context.Context, exchange string, market topic.MarketType, infos []model.SymbolInfo, ttl time.Duration) error
}

func cacheKey(exchange string, market topic.MarketType) string {
	return fmt.Sprintf("quotes:symbols:%s:%s", exchange, market)
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	// [0, jitter)
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}

type memItem struct {
	infos    []model.SymbolInfo
	expireAt time.Time
}

// MemStore 进程内缓存，没配 mysql / redis 时用
type MemStore struct {
	mu    sync.RWMutex
	items map[string]memItem
	now   func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]memItem), now: time.Now}
}

func (s *MemStore) Get(_ context.Context, exchange string, market topic.MarketType) ([]model.SymbolInfo, bool, error) {
	s.mu.RLock()
	it, ok := s.items[cacheKey(exchange, market)]
	s.mu.RUnlock()
	if !ok || !s.now().Before(it.expireAt) {
		return nil, false, nil
	}
	return clone(it.infos), true, nil
}

func (s *MemStore) Set(_ context.Context, exchange string, market topic.MarketType, infos []model.SymbolInfo, ttl time.Duration) error {
	s.mu.Lock()
	s.items[cacheKey(exchange, market)] = memItem{infos: clone(infos), expireAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func clone(in []model.SymbolInfo) []model.SymbolInfo {
	if in == nil {
		return nil
	}
	out := make([]model.SymbolInfo, len(in))
	copy(out, in)
	return out
}
