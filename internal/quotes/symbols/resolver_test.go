package symbols

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/xerr"
)

type fakeSource struct {
	calls atomic.Int32
	delay time.Duration
	infos []model.SymbolInfo
	err   error
}

func (f *fakeSource) FetchSymbols(_ context.Context, market topic.MarketType) ([]model.SymbolInfo, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.SymbolInfo, len(f.infos))
	for i, s := range f.infos {
		s.Market = string(market)
		out[i] = s
	}
	return out, nil
}

func infos(names ...string) []model.SymbolInfo {
	out := make([]model.SymbolInfo, len(names))
	for i, n := range names {
		out[i] = model.SymbolInfo{Symbol: n, Status: model.StatusTrading, TickSize: model.Dec("0.01")}
	}
	return out
}

func TestResolver_CachesAndRefreshes(t *testing.T) {
	src := &fakeSource{infos: infos("ETHUSDT", "BTCUSDT")}
	r := NewResolver(NewMemStore(), time.Hour)
	r.Register("toobit", src)
	ctx := context.Background()

	names, err := r.Resolve(ctx, "toobit", topic.Spot)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, names, "排好序")

	_, err = r.Resolve(ctx, "toobit", topic.Spot)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "第二次命中缓存")

	got, err := r.Lookup(ctx, "toobit", topic.Spot, true)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), src.calls.Load(), "refresh 绕过缓存")

	_, err = r.Resolve(ctx, "toobit", topic.Contract)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load(), "不同市场类型各自缓存")
}

func TestResolver_SingleflightCollapsesMisses(t *testing.T) {
	src := &fakeSource{infos: infos("BTCUSDT"), delay: 50 * time.Millisecond}
	r := NewResolver(nil, time.Hour)
	r.Register("binance", src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names, err := r.Resolve(context.Background(), "binance", topic.Spot)
			assert.NoError(t, err)
			assert.Equal(t, []string{"BTCUSDT"}, names)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestResolver_Errors(t *testing.T) {
	r := NewResolver(nil, time.Hour)
	_, err := r.Resolve(context.Background(), "okx", topic.Spot)
	assert.Equal(t, xerr.UnsupportedExchange, xerr.CodeOf(err))

	boom := errors.New("exchangeInfo 500")
	r.Register("toobit", &fakeSource{err: boom})
	_, err = r.Resolve(context.Background(), "toobit", topic.Spot)
	assert.ErrorIs(t, err, boom)
}

func TestResolver_EmptyNotCached(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(nil, time.Hour)
	r.Register("toobit", src)

	for i := 0; i < 2; i++ {
		names, err := r.Resolve(context.Background(), "toobit", topic.Spot)
		require.NoError(t, err)
		assert.Empty(t, names)
	}
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestMemStore_Expiry(t *testing.T) {
	s := NewMemStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "toobit", topic.Spot, infos("A"), time.Minute))
	got, ok, err := s.Get(ctx, "toobit", topic.Spot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", got[0].Symbol)

	now = now.Add(time.Minute)
	_, ok, _ = s.Get(ctx, "toobit", topic.Spot)
	assert.False(t, ok)
}

func TestCacheKeyAndJitter(t *testing.T) {
	assert.Equal(t, "quotes:symbols:toobit:contract", cacheKey("toobit", topic.Contract))
	for i := 0; i < 20; i++ {
		d := withJitter(time.Hour, time.Minute)
		assert.GreaterOrEqual(t, d, time.Hour)
		assert.Less(t, d, time.Hour+time.Minute)
	}
	assert.Equal(t, time.Hour, withJitter(time.Hour, 0))
}
