package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/xerr"
)

type fakeAdapter struct {
	id int

	mu    sync.Mutex
	subs  map[string]int // "ch:sym" → 调用次数
	unsub map[string]int
	stops int
	fail  map[string]error // 这些 key 的 Subscribe 直接失败

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeAdapter(id int) *fakeAdapter {
	return &fakeAdapter{id: id, subs: map[string]int{}, unsub: map[string]int{}, done: make(chan struct{})}
}

func ek(sym topic.Symbol, ch topic.Channel) string { return string(ch) + ":" + sym.String() }

func (a *fakeAdapter) Subscribe(_ context.Context, sym topic.Symbol, ch topic.Channel) error {
	select {
	case <-a.done:
		return feed.ErrStopped
	default:
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs[ek(sym, ch)]++
	return a.fail[ek(sym, ch)]
}

func (a *fakeAdapter) Unsubscribe(_ context.Context, sym topic.Symbol, ch topic.Channel) error {
	a.mu.Lock()
	a.unsub[ek(sym, ch)]++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Stop() error {
	a.mu.Lock()
	a.stops++
	a.mu.Unlock()
	a.die()
	return nil
}

func (a *fakeAdapter) die()                  { a.doneOnce.Do(func() { close(a.done) }) }
func (a *fakeAdapter) Done() <-chan struct{} { return a.done }
func (a *fakeAdapter) Mode() feed.Source     { return feed.SourcePush }

func (a *fakeAdapter) counts() (subs, unsub map[string]int, stops int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, u := map[string]int{}, map[string]int{}
	for k, v := range a.subs {
		s[k] = v
	}
	for k, v := range a.unsub {
		u[k] = v
	}
	return s, u, a.stops
}

type fakeFactory struct {
	mu       sync.Mutex
	created  []*fakeAdapter
	failWith error
	failSub  map[string]error
}

func (f *fakeFactory) New(g topic.Group) (feed.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	a := newFakeAdapter(len(f.created))
	a.fail = f.failSub
	f.created = append(f.created, a)
	return a, nil
}

func (f *fakeFactory) last() *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeSub struct{ id string }

func (s fakeSub) ID() string                         { return s.id }
func (s fakeSub) Send(context.Context, []byte) error { return nil }

func key(sym string) topic.Key {
	return topic.NewKey("toobit", topic.Contract, topic.ParseSymbol(sym), topic.Ticker)
}

var group = topic.Group{Exchange: "toobit", Market: topic.Contract, Channel: topic.Ticker}

func TestRegistry_DedupUpstreamSubscriptions(t *testing.T) {
	f := &fakeFactory{}
	r := New(f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sub := fakeSub{id: fmt.Sprintf("s%d", i)}
		require.NoError(t, r.Add(ctx, sub, key("BTC-SWAP-USDT")))
		require.NoError(t, r.Add(ctx, sub, key("BTC-SWAP-USDT")), "重复登记无副作用")
	}
	require.Equal(t, 1, f.count(), "一个 group 一个 adapter")
	subs, _, _ := f.last().counts()
	assert.Equal(t, map[string]int{"ticker:BTC-SWAP-USDT": 1}, subs, "上游只订一次")
	assert.Len(t, r.Subscribers(key("BTC-SWAP-USDT")), 5)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Remove(ctx, fakeSub{id: fmt.Sprintf("s%d", i)}, key("BTC-SWAP-USDT")))
	}
	_, unsub, stops := f.last().counts()
	assert.Empty(t, unsub, "还有人订着不退订")
	assert.Zero(t, stops)

	require.NoError(t, r.Remove(ctx, fakeSub{id: "s4"}, key("BTC-SWAP-USDT")))
	_, unsub, stops = f.last().counts()
	assert.Equal(t, 1, unsub["ticker:BTC-SWAP-USDT"])
	assert.Equal(t, 1, stops, "group 空了就停")
	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_FreshAdapterAfterIdle(t *testing.T) {
	f := &fakeFactory{}
	r := New(f)
	ctx := context.Background()
	a := fakeSub{id: "a"}

	require.NoError(t, r.Add(ctx, a, key("*")))
	require.NoError(t, r.Remove(ctx, a, key("*")))
	first := f.last()

	require.NoError(t, r.Add(ctx, a, key("ETH-SWAP-USDT")))
	require.Equal(t, 2, f.count())
	second := f.last()
	assert.NotSame(t, first, second)
	subs, _, _ := second.counts()
	assert.Equal(t, map[string]int{"ticker:ETH-SWAP-USDT": 1}, subs, "新 adapter 不带旧的订阅")
}

func TestRegistry_DeadAdapterReplaced(t *testing.T) {
	f := &fakeFactory{}
	r := New(f)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, fakeSub{id: "a"}, key("*")))
	f.last().die() // 启动期致命错误，任务自己结束了

	require.NoError(t, r.Add(ctx, fakeSub{id: "b"}, key("BTC-SWAP-USDT")))
	require.Equal(t, 2, f.count())
	subs, _, _ := f.last().counts()
	assert.Equal(t, map[string]int{"ticker:*": 1, "ticker:BTC-SWAP-USDT": 1}, subs, "活跃 key 全部重订")
	got, ok := r.Adapter(group)
	require.True(t, ok)
	assert.Same(t, f.last(), got)
}

func TestRegistry_FactoryFailureRollsBack(t *testing.T) {
	f := &fakeFactory{failWith: xerr.NewErrCode(xerr.UnsupportedChannel)}
	r := New(f)
	sub := fakeSub{id: "a"}

	err := r.Add(context.Background(), sub, key("BTC-SWAP-USDT"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.NewErrCode(xerr.UnsupportedChannel)))
	assert.Empty(t, r.Subscribers(key("BTC-SWAP-USDT")))
	assert.Empty(t, r.Keys(sub))
	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_SubscribeFailureWithdrawsKey(t *testing.T) {
	f := &fakeFactory{failSub: map[string]error{"ticker:*": errors.New("exchangeInfo down")}}
	r := New(f)
	ctx := context.Background()
	a, b := fakeSub{id: "a"}, fakeSub{id: "b"}

	require.NoError(t, r.Add(ctx, a, key("BTC-SWAP-USDT")))
	err := r.Add(ctx, b, key("*"))
	require.Error(t, err)

	_, unsub, stops := f.last().counts()
	assert.Equal(t, 1, unsub["ticker:*"], "失败的 key 要从 adapter 撤掉")
	assert.Zero(t, unsub["ticker:BTC-SWAP-USDT"])
	assert.Zero(t, stops, "别的 key 还活着，adapter 不停")
	assert.Empty(t, r.Keys(b))
	assert.Empty(t, r.Subscribers(key("*")))
	assert.Len(t, r.Subscribers(key("BTC-SWAP-USDT")), 1)

	// 唯一的 key 失败时 group 整个回收
	f2 := &fakeFactory{failSub: map[string]error{"ticker:*": errors.New("exchangeInfo down")}}
	r2 := New(f2)
	require.Error(t, r2.Add(ctx, b, key("*")))
	_, unsub, stops = f2.last().counts()
	assert.Equal(t, 1, unsub["ticker:*"])
	assert.Equal(t, 1, stops)
	assert.Equal(t, Stats{}, r2.Stats())
}

func TestRegistry_RemoveAllAndMatching(t *testing.T) {
	f := &fakeFactory{}
	r := New(f)
	ctx := context.Background()
	a, b := fakeSub{id: "a"}, fakeSub{id: "b"}

	assert.Zero(t, r.RemoveAll(ctx, a), "没有登记也安全")

	binanceKey := topic.NewKey("binance", topic.Spot, topic.Concrete("BTCUSDT"), topic.Ticker)
	require.NoError(t, r.Add(ctx, a, key("*")))
	require.NoError(t, r.Add(ctx, a, key("BTC-SWAP-USDT")))
	require.NoError(t, r.Add(ctx, a, binanceKey))
	require.NoError(t, r.Add(ctx, b, key("BTC-SWAP-USDT")))
	assert.Equal(t, Stats{Topics: 3, Subscribers: 2, Adapters: 2}, r.Stats())

	n := r.RemoveMatching(ctx, a, func(k topic.Key) bool { return k.Exchange == "binance" })
	assert.Equal(t, 1, n)
	assert.Empty(t, r.Subscribers(binanceKey))
	assert.Equal(t, 1, r.Stats().Adapters)

	assert.Equal(t, 2, r.RemoveAll(ctx, a))
	assert.Empty(t, r.Keys(a))
	assert.Empty(t, r.Subscribers(key("*")))
	assert.Len(t, r.Subscribers(key("BTC-SWAP-USDT")), 1, "b 不受影响")
}

func TestRegistry_SubscribersDedupAcrossKeys(t *testing.T) {
	r := New(&fakeFactory{})
	ctx := context.Background()
	a, b := fakeSub{id: "a"}, fakeSub{id: "b"}

	require.NoError(t, r.Add(ctx, a, key("*")))
	require.NoError(t, r.Add(ctx, a, key("BTC-SWAP-USDT")))
	require.NoError(t, r.Add(ctx, b, key("BTC-SWAP-USDT")))

	got := r.Subscribers(key("BTC-SWAP-USDT"), key("*"))
	ids := []string{}
	for _, s := range got {
		ids = append(ids, s.ID())
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Len(t, r.Subscribers(key("ETH-SWAP-USDT"), key("*")), 1)
}

func TestRegistry_Close(t *testing.T) {
	f := &fakeFactory{}
	r := New(f)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, fakeSub{id: "a"}, key("*")))

	r.Close(ctx)
	_, _, stops := f.last().counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	f := &fakeFactory{}
	r := New(f)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := fakeSub{id: fmt.Sprintf("s%d", i)}
			k := key(fmt.Sprintf("S%d", i%5))
			assert.NoError(t, r.Add(ctx, sub, k))
			_ = r.Subscribers(k)
			assert.NoError(t, r.Remove(ctx, sub, k))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, Stats{}, r.Stats())
}
