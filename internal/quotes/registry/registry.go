// Package registry 订阅登记：topic ↔ 订阅者双向索引，外加每个 group 的 adapter 生命周期。
//
// 上游订阅只跟 topic 的有无挂钩，跟订阅者数量无关：某个 key 第一个订阅者进来才
// Subscribe，最后一个走了才 Unsubscribe；group 空了就 Stop 掉 adapter。
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/internal/quotes/wsmetrics"
	"quotehub.com/pkg/logger"
)

// Subscriber 下游连接
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
}

// Factory 为 group 创建并启动 adapter
type Factory interface {
	New(g topic.Group) (feed.Adapter, error)
}

type groupState struct {
	adapter feed.Adapter
	keys    map[topic.Key]struct{} // 已经在 adapter 上订阅的 key
}

type Stats struct {
	Topics      int
	Subscribers int
	Adapters    int
}

// Registry
// opMu 串行化所有变更，包括对 adapter 的调用和等待 Stop；
// mu 只保护索引本身，持有时间很短，Broadcaster 只拿读锁。
// adapter 的读循环在 Stop 返回前还可能在投递，两把锁分开才不会互相等死。
type Registry struct {
	factory Factory

	opMu      sync.Mutex
	groups    map[topic.Group]*groupState
	nAdapters atomic.Int64

	mu     sync.RWMutex
	topics map[topic.Key]map[string]Subscriber
	bySub  map[string]map[topic.Key]struct{}
}

func New(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		groups:  make(map[topic.Group]*groupState),
		topics:  make(map[topic.Key]map[string]Subscriber),
		bySub:   make(map[string]map[topic.Key]struct{}),
	}
}

// Add 登记 sub 对 key 的兴趣，重复登记无副作用
func (r *Registry) Add(ctx context.Context, sub Subscriber, key topic.Key) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	added, first := r.index(sub, key)
	if !added {
		return nil
	}

	g := key.Group()
	gs := r.groups[g]
	if gs != nil && isDone(gs.adapter) {
		logger.Warn(ctx, "adapter ended, replacing", zap.String("group", g.String()))
		delete(r.groups, g)
		gs = nil
	}

	if gs == nil {
		a, err := r.factory.New(g)
		if err != nil {
			r.unindex(sub, key)
			return err
		}
		gs = &groupState{adapter: a, keys: make(map[topic.Key]struct{})}
		r.groups[g] = gs
		// 新 adapter 要把 group 下所有活跃 key 订一遍，包括换掉的旧 adapter 留下的
		var keyErr error
		for _, k := range r.activeKeys(g) {
			if err := a.Subscribe(ctx, k.Symbol, k.Channel); err != nil {
				logger.Warn(ctx, "adapter subscribe failed", zap.String("key", k.String()), zap.Error(err))
				r.withdraw(ctx, a, k)
				if k == key {
					keyErr = err
				}
				continue
			}
			gs.keys[k] = struct{}{}
		}
		if keyErr != nil {
			r.rollback(g, gs, sub, key)
			return keyErr
		}
		r.updateMetrics()
		return nil
	}

	if first {
		if err := gs.adapter.Subscribe(ctx, key.Symbol, key.Channel); err != nil {
			r.withdraw(ctx, gs.adapter, key)
			r.rollback(g, gs, sub, key)
			return err
		}
		gs.keys[key] = struct{}{}
	}
	r.updateMetrics()
	return nil
}

// withdraw Subscribe 失败时 adapter 里可能已经留下了这个 key，gs.keys 没记它，
// 以后也不会再有人退订，这里立刻撤掉
func (r *Registry) withdraw(ctx context.Context, a feed.Adapter, key topic.Key) {
	if err := a.Unsubscribe(ctx, key.Symbol, key.Channel); err != nil {
		logger.Warn(ctx, "adapter unsubscribe after failed subscribe", zap.String("key", key.String()), zap.Error(err))
	}
}

// rollback 撤销刚登记的 (sub, key)；group 因此变空就停掉 adapter
func (r *Registry) rollback(g topic.Group, gs *groupState, sub Subscriber, key topic.Key) {
	r.unindex(sub, key)
	if len(gs.keys) == 0 {
		delete(r.groups, g)
		_ = gs.adapter.Stop()
	}
	r.updateMetrics()
}

func (r *Registry) Remove(ctx context.Context, sub Subscriber, key topic.Key) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.removeLocked(ctx, sub, key)
	r.updateMetrics()
	return nil
}

// RemoveAll 连接断开时调用，没有登记也安全
func (r *Registry) RemoveAll(ctx context.Context, sub Subscriber) int {
	return r.RemoveMatching(ctx, sub, func(topic.Key) bool { return true })
}

// RemoveMatching 只撤掉 sub 名下满足 match 的 key，返回撤掉的个数
func (r *Registry) RemoveMatching(ctx context.Context, sub Subscriber, match func(topic.Key) bool) int {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	var keys []topic.Key
	for k := range r.bySub[sub.ID()] {
		if match(k) {
			keys = append(keys, k)
		}
	}
	r.mu.RUnlock()

	for _, k := range keys {
		r.removeLocked(ctx, sub, k)
	}
	r.updateMetrics()
	return len(keys)
}

func (r *Registry) removeLocked(ctx context.Context, sub Subscriber, key topic.Key) {
	removed, last := r.unindex(sub, key)
	if !removed || !last {
		return
	}

	g := key.Group()
	gs := r.groups[g]
	if gs == nil {
		return
	}
	if _, ok := gs.keys[key]; !ok {
		return
	}
	delete(gs.keys, key)
	if err := gs.adapter.Unsubscribe(ctx, key.Symbol, key.Channel); err != nil {
		logger.Warn(ctx, "adapter unsubscribe failed", zap.String("key", key.String()), zap.Error(err))
	}
	if len(gs.keys) > 0 {
		return
	}

	// group 空了：停掉并等它退出，下次 Add 从零开始
	delete(r.groups, g)
	if err := gs.adapter.Stop(); err != nil {
		logger.Warn(ctx, "adapter stop failed", zap.String("group", g.String()), zap.Error(err))
	}
	logger.Info(ctx, "adapter stopped, group idle", zap.String("group", g.String()))
}

// Subscribers 任一 key 下的订阅者快照，按 ID 去重
func (r *Registry) Subscribers(keys ...topic.Key) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(keys) == 1 {
		set := r.topics[keys[0]]
		out := make([]Subscriber, 0, len(set))
		for _, s := range set {
			out = append(out, s)
		}
		return out
	}

	seen := make(map[string]struct{})
	var out []Subscriber
	for _, k := range keys {
		for id, s := range r.topics[k] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Keys sub 当前登记的全部 key
func (r *Registry) Keys(sub Subscriber) []topic.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]topic.Key, 0, len(r.bySub[sub.ID()]))
	for k := range r.bySub[sub.ID()] {
		out = append(out, k)
	}
	return out
}

// Close 进程退出时停掉所有 adapter
func (r *Registry) Close(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	for g, gs := range r.groups {
		if err := gs.adapter.Stop(); err != nil {
			logger.Warn(ctx, "adapter stop failed", zap.String("group", g.String()), zap.Error(err))
		}
		delete(r.groups, g)
	}
	r.mu.Lock()
	r.topics = make(map[topic.Key]map[string]Subscriber)
	r.bySub = make(map[string]map[topic.Key]struct{})
	r.mu.Unlock()
	r.updateMetrics()
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	st := Stats{Topics: len(r.topics), Subscribers: len(r.bySub)}
	r.mu.RUnlock()
	st.Adapters = int(r.nAdapters.Load())
	return st
}

// Adapter 测试和排障用
func (r *Registry) Adapter(g topic.Group) (feed.Adapter, bool) {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	gs, ok := r.groups[g]
	if !ok {
		return nil, false
	}
	return gs.adapter, true
}

// ---- 索引 ----

// index 返回是否新增，以及是否是该 key 的第一个订阅者
func (r *Registry) index(sub Subscriber, key topic.Key) (added, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.topics[key]
	if _, ok := set[sub.ID()]; ok {
		return false, false
	}
	if set == nil {
		set = make(map[string]Subscriber)
		r.topics[key] = set
	}
	set[sub.ID()] = sub

	keys := r.bySub[sub.ID()]
	if keys == nil {
		keys = make(map[topic.Key]struct{})
		r.bySub[sub.ID()] = keys
	}
	keys[key] = struct{}{}
	return true, len(set) == 1
}

// unindex 返回是否删除，以及删完后该 key 是否已无人订阅
func (r *Registry) unindex(sub Subscriber, key topic.Key) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.topics[key]
	if _, ok := set[sub.ID()]; !ok {
		return false, false
	}
	delete(set, sub.ID())
	if len(set) == 0 {
		delete(r.topics, key)
		last = true
	}
	if keys := r.bySub[sub.ID()]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.bySub, sub.ID())
		}
	}
	return true, last
}

func (r *Registry) activeKeys(g topic.Group) []topic.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []topic.Key
	for k := range r.topics {
		if k.Group() == g {
			out = append(out, k)
		}
	}
	return out
}

// 只在持有 opMu 时调用
func (r *Registry) updateMetrics() {
	r.nAdapters.Store(int64(len(r.groups)))
	st := r.Stats()
	wsmetrics.Topics.Set(float64(st.Topics))
	wsmetrics.Adapters.Set(float64(st.Adapters))
}

func isDone(a feed.Adapter) bool {
	select {
	case <-a.Done():
		return true
	default:
		return false
	}
}
