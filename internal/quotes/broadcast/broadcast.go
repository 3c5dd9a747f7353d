// Package broadcast 把 adapter 的事件扇出给订阅者：精确 key 加上全市场 key，按订阅者去重，编码一次。
package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/gateway"
	"quotehub.com/internal/quotes/registry"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/internal/quotes/wsmetrics"
	"quotehub.com/pkg/logger"
)

// Directory 订阅者查询，Registry 实现
type Directory interface {
	Subscribers(keys ...topic.Key) []registry.Subscriber
}

type Options struct {
	// 单个事件并发发送的上限，订阅者少于它就全部并发
	MaxGoroutines int `mapstructure:"max_goroutines"`
	// 单个订阅者 Send 的超时，Send 本身是入队，正常不会用到
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

func (o Options) withDefaults() Options {
	if o.MaxGoroutines <= 0 {
		o.MaxGoroutines = 32
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = time.Second
	}
	return o
}

type Broadcaster struct {
	opts   Options
	dir    atomic.Pointer[Directory]
	mirror atomic.Pointer[gateway.Broker]
}

var _ feed.Sink = (*Broadcaster)(nil)

func New(opts Options) *Broadcaster {
	return &Broadcaster{opts: opts.withDefaults()}
}

// Attach Registry 要拿 Broadcaster 当 sink 才能建出来，所以事后挂上
func (b *Broadcaster) Attach(dir Directory) {
	b.dir.Store(&dir)
}

// Mirror 额外把事件发到 broker，失败只记日志
func (b *Broadcaster) Mirror(br gateway.Broker) {
	b.mirror.Store(&br)
}

// Deliver 在 adapter 的读循环里被调用，返回前所有发送都已完成，
// 同一个 adapter 的事件对每个订阅者保持上游顺序
func (b *Broadcaster) Deliver(ctx context.Context, ev feed.Event) {
	key := ev.Key()
	keys := []topic.Key{key}
	if ev.Channel.WholeMarket() {
		keys = append(keys, key.WildcardKey())
	}

	var subs []registry.Subscriber
	if d := b.dir.Load(); d != nil {
		subs = (*d).Subscribers(keys...)
	}
	mirror := b.mirror.Load()
	wsmetrics.DeliverFanout.Observe(float64(len(subs)))
	if len(subs) == 0 && mirror == nil {
		return
	}

	payload, err := EncodeData(ev)
	if err != nil {
		logger.Warn(ctx, "encode event failed", zap.String("key", key.String()), zap.Error(err))
		return
	}

	if mirror != nil {
		t := gateway.Topic(ev.Exchange, string(ev.Market), string(ev.Channel), ev.Symbol)
		if err := (*mirror).Publish(ctx, t, payload); err != nil {
			logger.Warn(ctx, "mirror publish failed", zap.String("topic", t), zap.Error(err))
		}
	}

	source := string(ev.Source)
	if len(subs) == 1 {
		b.send(ctx, subs[0], payload, source)
		return
	}
	p := pool.New().WithMaxGoroutines(min(len(subs), b.opts.MaxGoroutines))
	for _, s := range subs {
		p.Go(func() { b.send(ctx, s, payload, source) })
	}
	p.Wait()
}

// send 单个订阅者失败不影响其他人，也不在这里摘掉它，连接自己的清理路径会 RemoveAll
func (b *Broadcaster) send(ctx context.Context, s registry.Subscriber, payload []byte, source string) {
	sctx, cancel := context.WithTimeout(ctx, b.opts.SendTimeout)
	defer cancel()
	if err := s.Send(sctx, payload); err != nil {
		wsmetrics.DeliverTotal.WithLabelValues(source, "error").Inc()
		logger.Debug(ctx, "deliver to subscriber failed", zap.String("subscriber", s.ID()), zap.Error(err))
		return
	}
	wsmetrics.DeliverTotal.WithLabelValues(source, "ok").Inc()
}
