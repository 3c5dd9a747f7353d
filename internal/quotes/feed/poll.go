package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/internal/quotes/wsmetrics"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/safe"
)

type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	return c
}

type resolveError struct{ err error }

func (e *resolveError) Error() string { return fmt.Sprintf("resolve symbol universe: %v", e.err) }
func (e *resolveError) Unwrap() error { return e.err }

// PollAdapter 上游没有推送时，定时批量拉 ticker 模拟推送。
// 失败只记日志等下一轮，只有 Stop 能结束循环；例外是第一轮就解析不出全市场品种，
// 视为启动失败直接退出，由 Registry 下次 Add 时重建。
type PollAdapter struct {
	group    topic.Group
	fetcher  Fetcher
	resolver Resolver
	sink     Sink
	cfg      PollConfig

	mu   sync.Mutex
	subs map[entry]struct{}
	kick chan struct{} // 新订阅立刻拉一轮，不等下一个 tick

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ Adapter = (*PollAdapter)(nil)

func NewPollAdapter(ctx context.Context, g topic.Group, fetcher Fetcher, resolver Resolver, sink Sink, cfg PollConfig) *PollAdapter {
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &PollAdapter{
		group:    g,
		fetcher:  fetcher,
		resolver: resolver,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		subs:     make(map[entry]struct{}),
		kick:     make(chan struct{}, 1),
		ctx:      actx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (a *PollAdapter) Start() {
	safe.GoCtx(a.ctx, func(ctx context.Context) { a.run() })
}

func (a *PollAdapter) Mode() Source          { return SourcePoll }
func (a *PollAdapter) Done() <-chan struct{} { return a.done }

func (a *PollAdapter) Subscribe(_ context.Context, sym topic.Symbol, ch topic.Channel) error {
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	a.mu.Lock()
	e := entry{sym: sym, ch: ch}
	_, had := a.subs[e]
	a.subs[e] = struct{}{}
	a.mu.Unlock()
	if !had {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (a *PollAdapter) Unsubscribe(_ context.Context, sym topic.Symbol, ch topic.Channel) error {
	a.mu.Lock()
	delete(a.subs, entry{sym: sym, ch: ch})
	a.mu.Unlock()
	return nil
}

func (a *PollAdapter) Stop() error {
	a.stopOnce.Do(a.cancel)
	<-a.done
	return nil
}

func (a *PollAdapter) run() {
	defer close(a.done)
	defer a.cancel()
	label := a.group.String()
	wsmetrics.AdapterState.WithLabelValues(label, string(SourcePoll)).Set(float64(StateConnected))
	defer wsmetrics.AdapterState.WithLabelValues(label, string(SourcePoll)).Set(float64(StateStopped))

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	// 只有第一轮就解析不出品种表才算启动失败；跑过一轮之后（不管有没有数据）一律按暂时错误处理
	started := false
	for {
		ran, err := a.cycle()
		switch {
		case err == nil:
			if ran {
				started = true
				wsmetrics.PollCyclesTotal.WithLabelValues(a.group.Exchange, "ok").Inc()
			}
		case a.ctx.Err() != nil:
			return
		default:
			wsmetrics.PollCyclesTotal.WithLabelValues(a.group.Exchange, "error").Inc()
			var re *resolveError
			if errors.As(err, &re) && !started {
				logger.Error(a.ctx, "poll adapter cannot resolve symbol universe at start, exiting",
					zap.String("group", label), zap.Error(err))
				return
			}
			started = true
			logger.Warn(a.ctx, "poll cycle failed", zap.String("group", label), zap.Error(err))
		}

		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		case <-a.kick:
		}
	}
}

// cycle 一轮：取订阅快照 → 必要时解析全市场 → 一次批量拉取 → 逐个品种转发
// 没有订阅时 ran=false，不算一轮
func (a *PollAdapter) cycle() (ran bool, err error) {
	concrete, wildcard := a.snapshot()
	if len(concrete) == 0 && !wildcard {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.FetchTimeout)
	defer cancel()

	want := make(map[string]struct{}, len(concrete))
	for _, s := range concrete {
		want[s] = struct{}{}
	}
	query := concrete
	if wildcard {
		universe, err := a.resolver.Resolve(ctx, a.group.Exchange, a.group.Market)
		if err != nil {
			return true, &resolveError{err: err}
		}
		for _, s := range universe {
			want[s] = struct{}{}
		}
		query = nil // 全量拉取再按品种表过滤
	}

	tickers, err := a.fetcher.FetchTickers(ctx, a.group.Market, query)
	if err != nil {
		return true, err
	}

	symbols := make([]string, 0, len(tickers))
	for s := range tickers {
		if _, ok := want[s]; ok {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	now := time.Now()
	for _, s := range symbols {
		a.sink.Deliver(a.ctx, Event{
			Exchange: a.group.Exchange,
			Market:   a.group.Market,
			Channel:  a.group.Channel,
			Symbol:   s,
			Source:   SourcePoll,
			Payload:  tickers[s],
			TS:       now,
		})
	}
	return true, nil
}

func (a *PollAdapter) snapshot() (concrete []string, wildcard bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for e := range a.subs {
		if e.sym.IsWildcard() {
			wildcard = true
			continue
		}
		concrete = append(concrete, e.sym.Name())
	}
	sort.Strings(concrete)
	return concrete, wildcard
}
