package feed

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/xerr"
)

// Exchange 一个交易所的接入能力
type Exchange struct {
	Name     string
	Markets  []topic.MarketType
	Push     bool     // 配置开关，false 时即使有协议也走轮询
	Protocol Protocol // nil 表示没有推送
	Fetcher  Fetcher  // nil 表示没有轮询
}

func (e Exchange) hasMarket(m topic.MarketType) bool {
	for _, x := range e.Markets {
		if x == m {
			return true
		}
	}
	return false
}

func (e Exchange) canPush(m topic.MarketType, ch topic.Channel) bool {
	return e.Push && e.Protocol != nil && e.Protocol.Supports(m, ch)
}

// 轮询只有 ticker
func (e Exchange) canPoll(ch topic.Channel) bool {
	return e.Fetcher != nil && ch == topic.Ticker
}

type Config struct {
	Push PushConfig `mapstructure:"push"`
	Poll PollConfig `mapstructure:"poll"`
}

// Factory 按交易所能力为一个 group 创建 Adapter，推送优先，选定后不再切换
type Factory struct {
	ctx       context.Context
	sink      Sink
	resolver  Resolver
	cfg       Config
	exchanges map[string]Exchange
}

func NewFactory(ctx context.Context, sink Sink, resolver Resolver, cfg Config, exchanges ...Exchange) *Factory {
	m := make(map[string]Exchange, len(exchanges))
	for _, e := range exchanges {
		m[e.Name] = e
	}
	return &Factory{ctx: ctx, sink: sink, resolver: resolver, cfg: cfg, exchanges: m}
}

// Validate 校验 exchange / market / channel 组合，下游会话直接用它拒绝非法请求
func (f *Factory) Validate(exchange string, market topic.MarketType, ch topic.Channel) error {
	if err := f.ValidateMarket(exchange, market); err != nil {
		return err
	}
	ex := f.exchanges[exchange]
	if !ex.canPush(market, ch) && !ex.canPoll(ch) {
		return xerr.Newf(xerr.UnsupportedChannel, "%s %s does not support channel %q", exchange, market, ch)
	}
	return nil
}

// ValidateMarket 只校验交易所和市场类型，market 为空时只看交易所
func (f *Factory) ValidateMarket(exchange string, market topic.MarketType) error {
	ex, ok := f.exchanges[exchange]
	if !ok {
		return xerr.Newf(xerr.UnsupportedExchange, "unsupported exchange %q", exchange)
	}
	if market != "" && !ex.hasMarket(market) {
		return xerr.Newf(xerr.UnsupportedMarket, "%s does not support market_type %q", exchange, market)
	}
	return nil
}

// Exchanges 已启用的交易所名，排好序
func (f *Factory) Exchanges() []string {
	out := make([]string, 0, len(f.exchanges))
	for name := range f.exchanges {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f *Factory) New(g topic.Group) (Adapter, error) {
	if err := f.Validate(g.Exchange, g.Market, g.Channel); err != nil {
		return nil, err
	}
	ex := f.exchanges[g.Exchange]

	if ex.canPush(g.Market, g.Channel) {
		a := NewPushAdapter(f.ctx, g, ex.Protocol, f.resolver, f.sink, f.cfg.Push)
		a.Start()
		logger.Info(f.ctx, "adapter started", zap.String("group", g.String()), zap.String("mode", string(SourcePush)))
		return a, nil
	}

	a := NewPollAdapter(f.ctx, g, ex.Fetcher, f.resolver, f.sink, f.cfg.Poll)
	a.Start()
	logger.Info(f.ctx, "adapter started", zap.String("group", g.String()), zap.String("mode", string(SourcePoll)))
	return a, nil
}
