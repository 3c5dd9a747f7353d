// Package feed 上游行情接入：一个接口，两种实现（长连接推送 / 定时轮询）。
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/topic"
)

type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Event 一条上游数据，已经拆到单个品种
type Event struct {
	Exchange string
	Market   topic.MarketType
	Channel  topic.Channel
	Symbol   string
	Source   Source
	Payload  json.RawMessage
	TS       time.Time
}

func (e Event) Key() topic.Key {
	return topic.NewKey(e.Exchange, e.Market, topic.Concrete(e.Symbol), e.Channel)
}

// Sink 事件出口，由 Broadcaster 实现。Deliver 不能长时间阻塞 adapter 的读循环。
type Sink interface {
	Deliver(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Deliver(ctx context.Context, ev Event) { f(ctx, ev) }

// Adapter 一个 (exchange, market, channel-group) 的上游任务
type Adapter interface {
	Subscribe(ctx context.Context, sym topic.Symbol, ch topic.Channel) error
	Unsubscribe(ctx context.Context, sym topic.Symbol, ch topic.Channel) error
	// Stop 取消任务并等待退出，可重复调用
	Stop() error
	// Done 任务结束（Stop 或启动期致命错误）后关闭
	Done() <-chan struct{}
	Mode() Source
}

// Resolver 全市场品种列表，每次调用都当作新快照
type Resolver interface {
	Resolve(ctx context.Context, exchange string, market topic.MarketType) ([]string, error)
}

// Fetcher 批量拉 ticker，symbols 为空表示全部
type Fetcher interface {
	FetchTickers(ctx context.Context, market topic.MarketType, symbols []string) (map[string]json.RawMessage, error)
}

var ErrStopped = errors.New("feed: adapter stopped")

type entry struct {
	sym topic.Symbol
	ch  topic.Channel
}
