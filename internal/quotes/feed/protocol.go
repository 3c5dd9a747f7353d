package feed

import (
	"time"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/topic"
)

// Upstream 一条上游订阅。WholeMarket 时 Symbol 为空。
type Upstream struct {
	Symbol      string
	Channel     topic.Channel
	WholeMarket bool
}

type FrameKind int

const (
	FrameData FrameKind = iota
	FramePong
	FrameControl // 订阅回执等，直接丢
)

// Frame 解码后的上游帧，批量帧已拆成单品种
type Frame struct {
	Kind        FrameKind
	Channel     topic.Channel
	Symbol      string
	WholeMarket bool // 来自全市场流
	Payload     json.RawMessage
	TS          time.Time
}

// Protocol 交易所推送协议编解码，不持有连接
type Protocol interface {
	Name() string
	URL(market topic.MarketType) string
	Supports(market topic.MarketType, ch topic.Channel) bool
	// WholeMarketTopic 上游是否有该频道的全市场流；没有的话 "*" 要展开成逐个品种订阅
	WholeMarketTopic(market topic.MarketType, ch topic.Channel) bool
	SubscribeFrames(market topic.MarketType, ups []Upstream) ([][]byte, error)
	UnsubscribeFrames(market topic.MarketType, ups []Upstream) ([][]byte, error)
	// PingFrame 应用层心跳，返回 nil 表示用 ws 协议层 ping
	PingFrame(now time.Time) []byte
	Decode(market topic.MarketType, raw []byte) ([]Frame, error)
}
