// Package topic 定义订阅的最小单元：交易所 / 市场类型 / 品种(或全市场) / 频道。
package topic

import (
	"fmt"
	"strings"

	"quotehub.com/pkg/xerr"
)

type MarketType string

const (
	Spot     MarketType = "spot"
	Contract MarketType = "contract"
)

// ParseMarketType 空串默认 contract，其余只接受 spot / contract
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(strings.ToLower(strings.TrimSpace(s))) {
	case "", Contract:
		return Contract, nil
	case Spot:
		return Spot, nil
	default:
		return "", xerr.Newf(xerr.UnsupportedMarket, "unsupported market_type %q", s)
	}
}

// Symbol 具体品种或全市场哨兵。结构体可比较，能直接当 map key。
type Symbol struct {
	name string
	all  bool
}

// Wildcard 全市场订阅
var Wildcard = Symbol{all: true}

const wildcardText = "*"

// Concrete 具体品种；"*" 和空串也会归一到 Wildcard
func Concrete(name string) Symbol {
	return ParseSymbol(name)
}

func ParseSymbol(s string) Symbol {
	s = strings.TrimSpace(s)
	if s == "" || s == wildcardText {
		return Wildcard
	}
	return Symbol{name: s}
}

func (s Symbol) IsWildcard() bool { return s.all }

// Name 具体品种名，Wildcard 返回空串
func (s Symbol) Name() string { return s.name }

func (s Symbol) String() string {
	if s.all {
		return wildcardText
	}
	return s.name
}

type Channel string

const (
	// Ticker 24h 行情，支持全市场订阅
	Ticker Channel = "ticker"
	// Trade 逐笔成交，只能按品种订阅
	Trade Channel = "trade"
)

var channels = map[Channel]bool{
	Ticker: true,
	Trade:  false,
}

// ParseChannel 空串默认 ticker
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return Ticker, nil
	}
	if _, ok := channels[c]; !ok {
		return "", xerr.Newf(xerr.UnsupportedChannel, "unsupported channel %q", s)
	}
	return c, nil
}

// WholeMarket 该频道是否允许 "*" 订阅
func (c Channel) WholeMarket() bool { return channels[c] }

// Group 同一个 channel group 共用一个上游 Adapter，目前一个频道一组
func (c Channel) Group() Channel { return c }

// Key 订阅主题
type Key struct {
	Exchange string
	Market   MarketType
	Symbol   Symbol
	Channel  Channel
}

func NewKey(exchange string, market MarketType, symbol Symbol, ch Channel) Key {
	return Key{Exchange: exchange, Market: market, Symbol: symbol, Channel: ch}
}

func (k Key) Group() Group {
	return Group{Exchange: k.Exchange, Market: k.Market, Channel: k.Channel.Group()}
}

// WildcardKey 同组的全市场 key
func (k Key) WildcardKey() Key {
	k.Symbol = Wildcard
	return k
}

// String 也是 broker 的 subject 片段：toobit.contract.ticker.BTC-USDT
func (k Key) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", k.Exchange, k.Market, k.Channel, k.Symbol)
}

// Group 一个上游 Adapter 服务的范围
type Group struct {
	Exchange string
	Market   MarketType
	Channel  Channel
}

func (g Group) Key(sym Symbol) Key {
	return Key{Exchange: g.Exchange, Market: g.Market, Symbol: sym, Channel: g.Channel}
}

func (g Group) String() string {
	return fmt.Sprintf("%s/%s/%s", g.Exchange, g.Market, g.Channel)
}
