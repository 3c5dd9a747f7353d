// Package toobit Toobit 现货/合约行情：推送协议、24h ticker 轮询、exchangeInfo。
package toobit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
)

const (
	Name         = "toobit"
	DefaultWSURL = "wss://stream.toobit.com/quote/ws/v1"

	topicRealtimes = "realtimes"
	topicWhole     = "wholeRealTime"
	topicTrade     = "trade"

	// 一帧最多带的品种数，symbol 字段逗号分隔
	maxSymbolsPerFrame = 20
)

type Protocol struct {
	url string
}

var _ feed.Protocol = (*Protocol)(nil)

func NewProtocol(wsURL string) *Protocol {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Protocol{url: wsURL}
}

func (p *Protocol) Name() string { return Name }

// URL 现货和合约共用一个行情地址
func (p *Protocol) URL(topic.MarketType) string { return p.url }

func (p *Protocol) Supports(_ topic.MarketType, ch topic.Channel) bool {
	return ch == topic.Ticker || ch == topic.Trade
}

// WholeMarketTopic 只有合约有 wholeRealTime，现货全市场要按品种展开
func (p *Protocol) WholeMarketTopic(market topic.MarketType, ch topic.Channel) bool {
	return market == topic.Contract && ch == topic.Ticker
}

type params struct {
	RealtimeInterval string `json:"realtimeInterval,omitempty"`
	Binary           bool   `json:"binary"`
}

type request struct {
	Symbol string  `json:"symbol,omitempty"`
	Topic  string  `json:"topic"`
	Event  string  `json:"event"`
	Params *params `json:"params,omitempty"`
}

func (p *Protocol) SubscribeFrames(_ topic.MarketType, ups []feed.Upstream) ([][]byte, error) {
	return frames("sub", ups)
}

func (p *Protocol) UnsubscribeFrames(_ topic.MarketType, ups []feed.Upstream) ([][]byte, error) {
	return frames("cancel", ups)
}

// frames 全市场单独一帧，其余按 topic 分批合并
func frames(event string, ups []feed.Upstream) ([][]byte, error) {
	var out [][]byte
	batches := make(map[string][]string)
	var order []string
	for _, u := range ups {
		if u.WholeMarket {
			b, err := json.Marshal(request{Topic: topicWhole, Event: event})
			if err != nil {
				return nil, err
			}
			out = append(out, b)
			continue
		}
		t, err := upstreamTopic(u.Channel)
		if err != nil {
			return nil, err
		}
		if _, ok := batches[t]; !ok {
			order = append(order, t)
		}
		batches[t] = append(batches[t], u.Symbol)
	}

	for _, t := range order {
		syms := batches[t]
		for len(syms) > 0 {
			n := min(len(syms), maxSymbolsPerFrame)
			req := request{Symbol: strings.Join(syms[:n], ","), Topic: t, Event: event, Params: &params{}}
			if t == topicRealtimes {
				req.Params.RealtimeInterval = "24h"
			}
			b, err := json.Marshal(req)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
			syms = syms[n:]
		}
	}
	return out, nil
}

func upstreamTopic(ch topic.Channel) (string, error) {
	switch ch {
	case topic.Ticker:
		return topicRealtimes, nil
	case topic.Trade:
		return topicTrade, nil
	default:
		return "", fmt.Errorf("toobit: unsupported channel %q", ch)
	}
}

func (p *Protocol) PingFrame(now time.Time) []byte {
	return []byte(`{"ping":` + strconv.FormatInt(now.UnixMilli(), 10) + `}`)
}

type message struct {
	Pong   *int64          `json:"pong"`
	Symbol string          `json:"symbol"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

type item struct {
	Symbol string `json:"s"`
	Time   int64  `json:"t"`
}

type tradeItem struct {
	ID    string `json:"v"`
	Time  int64  `json:"t"`
	Price string `json:"p"`
	Qty   string `json:"q"`
	Maker bool   `json:"m"`
}

var errUnknownTopic = errors.New("toobit: unknown topic")

func (p *Protocol) Decode(_ topic.MarketType, raw []byte) ([]feed.Frame, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Pong != nil {
		return []feed.Frame{{Kind: feed.FramePong}}, nil
	}
	if len(m.Data) == 0 {
		// sub/cancel 回执或错误码
		return []feed.Frame{{Kind: feed.FrameControl}}, nil
	}

	switch m.Topic {
	case topicRealtimes, topicWhole:
		return decodeTickers(m)
	case topicTrade:
		return decodeTrades(m)
	default:
		return nil, fmt.Errorf("%w %q", errUnknownTopic, m.Topic)
	}
}

// data 可能是单个对象也可能是数组
func splitData(data json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return []json.RawMessage{data}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeTickers(m message) ([]feed.Frame, error) {
	items, err := splitData(m.Data)
	if err != nil {
		return nil, err
	}
	whole := m.Topic == topicWhole
	out := make([]feed.Frame, 0, len(items))
	for _, raw := range items {
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, err
		}
		sym := it.Symbol
		if sym == "" {
			sym = m.Symbol
		}
		if sym == "" {
			continue
		}
		out = append(out, feed.Frame{
			Kind:        feed.FrameData,
			Channel:     topic.Ticker,
			Symbol:      sym,
			WholeMarket: whole,
			Payload:     []byte(raw),
			TS:          feed.MillisTime(it.Time),
		})
	}
	return out, nil
}

// 成交项里没有品种名，取外层 symbol
func decodeTrades(m message) ([]feed.Frame, error) {
	if m.Symbol == "" {
		return nil, errors.New("toobit: trade frame without symbol")
	}
	items, err := splitData(m.Data)
	if err != nil {
		return nil, err
	}
	base, quote, _ := model.SplitSymbol(m.Symbol)
	out := make([]feed.Frame, 0, len(items))
	for _, raw := range items {
		var it tradeItem
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, err
		}
		side := model.SideSell
		if it.Maker {
			side = model.SideBuy
		}
		b, err := json.Marshal(model.Trade{
			Exchange:  Name,
			Symbol:    m.Symbol,
			Base:      base,
			Quote:     quote,
			Price:     model.Dec(it.Price),
			Size:      model.Dec(it.Qty),
			MakerSide: side,
			TsUnixMs:  it.Time,
			TradeID:   it.ID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, feed.Frame{
			Kind:    feed.FrameData,
			Channel: topic.Trade,
			Symbol:  m.Symbol,
			Payload: b,
			TS:      feed.MillisTime(it.Time),
		})
	}
	return out, nil
}
