// Package binance 币安现货与 U 本位合约行情。两者协议相同，只是地址和 REST 路径不同，
// 在网关里按两个交易所名注册：binance（现货）、binance_usdm（合约）。
package binance

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
)

const (
	Spot = "binance"
	USDM = "binance_usdm"

	DefaultSpotWSURL = "wss://stream.binance.com:9443/ws"
	DefaultUSDMWSURL = "wss://fstream.binance.com/ws"

	streamAllTickers = "!ticker@arr"

	// 单条 SUBSCRIBE 的 params 上限
	maxStreamsPerFrame = 200
)

// Protocol 一个实例只服务一个市场类型
type Protocol struct {
	name   string
	market topic.MarketType
	url    string
	id     atomic.Int64
}

var _ feed.Protocol = (*Protocol)(nil)

func NewSpotProtocol(wsURL string) *Protocol {
	if wsURL == "" {
		wsURL = DefaultSpotWSURL
	}
	return &Protocol{name: Spot, market: topic.Spot, url: wsURL}
}

func NewUSDMProtocol(wsURL string) *Protocol {
	if wsURL == "" {
		wsURL = DefaultUSDMWSURL
	}
	return &Protocol{name: USDM, market: topic.Contract, url: wsURL}
}

func (p *Protocol) Name() string                { return p.name }
func (p *Protocol) URL(topic.MarketType) string { return p.url }
func (p *Protocol) Market() topic.MarketType    { return p.market }

func (p *Protocol) Supports(market topic.MarketType, ch topic.Channel) bool {
	return market == p.market && (ch == topic.Ticker || ch == topic.Trade)
}

// WholeMarketTopic 现货的 !ticker@arr 已下线，只有合约保留
func (p *Protocol) WholeMarketTopic(market topic.MarketType, ch topic.Channel) bool {
	return market == topic.Contract && p.market == topic.Contract && ch == topic.Ticker
}

type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (p *Protocol) SubscribeFrames(_ topic.MarketType, ups []feed.Upstream) ([][]byte, error) {
	return p.frames("SUBSCRIBE", ups)
}

func (p *Protocol) UnsubscribeFrames(_ topic.MarketType, ups []feed.Upstream) ([][]byte, error) {
	return p.frames("UNSUBSCRIBE", ups)
}

func (p *Protocol) frames(method string, ups []feed.Upstream) ([][]byte, error) {
	streams := make([]string, 0, len(ups))
	for _, u := range ups {
		s, err := streamName(u)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	var out [][]byte
	for len(streams) > 0 {
		n := min(len(streams), maxStreamsPerFrame)
		b, err := json.Marshal(request{Method: method, Params: streams[:n], ID: p.id.Add(1)})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		streams = streams[n:]
	}
	return out, nil
}

func streamName(u feed.Upstream) (string, error) {
	if u.WholeMarket {
		if u.Channel != topic.Ticker {
			return "", fmt.Errorf("binance: no whole-market stream for %q", u.Channel)
		}
		return streamAllTickers, nil
	}
	sym := strings.ToLower(u.Symbol)
	switch u.Channel {
	case topic.Ticker:
		return sym + "@ticker", nil
	case topic.Trade:
		return sym + "@aggTrade", nil
	default:
		return "", fmt.Errorf("binance: unsupported channel %q", u.Channel)
	}
}

// PingFrame 币安由服务端发 ping，客户端用协议层 ping 保活即可
func (p *Protocol) PingFrame(time.Time) []byte { return nil }

var errUnknownEvent = errors.New("binance: unknown event")

func (p *Protocol) Decode(_ topic.MarketType, raw []byte) ([]feed.Frame, error) {
	return p.decode(raw, false)
}

func (p *Protocol) decode(raw []byte, whole bool) ([]feed.Frame, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return p.decodeTickerArray(raw)
	}

	var env bnEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Stream != "" && len(env.Data) > 0 {
		return p.decode(env.Data, strings.HasPrefix(env.Stream, "!"))
	}

	switch env.EventType {
	case "":
		if env.ID != nil {
			// {"result":null,"id":1} 或 {"error":{..},"id":1}
			return []feed.Frame{{Kind: feed.FrameControl}}, nil
		}
		return nil, errUnknownEvent
	case "24hrTicker":
		return []feed.Frame{{
			Kind:        feed.FrameData,
			Channel:     topic.Ticker,
			Symbol:      env.Symbol,
			WholeMarket: whole,
			Payload:     append([]byte(nil), raw...),
			TS:          feed.MillisTime(env.EventTime),
		}}, nil
	case "aggTrade":
		tr, err := ParseAggTrade(raw)
		if err != nil {
			return nil, err
		}
		tr.Exchange = p.name
		b, err := json.Marshal(tr)
		if err != nil {
			return nil, err
		}
		return []feed.Frame{{
			Kind:    feed.FrameData,
			Channel: topic.Trade,
			Symbol:  tr.Symbol,
			Payload: b,
			TS:      feed.MillisTime(tr.TsUnixMs),
		}}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownEvent, env.EventType)
	}
}

func (p *Protocol) decodeTickerArray(raw []byte) ([]feed.Frame, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]feed.Frame, 0, len(items))
	for _, it := range items {
		var env bnEnvelope
		if err := json.Unmarshal(it, &env); err != nil {
			return nil, err
		}
		if env.Symbol == "" {
			continue
		}
		out = append(out, feed.Frame{
			Kind:        feed.FrameData,
			Channel:     topic.Ticker,
			Symbol:      env.Symbol,
			WholeMarket: true,
			Payload:     []byte(it),
			TS:          feed.MillisTime(env.EventTime),
		})
	}
	return out, nil
}
