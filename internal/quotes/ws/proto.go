package ws

import (
	"strings"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/xerr"
)

const (
	EventSub        = "sub"
	EventCancel     = "cancel"
	EventSubscribed = "subscribed"
	EventCancelled  = "cancelled"
	EventError      = "error"

	maxSymbolsPerRequest = 200
)

// ClientMsg 客户端请求。symbols 为空或 ["*"] 表示全市场；
// cancel 时 channel 和 symbols 都不带，表示撤掉该交易所下的全部订阅。
type ClientMsg struct {
	Event      string   `json:"event"`
	Exchange   string   `json:"exchange"`
	MarketType string   `json:"market_type"`
	Channel    string   `json:"channel"`
	Symbols    []string `json:"symbols"`
}

type AckMsg struct {
	Event      string   `json:"event"`
	Exchange   string   `json:"exchange"`
	MarketType string   `json:"market_type,omitempty"`
	Channel    string   `json:"channel,omitempty"`
	Symbols    []string `json:"symbols"`
}

type ErrorMsg struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func errorReply(err error) ErrorMsg {
	return ErrorMsg{Event: EventError, Message: xerr.MessageOf(err)}
}

// request 校验过的请求
type request struct {
	event    string
	exchange string
	market   topic.MarketType
	channel  topic.Channel
	keys     []topic.Key
	symbols  []string // 回执里原样带回，全市场为 ["*"]

	// 交易所级别撤销，marketGiven 时只撤该市场类型
	exchangeWide bool
	marketGiven  bool
}

func parseRequest(b []byte) (*request, error) {
	var msg ClientMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, xerr.New(xerr.RequestParamsError, "malformed request")
	}

	req := &request{
		event:    strings.ToLower(strings.TrimSpace(msg.Event)),
		exchange: strings.ToLower(strings.TrimSpace(msg.Exchange)),
	}
	if req.event != EventSub && req.event != EventCancel {
		return nil, xerr.Newf(xerr.RequestParamsError, "unknown event %q", msg.Event)
	}
	if req.exchange == "" {
		return nil, xerr.New(xerr.RequestParamsError, "exchange is required")
	}

	market, err := topic.ParseMarketType(msg.MarketType)
	if err != nil {
		return nil, err
	}
	req.market = market
	req.marketGiven = strings.TrimSpace(msg.MarketType) != ""

	if req.event == EventCancel && msg.Symbols == nil && strings.TrimSpace(msg.Channel) == "" {
		req.exchangeWide = true
		req.symbols = []string{topic.Wildcard.String()}
		return req, nil
	}

	ch, err := topic.ParseChannel(msg.Channel)
	if err != nil {
		return nil, err
	}
	req.channel = ch

	syms, err := parseSymbols(msg.Symbols, ch)
	if err != nil {
		return nil, err
	}
	for _, s := range syms {
		req.keys = append(req.keys, topic.NewKey(req.exchange, market, s, ch))
		req.symbols = append(req.symbols, s.String())
	}
	return req, nil
}

// parseSymbols 去空去重，"*" 归一成 Wildcard
func parseSymbols(raw []string, ch topic.Channel) ([]topic.Symbol, error) {
	if len(raw) > maxSymbolsPerRequest {
		return nil, xerr.Newf(xerr.RequestParamsError, "too many symbols, max %d per request", maxSymbolsPerRequest)
	}
	seen := make(map[topic.Symbol]struct{}, len(raw))
	out := make([]topic.Symbol, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		s := topic.ParseSymbol(strings.ToUpper(r))
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, topic.Wildcard)
	}
	if !ch.WholeMarket() {
		for _, s := range out {
			if s.IsWildcard() {
				return nil, xerr.Newf(xerr.UnsupportedChannel, "channel %q requires explicit symbols", ch)
			}
		}
	}
	return out, nil
}
