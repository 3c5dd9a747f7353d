package binance

import (
	"context"
	"net/url"
	"strings"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/datasource/rest"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/xerr"
)

const (
	DefaultSpotRESTURL = "https://api.binance.com"
	DefaultUSDMRESTURL = "https://fapi.binance.com"
)

type paths struct {
	ticker       string
	exchangeInfo string
}

var (
	spotPaths = paths{ticker: "/api/v3/ticker/24hr", exchangeInfo: "/api/v3/exchangeInfo"}
	usdmPaths = paths{ticker: "/fapi/v1/ticker/24hr", exchangeInfo: "/fapi/v1/exchangeInfo"}
)

// Client 一个市场类型一个实例
type Client struct {
	name   string
	market topic.MarketType
	paths  paths
	rest   *rest.Client
}

var _ feed.Fetcher = (*Client)(nil)

func NewSpotClient(cfg rest.Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSpotRESTURL
	}
	return &Client{name: Spot, market: topic.Spot, paths: spotPaths, rest: rest.New(Spot, cfg)}
}

func NewUSDMClient(cfg rest.Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultUSDMRESTURL
	}
	return &Client{name: USDM, market: topic.Contract, paths: usdmPaths, rest: rest.New(USDM, cfg)}
}

type ticker24h struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	OpenPrice   string `json:"openPrice"`
	HighPrice   string `json:"highPrice"`
	LowPrice    string `json:"lowPrice"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
	BidPrice    string `json:"bidPrice"`
	AskPrice    string `json:"askPrice"`
	CloseTime   int64  `json:"closeTime"`
}

func (t ticker24h) normalize(exchange string) model.Ticker {
	return model.Ticker{
		Exchange:    exchange,
		Symbol:      t.Symbol,
		Last:        model.Dec(t.LastPrice),
		Open:        model.Dec(t.OpenPrice),
		High:        model.Dec(t.HighPrice),
		Low:         model.Dec(t.LowPrice),
		Volume:      model.Dec(t.Volume),
		QuoteVolume: model.Dec(t.QuoteVolume),
		Bid:         model.Dec(t.BidPrice),
		Ask:         model.Dec(t.AskPrice),
		TsUnixMs:    t.CloseTime,
	}
}

func (c *Client) FetchTickers(ctx context.Context, market topic.MarketType, symbols []string) (map[string]json.RawMessage, error) {
	if market != c.market {
		return nil, xerr.Newf(xerr.UnsupportedMarket, "%s does not support market_type %q", c.name, market)
	}
	q := url.Values{}
	if len(symbols) == 1 {
		q.Set("symbol", strings.ToUpper(symbols[0]))
	}
	body, err := c.rest.Get(ctx, c.paths.ticker, q)
	if err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, err)
	}

	// 带 symbol 参数时返回单个对象
	var rows []ticker24h
	if strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		var one ticker24h
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, err
		}
		rows = append(rows, one)
	} else if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[strings.ToUpper(s)] = struct{}{}
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		if len(want) > 0 {
			if _, ok := want[r.Symbol]; !ok {
				continue
			}
		}
		b, err := json.Marshal(r.normalize(c.name))
		if err != nil {
			return nil, err
		}
		out[r.Symbol] = b
	}
	return out, nil
}

type exchangeInfo struct {
	Symbols []symbolRow `json:"symbols"`
}

type symbolRow struct {
	Symbol         string         `json:"symbol"`
	Status         string         `json:"status"`
	ContractStatus string         `json:"contractStatus"`
	BaseAsset      string         `json:"baseAsset"`
	QuoteAsset     string         `json:"quoteAsset"`
	ContractType   string         `json:"contractType"`
	Filters        []model.Filter `json:"filters"`
}

// FetchSymbols 合约优先看 contractStatus
func (c *Client) FetchSymbols(ctx context.Context, market topic.MarketType) ([]model.SymbolInfo, error) {
	if market != c.market {
		return nil, xerr.Newf(xerr.UnsupportedMarket, "%s does not support market_type %q", c.name, market)
	}
	var info exchangeInfo
	if err := c.rest.GetJSON(ctx, c.paths.exchangeInfo, nil, &info); err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, err)
	}

	out := make([]model.SymbolInfo, 0, len(info.Symbols))
	for _, r := range info.Symbols {
		status := r.ContractStatus
		if status == "" {
			status = r.Status
		}
		if !strings.EqualFold(status, model.StatusTrading) {
			continue
		}
		s := model.SymbolInfo{
			Symbol:       r.Symbol,
			Base:         r.BaseAsset,
			Quote:        r.QuoteAsset,
			Status:       strings.ToUpper(status),
			Market:       string(market),
			ContractType: r.ContractType,
		}
		s.ApplyFilters(r.Filters)
		out = append(out, s)
	}
	return out, nil
}
