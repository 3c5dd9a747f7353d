package toobit

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
	DefaultRESTURL = "https://api.toobit.com"

	pathSpotTicker     = "/quote/v1/ticker/24hr"
	pathContractTicker = "/quote/v1/contract/ticker/24hr"
	pathExchangeInfo   = "/api/v1/exchangeInfo"
)

// Client Toobit REST：轮询 ticker 和 exchangeInfo
type Client struct {
	rest *rest.Client
}

var _ feed.Fetcher = (*Client)(nil)

func NewClient(cfg rest.Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRESTURL
	}
	return &Client{rest: rest.New(Name, cfg)}
}

type ticker24h struct {
	Time        int64  `json:"t"`
	Symbol      string `json:"s"`
	Last        string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Open        string `json:"o"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"qv"`
	Bid         string `json:"b"`
	Ask         string `json:"a"`
}

func (t ticker24h) normalize() model.Ticker {
	return model.Ticker{
		Exchange:    Name,
		Symbol:      t.Symbol,
		Last:        model.Dec(t.Last),
		Open:        model.Dec(t.Open),
		High:        model.Dec(t.High),
		Low:         model.Dec(t.Low),
		Volume:      model.Dec(t.Volume),
		QuoteVolume: model.Dec(t.QuoteVolume),
		Bid:         model.Dec(t.Bid),
		Ask:         model.Dec(t.Ask),
		TsUnixMs:    t.Time,
	}
}

// FetchTickers 单个品种带 symbol 参数，否则一次拉全量再过滤
func (c *Client) FetchTickers(ctx context.Context, market topic.MarketType, symbols []string) (map[string]json.RawMessage, error) {
	path := pathSpotTicker
	if market == topic.Contract {
		path = pathContractTicker
	}
	q := url.Values{}
	if len(symbols) == 1 {
		q.Set("symbol", symbols[0])
	}

	var rows []ticker24h
	if err := c.rest.GetJSON(ctx, path, q, &rows); err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, err)
	}

	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[s] = struct{}{}
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		if r.Symbol == "" {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[r.Symbol]; !ok {
				continue
			}
		}
		b, err := json.Marshal(r.normalize())
		if err != nil {
			return nil, err
		}
		out[r.Symbol] = b
	}
	return out, nil
}

type exchangeInfo struct {
	Symbols   []symbolRow `json:"symbols"`
	Contracts []symbolRow `json:"contracts"`
}

type symbolRow struct {
	Symbol       string         `json:"symbol"`
	Status       string         `json:"status"`
	BaseAsset    string         `json:"baseAsset"`
	QuoteAsset   string         `json:"quoteAsset"`
	ContractType string         `json:"contractType"`
	Filters      []model.Filter `json:"filters"`
}

// FetchSymbols exchangeInfo 里 symbols 是现货、contracts 是合约，只保留 TRADING；
// TBV_ / TBV- 开头的合约不是真实交易对，跳过
func (c *Client) FetchSymbols(ctx context.Context, market topic.MarketType) ([]model.SymbolInfo, error) {
	var info exchangeInfo
	if err := c.rest.GetJSON(ctx, pathExchangeInfo, nil, &info); err != nil {
		return nil, xerr.Wrap(xerr.UpstreamError, err)
	}
	rows := info.Symbols
	if market == topic.Contract {
		rows = info.Contracts
	}

	out := make([]model.SymbolInfo, 0, len(rows))
	for _, r := range rows {
		if r.Status != model.StatusTrading {
			continue
		}
		if market == topic.Contract && (strings.HasPrefix(r.Symbol, "TBV_") || strings.HasPrefix(r.Symbol, "TBV-")) {
			continue
		}
		s := model.SymbolInfo{
			Symbol:       r.Symbol,
			Base:         r.BaseAsset,
			Quote:        r.QuoteAsset,
			Status:       r.Status,
			Market:       string(market),
			ContractType: r.ContractType,
		}
		s.ApplyFilters(r.Filters)
		out = append(out, s)
	}
	return out, nil
}
