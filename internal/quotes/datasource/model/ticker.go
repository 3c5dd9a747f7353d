package model

import (
	"github.com/shopspring/decimal"
)

// Ticker 轮询得到的 24h ticker，统一字段名，数值一律 decimal 序列化成字符串
type Ticker struct {
	Exchange    string          `json:"exchange"`
	Symbol      string          `json:"symbol"`
	Last        decimal.Decimal `json:"last"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	TsUnixMs    int64           `json:"ts"`
}

// ChangePercent 24h 涨跌幅，开盘价为 0 时返回 0
func (t Ticker) ChangePercent() decimal.Decimal {
	if t.Open.IsZero() {
		return decimal.Zero
	}
	return t.Last.Sub(t.Open).Div(t.Open).Mul(decimal.NewFromInt(100)).Round(4)
}

// Dec 交易所返回的数值字符串，空串和非法值按 0 处理
func Dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
