package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

const StatusTrading = "TRADING"

// SymbolInfo exchangeInfo 里一个可交易品种的元数据
type SymbolInfo struct {
	Symbol       string          `json:"symbol"`
	Base         string          `json:"base_asset"`
	Quote        string          `json:"quote_asset"`
	Status       string          `json:"status"`
	Market       string          `json:"market_type"`
	ContractType string          `json:"contract_type,omitempty"`
	TickSize     decimal.Decimal `json:"tick_size"`
	StepSize     decimal.Decimal `json:"step_size"`
	MinQty       decimal.Decimal `json:"min_qty"`
	MinNotional  decimal.Decimal `json:"min_notional"`
}

// Filter exchangeInfo 的 filters 项，Toobit 与 Binance 字段一致
type Filter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
	Notional    string `json:"notional"`
}

// ApplyFilters 把价格、数量、名义价值限制填进 info
func (s *SymbolInfo) ApplyFilters(filters []Filter) {
	for _, f := range filters {
		switch strings.ToUpper(strings.TrimSpace(f.FilterType)) {
		case "PRICE_FILTER":
			s.TickSize = Dec(f.TickSize)
		case "LOT_SIZE":
			s.StepSize = Dec(f.StepSize)
			s.MinQty = Dec(f.MinQty)
		case "MIN_NOTIONAL", "NOTIONAL":
			if f.MinNotional != "" {
				s.MinNotional = Dec(f.MinNotional)
			} else {
				s.MinNotional = Dec(f.Notional)
			}
		}
	}
}

// Names 品种名列表，保持原顺序
func Names(infos []SymbolInfo) []string {
	out := make([]string, len(infos))
	for i, s := range infos {
		out[i] = s.Symbol
	}
	return out
}

// SplitSymbol 拆 base/quote：有分隔符按分隔符，没有的按常见计价币后缀，如 BTCUSDT → BTC, USDT
func SplitSymbol(sym string) (base, quote string, ok bool) {
	s := strings.ToUpper(sym)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == '/' })
	if len(parts) >= 2 {
		// BTC-SWAP-USDT 这类合约名取首尾
		return parts[0], parts[len(parts)-1], true
	}
	quotes := []string{
		"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
		"BTC", "ETH", "BNB",
		"EUR", "GBP", "TRY", "JPY", "AUD", "BRL", "RUB",
	}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}
