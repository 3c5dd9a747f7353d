package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		in          string
		base, quote string
		ok          bool
	}{
		{"BTCUSDT", "BTC", "USDT", true},
		{"ethbtc", "ETH", "BTC", true},
		{"BTC-SWAP-USDT", "BTC", "USDT", true},
		{"BTC-USDT", "BTC", "USDT", true},
		{"XYZ", "", "", false},
		{"USDT", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, q, ok := SplitSymbol(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.base, b)
			assert.Equal(t, tt.quote, q)
		})
	}
}

func TestApplyFilters(t *testing.T) {
	var s SymbolInfo
	s.ApplyFilters([]Filter{
		{FilterType: "PRICE_FILTER", TickSize: "0.01"},
		{FilterType: "LOT_SIZE", StepSize: "0.0001", MinQty: "0.001"},
		{FilterType: "NOTIONAL", Notional: "5"},
		{FilterType: "MAX_NUM_ORDERS"},
	})
	assert.True(t, s.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, s.StepSize.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, s.MinQty.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, s.MinNotional.Equal(decimal.NewFromInt(5)))
}

func TestTickerChangePercent(t *testing.T) {
	tk := Ticker{Open: Dec("100"), Last: Dec("105.5")}
	assert.Equal(t, "5.5", tk.ChangePercent().String())
	assert.True(t, Ticker{Last: Dec("1")}.ChangePercent().IsZero())
	assert.True(t, Dec("not-a-number").IsZero())
}
