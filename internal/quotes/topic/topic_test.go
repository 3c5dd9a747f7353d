package topic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/pkg/xerr"
)

func TestParseSymbol_Wildcard(t *testing.T) {
	assert.Equal(t, Wildcard, ParseSymbol("*"))
	assert.Equal(t, Wildcard, ParseSymbol(" "))
	assert.True(t, ParseSymbol("").IsWildcard())

	btc := ParseSymbol("BTC-USDT")
	assert.False(t, btc.IsWildcard())
	assert.Equal(t, "BTC-USDT", btc.Name())
	assert.NotEqual(t, Wildcard, btc)
	assert.Equal(t, "*", Wildcard.String())
	assert.Empty(t, Wildcard.Name())
}

func TestKey_MapKeyAndGroup(t *testing.T) {
	a := NewKey("toobit", Contract, Concrete("BTC-USDT"), Ticker)
	b := NewKey("toobit", Contract, Concrete("BTC-USDT"), Ticker)
	w := a.WildcardKey()

	m := map[Key]int{a: 1}
	m[b]++
	m[w]++
	assert.Len(t, m, 2, "结构相等的 key 应该落在同一格")
	assert.Equal(t, 2, m[a])

	assert.Equal(t, a.Group(), w.Group())
	assert.Equal(t, w, a.Group().Key(Wildcard))
	assert.Equal(t, "toobit.contract.ticker.BTC-USDT", a.String())
	assert.Equal(t, "toobit/contract/ticker", a.Group().String())
}

func TestParseMarketType(t *testing.T) {
	tests := []struct {
		in      string
		want    MarketType
		wantErr bool
	}{
		{"", Contract, false},
		{"spot", Spot, false},
		{"CONTRACT", Contract, false},
		{"swap", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMarketType(tt.in)
		if tt.wantErr {
			require.Error(t, err)
			assert.True(t, errors.Is(err, xerr.NewErrCode(xerr.UnsupportedMarket)))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel("")
	require.NoError(t, err)
	assert.Equal(t, Ticker, c)
	assert.True(t, c.WholeMarket())

	c, err = ParseChannel("trade")
	require.NoError(t, err)
	assert.False(t, c.WholeMarket())

	_, err = ParseChannel("depth")
	assert.Equal(t, xerr.UnsupportedChannel, xerr.CodeOf(err))
}
