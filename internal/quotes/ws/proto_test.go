package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/xerr"
)

func TestParseRequest(t *testing.T) {
	btc := topic.NewKey("toobit", topic.Contract, topic.Concrete("BTC-SWAP-USDT"), topic.Ticker)
	all := topic.NewKey("toobit", topic.Contract, topic.Wildcard, topic.Ticker)

	tests := []struct {
		name    string
		raw     string
		keys    []topic.Key
		symbols []string
		wide    bool
		code    int
	}{
		{"concrete", `{"event":"sub","exchange":"Toobit","market_type":"contract","channel":"ticker","symbols":["btc-swap-usdt"]}`,
			[]topic.Key{btc}, []string{"BTC-SWAP-USDT"}, false, 0},
		{"defaults", `{"event":"sub","exchange":"toobit"}`, []topic.Key{all}, []string{"*"}, false, 0},
		{"empty symbols", `{"event":"sub","exchange":"toobit","symbols":[]}`, []topic.Key{all}, []string{"*"}, false, 0},
		{"star", `{"event":"sub","exchange":"toobit","symbols":["*"," "]}`, []topic.Key{all}, []string{"*"}, false, 0},
		{"dedup", `{"event":"sub","exchange":"toobit","symbols":["BTC-SWAP-USDT","btc-swap-usdt","*","*"]}`,
			[]topic.Key{btc, all}, []string{"BTC-SWAP-USDT", "*"}, false, 0},
		{"exchange wide cancel", `{"event":"cancel","exchange":"toobit"}`, nil, []string{"*"}, true, 0},
		{"cancel with empty symbols is wildcard", `{"event":"cancel","exchange":"toobit","symbols":[]}`, []topic.Key{all}, []string{"*"}, false, 0},
		{"malformed", `{"event":`, nil, nil, false, xerr.RequestParamsError},
		{"unknown event", `{"event":"unsub","exchange":"toobit"}`, nil, nil, false, xerr.RequestParamsError},
		{"no exchange", `{"event":"sub"}`, nil, nil, false, xerr.RequestParamsError},
		{"bad market", `{"event":"sub","exchange":"toobit","market_type":"margin"}`, nil, nil, false, xerr.UnsupportedMarket},
		{"bad channel", `{"event":"sub","exchange":"toobit","channel":"depth"}`, nil, nil, false, xerr.UnsupportedChannel},
		{"trade wildcard", `{"event":"sub","exchange":"toobit","channel":"trade"}`, nil, nil, false, xerr.UnsupportedChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRequest([]byte(tt.raw))
			if tt.code != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.code, xerr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.keys, req.keys)
			assert.Equal(t, tt.symbols, req.symbols)
			assert.Equal(t, tt.wide, req.exchangeWide)
		})
	}
}

func TestParseRequest_TooManySymbols(t *testing.T) {
	syms := make([]string, maxSymbolsPerRequest+1)
	for i := range syms {
		syms[i] = "S" + string(rune('A'+i%26))
	}
	_, err := parseSymbols(syms, topic.Ticker)
	assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
}
