package toobit

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
)

func TestProtocol_SubscribeFrames(t *testing.T) {
	p := NewProtocol("")
	assert.Equal(t, DefaultWSURL, p.URL(topic.Spot))

	frames, err := p.SubscribeFrames(topic.Contract, []feed.Upstream{
		{Channel: topic.Ticker, WholeMarket: true},
		{Symbol: "BTC-SWAP-USDT", Channel: topic.Ticker},
		{Symbol: "BTCUSDT", Channel: topic.Trade},
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"topic":"wholeRealTime","event":"sub"}`, string(frames[0]))
	assert.JSONEq(t, `{"symbol":"BTC-SWAP-USDT","topic":"realtimes","event":"sub","params":{"realtimeInterval":"24h","binary":false}}`, string(frames[1]))
	assert.JSONEq(t, `{"symbol":"BTCUSDT","topic":"trade","event":"sub","params":{"binary":false}}`, string(frames[2]))

	cancel, err := p.UnsubscribeFrames(topic.Contract, []feed.Upstream{{Channel: topic.Ticker, WholeMarket: true}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"wholeRealTime","event":"cancel"}`, string(cancel[0]))
}

func TestProtocol_BatchesSymbols(t *testing.T) {
	var ups []feed.Upstream
	for i := 0; i < maxSymbolsPerFrame+5; i++ {
		ups = append(ups, feed.Upstream{Symbol: fmt.Sprintf("S%dUSDT", i), Channel: topic.Ticker})
	}
	frames, err := NewProtocol("").SubscribeFrames(topic.Spot, ups)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	var req request
	require.NoError(t, json.Unmarshal(frames[1], &req))
	assert.Len(t, strings.Split(req.Symbol, ","), 5)
}

func TestProtocol_Capabilities(t *testing.T) {
	p := NewProtocol("")
	assert.True(t, p.WholeMarketTopic(topic.Contract, topic.Ticker))
	assert.False(t, p.WholeMarketTopic(topic.Spot, topic.Ticker), "现货没有全市场流")
	assert.False(t, p.WholeMarketTopic(topic.Contract, topic.Trade))
	assert.True(t, p.Supports(topic.Spot, topic.Trade))
	assert.False(t, p.Supports(topic.Spot, topic.Channel("depth")))
}

func TestProtocol_Ping(t *testing.T) {
	now := time.UnixMilli(1535975085052)
	assert.Equal(t, `{"ping":1535975085052}`, string(NewProtocol("").PingFrame(now)))
}

func TestProtocol_Decode(t *testing.T) {
	p := NewProtocol("")
	tests := []struct {
		name    string
		raw     string
		kinds   []feed.FrameKind
		symbols []string
		whole   bool
		ch      topic.Channel
	}{
		{"pong", `{"pong":1535975085052}`, []feed.FrameKind{feed.FramePong}, []string{""}, false, ""},
		{"ack", `{"symbol":"BTCUSDT","topic":"realtimes","event":"sub","params":{"binary":false},"code":"0","msg":"Success"}`,
			[]feed.FrameKind{feed.FrameControl}, []string{""}, false, ""},
		{"realtimes", `{"symbol":"BTCUSDT","topic":"realtimes","data":[{"t":1668676200001,"s":"BTCUSDT","c":"16600.1","h":"16800","l":"16500","o":"16650","v":"120.5","qv":"2000000"}]}`,
			[]feed.FrameKind{feed.FrameData}, []string{"BTCUSDT"}, false, topic.Ticker},
		{"realtimes object", `{"symbol":"ETHUSDT","topic":"realtimes","data":{"t":1,"c":"1200"}}`,
			[]feed.FrameKind{feed.FrameData}, []string{"ETHUSDT"}, false, topic.Ticker},
		{"whole market", `{"topic":"wholeRealTime","data":[{"s":"BTC-SWAP-USDT","c":"1"},{"s":"ETH-SWAP-USDT","c":"2"}]}`,
			[]feed.FrameKind{feed.FrameData, feed.FrameData}, []string{"BTC-SWAP-USDT", "ETH-SWAP-USDT"}, true, topic.Ticker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := p.Decode(topic.Contract, []byte(tt.raw))
			require.NoError(t, err)
			require.Len(t, frames, len(tt.kinds))
			for i, f := range frames {
				assert.Equal(t, tt.kinds[i], f.Kind)
				assert.Equal(t, tt.symbols[i], f.Symbol)
				if f.Kind == feed.FrameData {
					assert.Equal(t, tt.whole, f.WholeMarket)
					assert.Equal(t, tt.ch, f.Channel)
					assert.NotEmpty(t, f.Payload)
				}
			}
		})
	}
}

func TestProtocol_DecodeTrade(t *testing.T) {
	raw := `{"symbol":"BTCUSDT","topic":"trade","data":[{"v":"1447335405363150849","t":1634026634681,"p":"57000.5","q":"0.012","m":true}],"f":false}`
	frames, err := NewProtocol("").Decode(topic.Spot, []byte(raw))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, topic.Trade, f.Channel)
	assert.Equal(t, "BTCUSDT", f.Symbol)
	assert.Equal(t, int64(1634026634681), f.TS.UnixMilli())

	var tr model.Trade
	require.NoError(t, json.Unmarshal(f.Payload, &tr))
	assert.Equal(t, "57000.5", tr.Price.String())
	assert.Equal(t, "BTC", tr.Base)
	assert.Equal(t, "USDT", tr.Quote)
	assert.Equal(t, "1447335405363150849", tr.TradeID)
	assert.Contains(t, string(f.Payload), `"maker_side":"BUY"`)
}

func TestProtocol_DecodeErrors(t *testing.T) {
	p := NewProtocol("")
	_, err := p.Decode(topic.Spot, []byte(`not json`))
	assert.Error(t, err)
	_, err = p.Decode(topic.Spot, []byte(`{"topic":"depth","data":[{}]}`))
	assert.ErrorIs(t, err, errUnknownTopic)
}
