package binance

import (
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/topic"
)

func TestProtocol_Frames(t *testing.T) {
	p := NewUSDMProtocol("")
	assert.Equal(t, DefaultUSDMWSURL, p.URL(topic.Contract))

	frames, err := p.SubscribeFrames(topic.Contract, []feed.Upstream{
		{Channel: topic.Ticker, WholeMarket: true},
		{Symbol: "BTCUSDT", Channel: topic.Ticker},
		{Symbol: "ETHUSDT", Channel: topic.Trade},
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["!ticker@arr","btcusdt@ticker","ethusdt@aggTrade"],"id":1}`, string(frames[0]))

	frames, err = p.UnsubscribeFrames(topic.Contract, []feed.Upstream{{Symbol: "BTCUSDT", Channel: topic.Ticker}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"UNSUBSCRIBE","params":["btcusdt@ticker"],"id":2}`, string(frames[0]), "id 递增")

	_, err = p.SubscribeFrames(topic.Contract, []feed.Upstream{{Channel: topic.Trade, WholeMarket: true}})
	assert.Error(t, err)
}

func TestProtocol_Capabilities(t *testing.T) {
	spot, usdm := NewSpotProtocol(""), NewUSDMProtocol("")
	assert.Nil(t, spot.PingFrame(time.Now()))
	assert.False(t, spot.WholeMarketTopic(topic.Spot, topic.Ticker))
	assert.True(t, usdm.WholeMarketTopic(topic.Contract, topic.Ticker))
	assert.True(t, spot.Supports(topic.Spot, topic.Trade))
	assert.False(t, spot.Supports(topic.Contract, topic.Ticker), "现货实例不服务合约")
	assert.Equal(t, "binance_usdm", usdm.Name())
}

func TestProtocol_Decode(t *testing.T) {
	p := NewUSDMProtocol("")
	tests := []struct {
		name    string
		raw     string
		kind    feed.FrameKind
		ch      topic.Channel
		symbols []string
		whole   bool
	}{
		{"ack", `{"result":null,"id":1}`, feed.FrameControl, "", []string{""}, false},
		{"error ack", `{"error":{"code":2,"msg":"Invalid request"},"id":3}`, feed.FrameControl, "", []string{""}, false},
		{"ticker", `{"e":"24hrTicker","E":1672515782136,"s":"BTCUSDT","c":"16600.1"}`, feed.FrameData, topic.Ticker, []string{"BTCUSDT"}, false},
		{"all tickers", `[{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"1"},{"e":"24hrTicker","E":1,"s":"ETHUSDT","c":"2"}]`,
			feed.FrameData, topic.Ticker, []string{"BTCUSDT", "ETHUSDT"}, true},
		{"combined", `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1,"s":"BTCUSDT"}}`, feed.FrameData, topic.Ticker, []string{"BTCUSDT"}, false},
		{"aggTrade", `{"e":"aggTrade","E":1,"s":"BTCUSDT","a":26129,"p":"0.01633102","q":"4.70443515","T":1672515782136,"m":true}`,
			feed.FrameData, topic.Trade, []string{"BTCUSDT"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := p.Decode(topic.Contract, []byte(tt.raw))
			require.NoError(t, err)
			require.Len(t, frames, len(tt.symbols))
			for i, f := range frames {
				assert.Equal(t, tt.kind, f.Kind)
				assert.Equal(t, tt.symbols[i], f.Symbol)
				assert.Equal(t, tt.ch, f.Channel)
				assert.Equal(t, tt.whole, f.WholeMarket)
			}
		})
	}
}

func TestParseAggTrade(t *testing.T) {
	raw := `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1,"s":"BTCUSDT","a":26129,"p":"0.01633102","q":"4.70443515","T":1672515782136,"m":true}}`
	tr, err := ParseAggTradeCombined([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "BTC", tr.Base)
	assert.Equal(t, "USDT", tr.Quote)
	assert.Equal(t, model.SideBuy, tr.MakerSide)
	assert.Equal(t, "26129", tr.TradeID)
	assert.Equal(t, "0.01633102", tr.Price.String())

	_, err = ParseAggTrade([]byte(`{"e":"trade","s":"BTCUSDT"}`))
	assert.ErrorIs(t, err, errNotAggTrade)

	frames, err := NewSpotProtocol("").Decode(topic.Spot, []byte(`{"e":"aggTrade","s":"ETHBTC","a":1,"p":"0.05","q":"1","T":2,"m":false}`))
	require.NoError(t, err)
	var out model.Trade
	require.NoError(t, json.Unmarshal(frames[0].Payload, &out))
	assert.Equal(t, model.SideSell, out.MakerSide)
	assert.Equal(t, Spot, out.Exchange)
}

func TestProtocol_DecodeUnknown(t *testing.T) {
	_, err := NewSpotProtocol("").Decode(topic.Spot, []byte(`{"e":"depthUpdate","s":"BTCUSDT"}`))
	assert.ErrorIs(t, err, errUnknownEvent)
}
