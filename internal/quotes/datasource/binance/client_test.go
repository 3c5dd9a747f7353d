package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quotehub.com/internal/quotes/datasource/model"
	"quotehub.com/internal/quotes/datasource/rest"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/pkg/xerr"
)

func newServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case spotPaths.ticker:
			if r.URL.Query().Get("symbol") != "" {
				_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"101","openPrice":"100","closeTime":5}`))
				return
			}
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"101"},{"symbol":"ETHUSDT","lastPrice":"2"}]`))
		case spotPaths.exchangeInfo:
			_, _ = w.Write([]byte(`{"symbols":[
				{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","filters":[{"filterType":"NOTIONAL","minNotional":"5.0"}]},
				{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"}]}`))
		case usdmPaths.exchangeInfo:
			_, _ = w.Write([]byte(`{"symbols":[
				{"symbol":"BTCUSDT","status":"TRADING","contractStatus":"TRADING","contractType":"PERPETUAL","baseAsset":"BTC","quoteAsset":"USDT",
				 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"MIN_NOTIONAL","notional":"100"}]},
				{"symbol":"XUSDT","status":"TRADING","contractStatus":"SETTLING","baseAsset":"X","quoteAsset":"USDT"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func cfg(srv *httptest.Server) rest.Config {
	return rest.Config{BaseURL: srv.URL, Timeout: time.Second, RPS: 1000}
}

func TestClient_FetchTickers(t *testing.T) {
	c := NewSpotClient(cfg(newServer(t)))

	one, err := c.FetchTickers(context.Background(), topic.Spot, []string{"btcusdt"})
	require.NoError(t, err)
	require.Contains(t, one, "BTCUSDT")
	var tk model.Ticker
	require.NoError(t, json.Unmarshal(one["BTCUSDT"], &tk))
	assert.Equal(t, "101", tk.Last.String())
	assert.Equal(t, int64(5), tk.TsUnixMs)
	assert.Equal(t, Spot, tk.Exchange)

	all, err := c.FetchTickers(context.Background(), topic.Spot, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = c.FetchTickers(context.Background(), topic.Contract, nil)
	assert.Equal(t, xerr.UnsupportedMarket, xerr.CodeOf(err))
}

func TestClient_FetchSymbols(t *testing.T) {
	srv := newServer(t)

	spot, err := NewSpotClient(cfg(srv)).FetchSymbols(context.Background(), topic.Spot)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, model.Names(spot))
	assert.Equal(t, "5", spot[0].MinNotional.String())

	usdm, err := NewUSDMClient(cfg(srv)).FetchSymbols(context.Background(), topic.Contract)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT"}, model.Names(usdm), "contractStatus 优先")
	assert.Equal(t, "PERPETUAL", usdm[0].ContractType)
	assert.Equal(t, "0.1", usdm[0].TickSize.String())
	assert.Equal(t, "100", usdm[0].MinNotional.String())
	assert.Equal(t, "contract", usdm[0].Market)
}
