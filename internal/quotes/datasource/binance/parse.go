package binance

import (
	"errors"
	"strconv"

	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/datasource/model"
)

type bnCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// bnEnvelope 只取分流需要的字段
type bnEnvelope struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Stream    string          `json:"stream"`
	Data      json.RawMessage `json:"data"`
	ID        *int64          `json:"id"`
}

type bnAggTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	AggID     int64  `json:"a"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	M         bool   `json:"m"`
}

var errNotAggTrade = errors.New("binance: not aggTrade")

// ParseAggTradeCombined 组合流 /stream?streams= 包了一层 {"stream","data"}
func ParseAggTradeCombined(b []byte) (model.Trade, error) {
	var wrap bnCombined
	if err := json.Unmarshal(b, &wrap); err != nil {
		return model.Trade{}, err
	}
	return ParseAggTrade(wrap.Data)
}

func ParseAggTrade(b []byte) (model.Trade, error) {
	var a bnAggTrade
	if err := json.Unmarshal(b, &a); err != nil {
		return model.Trade{}, err
	}
	if a.EventType != "aggTrade" {
		return model.Trade{}, errNotAggTrade
	}

	base, quote, ok := model.SplitSymbol(a.Symbol)
	if !ok {
		return model.Trade{}, errors.New("binance: cannot split symbol: " + a.Symbol)
	}
	makerSide := model.SideSell
	if a.M {
		makerSide = model.SideBuy
	}

	return model.Trade{
		Exchange:  Spot,
		Symbol:    a.Symbol,
		Base:      base,
		Quote:     quote,
		Price:     model.Dec(a.Price),
		Size:      model.Dec(a.Qty),
		MakerSide: makerSide,
		TsUnixMs:  a.TradeTime,
		TradeID:   strconv.FormatInt(a.AggID, 10),
	}, nil
}
