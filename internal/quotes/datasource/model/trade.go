package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Side uint8

const (
	SideUnknown Side = iota + 1
	SideBuy          // maker 是买方
	SideSell         // maker 是卖方
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "BUY":
		*s = SideBuy
	case "SELL":
		*s = SideSell
	default:
		*s = SideUnknown
	}
	return nil
}

// Trade 统一后的成交，trade 频道下发给客户端的 data 就是它
//
// MakerSide 表示挂单方方向：
// Binance aggTrade m=true 表示买方是 maker，即 MakerSide=BUY；Toobit 的 m 语义相同
type Trade struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Base      string          `json:"base,omitempty"`
	Quote     string          `json:"quote,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	MakerSide Side            `json:"maker_side"`
	TsUnixMs  int64           `json:"ts"`
	TradeID   string          `json:"trade_id"`
}
