package broadcast

import (
	"github.com/segmentio/encoding/json"
	"quotehub.com/internal/quotes/feed"
)

// DataMsg 下发给客户端的行情
type DataMsg struct {
	Event      string          `json:"event"` // "data"
	Exchange   string          `json:"exchange"`
	MarketType string          `json:"market_type"`
	Channel    string          `json:"channel"`
	Symbol     string          `json:"symbol"`
	Source     feed.Source     `json:"source"`
	Data       json.RawMessage `json:"data"`
	TS         int64           `json:"ts"`
}

// EncodeData 一个事件只编码一次，所有订阅者共用同一份 []byte
func EncodeData(ev feed.Event) ([]byte, error) {
	data := ev.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	var ts int64
	if !ev.TS.IsZero() {
		ts = ev.TS.UnixMilli()
	}
	return json.Marshal(DataMsg{
		Event:      "data",
		Exchange:   ev.Exchange,
		MarketType: string(ev.Market),
		Channel:    string(ev.Channel),
		Symbol:     ev.Symbol,
		Source:     ev.Source,
		Data:       data,
		TS:         ts,
	})
}
