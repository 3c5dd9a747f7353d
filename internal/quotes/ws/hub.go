package ws

import (
	"context"

	"go.uber.org/zap"
	"quotehub.com/internal/quotes/registry"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/internal/quotes/wsmetrics"
	"quotehub.com/pkg/logger"
)

// Registry 会话需要的订阅登记操作
type Registry interface {
	Add(ctx context.Context, sub registry.Subscriber, key topic.Key) error
	Remove(ctx context.Context, sub registry.Subscriber, key topic.Key) error
	RemoveAll(ctx context.Context, sub registry.Subscriber) int
	RemoveMatching(ctx context.Context, sub registry.Subscriber, match func(topic.Key) bool) int
	Keys(sub registry.Subscriber) []topic.Key
}

// Catalog 支持的 exchange / market_type / channel 组合
type Catalog interface {
	Validate(exchange string, market topic.MarketType, ch topic.Channel) error
	// ValidateMarket market 为空时只校验交易所
	ValidateMarket(exchange string, market topic.MarketType) error
}

// Hub 把客户端请求翻译成 Registry 调用
type Hub struct {
	reg     Registry
	catalog Catalog
}

func NewHub(reg Registry, catalog Catalog) *Hub {
	return &Hub{reg: reg, catalog: catalog}
}

// Handle 处理一条客户端消息，返回要回给客户端的回执或错误
func (h *Hub) Handle(ctx context.Context, sub registry.Subscriber, raw []byte) any {
	req, err := parseRequest(raw)
	if err != nil {
		wsmetrics.SubOpsTotal.WithLabelValues("invalid", "error").Inc()
		return errorReply(err)
	}

	switch {
	case req.exchangeWide:
		err = h.cancelExchange(ctx, sub, req)
	case req.event == EventSub:
		err = h.subscribe(ctx, sub, req)
	default:
		err = h.cancel(ctx, sub, req)
	}
	if err != nil {
		wsmetrics.SubOpsTotal.WithLabelValues(req.event, "error").Inc()
		logger.Debug(ctx, "client request rejected", zap.String("event", req.event),
			zap.String("exchange", req.exchange), zap.Error(err))
		return errorReply(err)
	}
	wsmetrics.SubOpsTotal.WithLabelValues(req.event, "ok").Inc()

	ack := AckMsg{
		Event:    EventSubscribed,
		Exchange: req.exchange,
		Symbols:  req.symbols,
	}
	if req.event == EventCancel {
		ack.Event = EventCancelled
	}
	if !req.exchangeWide || req.marketGiven {
		ack.MarketType = string(req.market)
	}
	if !req.exchangeWide {
		ack.Channel = string(req.channel)
	}
	return ack
}

// subscribe 逐个 key 登记，中途失败只撤回本次新登记的，之前已确认的订阅不动
func (h *Hub) subscribe(ctx context.Context, sub registry.Subscriber, req *request) error {
	if err := h.catalog.Validate(req.exchange, req.market, req.channel); err != nil {
		return err
	}
	held := make(map[topic.Key]struct{})
	for _, k := range h.reg.Keys(sub) {
		held[k] = struct{}{}
	}
	for i, k := range req.keys {
		if err := h.reg.Add(ctx, sub, k); err != nil {
			for _, done := range req.keys[:i] {
				if _, ok := held[done]; ok {
					continue
				}
				_ = h.reg.Remove(ctx, sub, done)
			}
			return err
		}
	}
	return nil
}

func (h *Hub) cancel(ctx context.Context, sub registry.Subscriber, req *request) error {
	if err := h.catalog.Validate(req.exchange, req.market, req.channel); err != nil {
		return err
	}
	for _, k := range req.keys {
		if err := h.reg.Remove(ctx, sub, k); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) cancelExchange(ctx context.Context, sub registry.Subscriber, req *request) error {
	var market topic.MarketType
	if req.marketGiven {
		market = req.market
	}
	if err := h.catalog.ValidateMarket(req.exchange, market); err != nil {
		return err
	}
	n := h.reg.RemoveMatching(ctx, sub, func(k topic.Key) bool {
		if k.Exchange != req.exchange {
			return false
		}
		return !req.marketGiven || k.Market == req.market
	})
	logger.Debug(ctx, "exchange-wide cancel", zap.String("exchange", req.exchange), zap.Int("removed", n))
	return nil
}
