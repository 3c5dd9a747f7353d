// Package gateway 行情事件的对外镜像：单机用内存 broker，多节点用 NATS。
package gateway

import (
	"context"
	"strings"
)

type Message struct {
	Topic   string
	Payload []byte
}

// Broker 镜像的发布端；MemBroker 另外提供进程内 Subscribe
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

const topicPrefix = "quotes"

// Topic 事件镜像的 topic，形如 quotes:toobit:contract:ticker:BTC-SWAP-USDT。
// NATS 下 ":" 换成 "."，可以用 quotes.toobit.*.ticker.> 这样的通配订阅。
func Topic(exchange, market, channel, symbol string) string {
	return strings.Join([]string{topicPrefix, exchange, market, channel, symbol}, ":")
}
