package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"quotehub.com/pkg/logger"
)

type NatsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

func (c NatsConfig) withDefaults() NatsConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "quote-gateway"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	return c
}

// NatsBroker 只负责把行情镜像发出去，本进程不从 NATS 收。
// 断线期间 nats.go 会把消息攒在重连缓冲里，满了 Publish 才报错。
type NatsBroker struct {
	nc *nats.Conn
}

var _ Broker = (*NatsBroker)(nil)

func NewNatsBroker(c NatsConfig) (*NatsBroker, error) {
	c = c.withDefaults()
	ctx := context.Background()
	nc, err := nats.Connect(c.URL,
		nats.Name(c.Name),
		nats.Timeout(c.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", c.URL, err)
	}
	return &NatsBroker{nc: nc}, nil
}

// Connected 给健康检查用
func (b *NatsBroker) Connected() bool { return b.nc != nil && b.nc.IsConnected() }

func (b *NatsBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if err := b.nc.Publish(topicToSubject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

// Close 先 Drain 把缓冲里的镜像消息发完
func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	err := b.nc.Drain()
	b.nc.Close()
	return err
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
