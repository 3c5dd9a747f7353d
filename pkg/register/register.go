package register

import "context"

// Instance 注册到注册中心的网关节点
type Instance struct {
	ID       string            `json:"id"`   // 默认 host:port
	Name     string            `json:"name"` // 服务名，例如 "quote-gateway"
	Addr     string            `json:"addr"`
	MetaData map[string]string `json:"metadata,omitempty"` // ws 路径、支持的交易所等
}

type Register interface {
	Register(ctx context.Context, ins *Instance) error
	UnRegister(ctx context.Context, ins *Instance) error
}

// Discoverer 列出同名服务的全部节点
type Discoverer interface {
	Discover(ctx context.Context, serviceName string) ([]Instance, error)
}
