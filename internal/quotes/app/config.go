package app

import (
	"time"

	"quotehub.com/internal/quotes/api"
	"quotehub.com/internal/quotes/broadcast"
	"quotehub.com/internal/quotes/datasource/rest"
	"quotehub.com/internal/quotes/feed"
	"quotehub.com/internal/quotes/gateway"
	"quotehub.com/internal/quotes/ws"
	"quotehub.com/pkg/orm"
	"quotehub.com/pkg/trace"
	"quotehub.com/pkg/xredis"
)

// Config 总配置，对应 config/quote-gateway.yaml
type Config struct {
	Name      string                    `mapstructure:"name"`
	Server    api.ServerConfig          `mapstructure:"server"`
	Log       LogConfig                 `mapstructure:"log"`
	HTTP      HTTPLimitConfig           `mapstructure:"http"`
	WS        ws.Options                `mapstructure:"ws"`
	Broadcast broadcast.Options         `mapstructure:"broadcast"`
	Feed      feed.Config               `mapstructure:"feed"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	Symbols   SymbolsConfig             `mapstructure:"symbols"`
	MySQL     orm.Config                `mapstructure:"mysql"`
	Redis     xredis.Config             `mapstructure:"redis"`
	Nats      gateway.NatsConfig        `mapstructure:"nats"`
	Etcd      EtcdConfig                `mapstructure:"etcd"`
	Trace     trace.Config              `mapstructure:"trace"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// HTTPLimitConfig /api/v1 按 ip+route 限流
type HTTPLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type ExchangeConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Push    bool        `mapstructure:"push"`
	Markets []string    `mapstructure:"markets"` // 为空用交易所支持的全部
	WSURL   string      `mapstructure:"ws_url"`
	REST    rest.Config `mapstructure:"rest"`
}

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

type SymbolsConfig struct {
	Store string        `mapstructure:"store"` // memory / mysql / redis
	TTL   time.Duration `mapstructure:"ttl"`
}

type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	BasePath    string        `mapstructure:"base_path"`
	TTL         int64         `mapstructure:"ttl"`       // 租约秒数
	Advertise   string        `mapstructure:"advertise"` // 对外地址，为空用 server.addr
}
