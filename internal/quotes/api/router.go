// Package api 行情网关的 HTTP 面：品种元数据、健康检查、指标和 ws 升级入口。
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"quotehub.com/pkg/middleware"
	"quotehub.com/pkg/ratelimit"
)

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Deps struct {
	Service string
	Symbols SymbolLookup
	Health  HealthFunc
	Nodes   NodeLister // nil 时 /api/v1/nodes 返回空列表
	WS      http.Handler
	Limiter *ratelimit.Store
	Tracing bool
}

// NewRouter /ws 不挂限流和 otel，长连接不适合按请求统计
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	p := ginprom.NewPrometheus("quotehub")
	p.Use(r)

	r.GET("/healthz", healthz(d.Health))
	if d.WS != nil {
		r.GET("/ws", gin.WrapH(d.WS))
	}

	mw := []gin.HandlerFunc{middleware.ReqId(), cors.Default(), middleware.Recover()}
	if d.Tracing {
		mw = append([]gin.HandlerFunc{otelgin.Middleware(d.Service)}, mw...)
	}
	if d.Limiter != nil {
		mw = append(mw, middleware.RateLimit(d.Limiter))
	}

	v1 := r.Group("/api/v1", mw...)
	v1.GET("/symbols", symbolsHandler(d.Symbols))
	v1.GET("/nodes", nodesHandler(d.Service, d.Nodes))
	return r
}

func NewServer(c ServerConfig, h http.Handler) *http.Server {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// WriteTimeout 对 hijack 之后的 ws 连接不生效
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return &http.Server{
		Addr:           c.Addr,
		Handler:        h,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
