package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"quotehub.com/pkg/metrics"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Closed 状态计数窗口
	Interval time.Duration `mapstructure:"interval"`

	// >0 启用 rolling window
	BucketPeriod time.Duration `mapstructure:"bucket_period"`

	// Open 持续时间，到期进入 Half-Open
	Timeout time.Duration `mapstructure:"timeout"`

	// 触发条件，两种之一
	TripConsecutiveFailures uint32  `mapstructure:"trip_consecutive_failures"`
	TripFailureRate         float64 `mapstructure:"trip_failure_rate"`
	TripMinRequests         uint32  `mapstructure:"trip_min_requests"`
}

// StatusCoder 上游 HTTP 错误实现它，熔断器据此区分“请求错了”和“上游挂了”
type StatusCoder interface {
	StatusCode() int
}

// Manager 每个上游 endpoint 一个熔断器
type Manager struct {
	service string

	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[[]byte]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(service string, defaultRule Rule, perEndpoint map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &Manager{
		service:     service,
		m:           make(map[string]*gobreaker.CircuitBreaker[[]byte], 16),
		defaultRule: defaultRule,
		rules:       perEndpoint,
	}
}

func (m *Manager) Get(endpoint string) *gobreaker.CircuitBreaker[[]byte] {
	m.mu.RLock()
	cb := m.m[endpoint]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[endpoint]; cb != nil {
		return cb
	}

	rule, ok := m.rules[endpoint]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         endpoint,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				failRate := float64(c.TotalFailures) / float64(c.Requests)
				return failRate >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(m.service, name, from.String()).Set(0)
			metrics.CBState.WithLabelValues(m.service, name, to.String()).Set(1)
		},
	}

	cb = gobreaker.NewCircuitBreaker[[]byte](st)
	m.m[endpoint] = cb
	return cb
}

// Execute 经过熔断器执行，被拒绝时计数
func (m *Manager) Execute(endpoint string, fn func() ([]byte, error)) ([]byte, error) {
	b, err := m.Get(endpoint).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CBRejectTotal.WithLabelValues(m.service, endpoint, err.Error()).Inc()
	}
	return b, err
}

func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}
	// 调用方自己取消不算上游不健康
	if errors.Is(err, context.Canceled) {
		return true
	}

	var sc StatusCoder
	if !errors.As(err, &sc) {
		// 网络错误、超时、解析失败：计入失败
		return false
	}

	code := sc.StatusCode()
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusTeapot:
		// 418/429 是交易所在限我们，要降压
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}
