package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/metrics"
	"quotehub.com/pkg/ratelimit"
)

type Config struct {
	BaseURL string         `mapstructure:"base_url"`
	Timeout time.Duration  `mapstructure:"timeout"`
	Retries uint           `mapstructure:"retries"`
	RPS     float64        `mapstructure:"rps"`
	Burst   int            `mapstructure:"burst"`
	Breaker ratelimit.Rule `mapstructure:"breaker"`
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries == 0 {
		c.Retries = 3
	}
	if c.RPS <= 0 {
		c.RPS = 10
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RPS)
	}
	return c
}

// StatusError 上游返回非 2xx
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

var _ ratelimit.StatusCoder = (*StatusError)(nil)

// Client 一个交易所一个实例：限速 → 熔断 → 重试
type Client struct {
	exchange string
	cfg      Config
	http     *http.Client
	limiter  *ratelimit.Store
	breakers *ratelimit.Manager
}

func New(exchange string, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		exchange: exchange,
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  ratelimit.NewStore("upstream_"+exchange, rate.Limit(cfg.RPS), cfg.Burst, 0),
		breakers: ratelimit.NewManager(exchange, cfg.Breaker, nil),
	}
}

func (c *Client) Exchange() string { return c.exchange }

// GetJSON GET base+path，2xx 的响应体解到 out
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s decode: %w", c.exchange, path, err)
	}
	return nil
}

// Get 4xx 不重试；5xx、网络错误按 Retries 重试，间隔指数增长
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 5 * time.Second

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		if err := c.limiter.Wait(ctx, c.exchange); err != nil {
			return nil, backoff.Permanent(err)
		}
		b, err := c.breakers.Execute(path, func() ([]byte, error) { return c.do(ctx, u, path) })
		if err == nil {
			return b, nil
		}
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		logger.Warn(ctx, "upstream request failed",
			zap.String("exchange", c.exchange), zap.String("path", path),
			zap.Int("attempt", attempt), zap.Error(err))
		return nil, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(c.cfg.Retries),
		backoff.WithMaxElapsedTime(3*c.cfg.Timeout),
	)
}

func (c *Client) do(ctx context.Context, u, path string) ([]byte, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(c.exchange, path, status).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return io.ReadAll(resp.Body)
}
