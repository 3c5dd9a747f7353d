package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"quotehub.com/internal/quotes/wsmetrics"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/ratelimit"
	"quotehub.com/pkg/safe"
	"quotehub.com/pkg/xerr"
)

type Options struct {
	SendBuffer int           `mapstructure:"send_buffer"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PingJitter time.Duration `mapstructure:"ping_jitter"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	// 每个会话每秒最多处理的请求数
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 1024
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 16 << 10
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait / 2
	}
	if o.PingJitter < 0 {
		o.PingJitter = 0
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	return o
}

type Server struct {
	hub      *Hub
	reg      Registry
	opts     Options
	upgrader websocket.Upgrader
	limiter  *ratelimit.Store
	ctx      context.Context

	wg       sync.WaitGroup
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewServer(ctx context.Context, reg Registry, catalog Catalog, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		hub:  NewHub(reg, catalog),
		reg:  reg,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 行情是公开数据，不做鉴权也不校验 Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  ratelimit.NewStore("ws_session", rate.Limit(opts.RatePerSecond), opts.Burst, 0),
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

// Sessions 当前在线会话数
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Wait 等所有会话退出并完成清理，进程退出前在 Registry.Close 之前调用
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.ServeWS(w, r) }

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	sess := newSession(conn, s.opts.SendBuffer)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	wsmetrics.OnOpen()

	ctx := logger.WithSession(context.WithoutCancel(s.ctx), sess.id)
	logger.Info(ctx, "ws session opened", zap.String("remote", r.RemoteAddr))

	s.wg.Add(2)
	safe.Go(func() {
		defer s.wg.Done()
		s.writePump(ctx, sess)
	})
	safe.Go(func() {
		defer s.wg.Done()
		s.readPump(ctx, sess)
	})
}

// cleanup 只在读循环退出时调用，不管哪条路径都只跑一次：撤掉全部订阅再关连接
func (s *Server) cleanup(ctx context.Context, sess *Session, code int, reason string) {
	sess.cleanupOnce.Do(func() {
		n := s.reg.RemoveAll(ctx, sess)
		sess.close()
		s.limiter.Forget(sess.id)
		_ = sess.ws.Close()

		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		wsmetrics.OnClose(code, reason)
		logger.Info(ctx, "ws session closed", zap.Int("code", code), zap.String("reason", reason), zap.Int("removed", n))
	})
}

func (s *Server) readPump(ctx context.Context, sess *Session) {
	code, reason := websocket.CloseNoStatusReceived, "unknown"
	defer func() { s.cleanup(ctx, sess, code, reason) }()

	c := sess.ws
	c.SetReadLimit(s.opts.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, b, err := c.ReadMessage()
		if err != nil {
			code, reason = classify(err)
			if cause := sess.cause.Load(); cause != nil {
				code, reason = cause.code, cause.reason
			} else if reason == "error" {
				logger.Warn(ctx, "ws read error", zap.Error(err))
			}
			return
		}

		if !s.limiter.Allow(sess.id) {
			s.reply(ctx, sess, errorReply(xerr.NewErrCode(xerr.RateLimited)))
			continue
		}
		s.reply(ctx, sess, s.hub.Handle(ctx, sess, b))
	}
}

func classify(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, "client_close"
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return websocket.CloseAbnormalClosure, "timeout"
	}
	if errors.Is(err, net.ErrClosed) {
		return websocket.CloseGoingAway, "server_close"
	}
	return websocket.CloseAbnormalClosure, "error"
}

func (s *Server) reply(ctx context.Context, sess *Session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error(ctx, "encode reply failed", zap.Error(err))
		return
	}
	if err := sess.Send(ctx, b); err != nil {
		logger.Debug(ctx, "reply dropped", zap.Error(err))
	}
}

func (s *Server) writePump(ctx context.Context, sess *Session) {
	c := sess.ws

	// 打散 ping，避免大量连接同一时刻发
	period := s.opts.PingPeriod
	if s.opts.PingJitter > 0 {
		period += time.Duration(rand.Int63n(int64(s.opts.PingJitter)))
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sess.send:
			start := time.Now()
			_ = c.SetWriteDeadline(start.Add(s.opts.WriteWait))
			err := c.WriteMessage(websocket.TextMessage, msg)
			wsmetrics.ObserveWrite(len(msg), time.Since(start), err)
			if err != nil {
				logger.Debug(ctx, "ws write failed", zap.Error(err))
				sess.abort(websocket.CloseAbnormalClosure, "write_error")
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				sess.abort(websocket.CloseAbnormalClosure, "ping_error")
				return
			}
		case <-sess.done:
			return
		case <-s.ctx.Done():
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(s.opts.WriteWait))
			sess.abort(websocket.CloseGoingAway, "server_shutdown")
			return
		}
	}
}
