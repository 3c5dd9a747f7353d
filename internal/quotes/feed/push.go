package feed

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"
	"quotehub.com/internal/quotes/topic"
	"quotehub.com/internal/quotes/wsmetrics"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/safe"
)

type PushConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	FirstPing      time.Duration `mapstructure:"first_ping"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
}

func (c PushConfig) withDefaults() PushConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.FirstPing <= 0 {
		c.FirstPing = 15 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4 << 20 // 全市场批量帧比较大
	}
	return c
}

// PushAdapter 一条上游 ws 长连接。
//
// replay 是“应该订阅什么”的唯一来源，断线不清空；sent 是当前连接上已经发出去的订阅，
// 每次连上时清空后按 replay 重放。Subscribe / Unsubscribe 只做 replay 的增删并通知
// 连接上的 syncLoop，由它用 desired - sent 的差量发帧，所以全市场订阅天然只发一次。
// 调用方不会被品种表解析或写帧挡住，这两类失败都是暂时的，syncLoop 隔一会儿重试。
type PushAdapter struct {
	group    topic.Group
	proto    Protocol
	resolver Resolver
	sink     Sink
	cfg      PushConfig

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	gen      uint64 // 连接代数，旧连接上的发送结果不能记到新连接
	replay   map[entry]struct{}
	sent     map[Upstream]struct{}
	universe map[topic.Channel][]string
	lastPing time.Time
	lastPong time.Time

	// 串行化 diff + 发帧，读循环不拿这把锁
	syncMu sync.Mutex
	kick   chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ Adapter = (*PushAdapter)(nil)

func NewPushAdapter(ctx context.Context, g topic.Group, proto Protocol, resolver Resolver, sink Sink, cfg PushConfig) *PushAdapter {
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &PushAdapter{
		group:    g,
		proto:    proto,
		resolver: resolver,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		replay:   make(map[entry]struct{}),
		sent:     make(map[Upstream]struct{}),
		universe: make(map[topic.Channel][]string),
		kick:     make(chan struct{}, 1),
		ctx:      actx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动连接循环，只调用一次
func (a *PushAdapter) Start() {
	safe.GoCtx(a.ctx, func(ctx context.Context) { a.run() })
}

func (a *PushAdapter) Mode() Source          { return SourcePush }
func (a *PushAdapter) Done() <-chan struct{} { return a.done }

func (a *PushAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *PushAdapter) setState(s State) {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()
	wsmetrics.AdapterState.WithLabelValues(a.group.String(), string(SourcePush)).Set(float64(s))
}

// Subscribe 只在 adapter 已停止时返回错误
func (a *PushAdapter) Subscribe(_ context.Context, sym topic.Symbol, ch topic.Channel) error {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return ErrStopped
	}
	e := entry{sym: sym, ch: ch}
	if _, ok := a.replay[e]; ok {
		a.mu.Unlock()
		return nil
	}
	a.replay[e] = struct{}{}
	a.mu.Unlock()

	a.notify()
	return nil
}

func (a *PushAdapter) Unsubscribe(_ context.Context, sym topic.Symbol, ch topic.Channel) error {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return nil
	}
	e := entry{sym: sym, ch: ch}
	if _, ok := a.replay[e]; !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.replay, e)
	if sym.IsWildcard() {
		delete(a.universe, ch)
	}
	a.mu.Unlock()

	a.notify()
	return nil
}

func (a *PushAdapter) notify() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *PushAdapter) Stop() error {
	a.stopOnce.Do(func() {
		a.cancel()
		a.mu.Lock()
		c := a.conn
		a.mu.Unlock()
		if c != nil {
			_ = c.CloseNow()
		}
	})
	<-a.done
	return nil
}

func (a *PushAdapter) run() {
	defer close(a.done)
	defer func() {
		a.mu.Lock()
		a.state = StateStopped
		a.conn = nil
		a.mu.Unlock()
		wsmetrics.AdapterState.WithLabelValues(a.group.String(), string(SourcePush)).Set(float64(StateStopped))
	}()

	// 上游只有几条连接，不需要指数退避
	b := backoff.NewConstantBackOff(a.cfg.ReconnectDelay)
	for a.ctx.Err() == nil {
		a.setState(StateConnecting)
		conn, err := a.dial()
		if err == nil {
			wsmetrics.UpstreamConnectTotal.WithLabelValues(a.group.Exchange, "ok").Inc()
			logger.Info(a.ctx, "upstream connected", zap.String("group", a.group.String()))
			err = a.serveConn(conn)
		} else {
			wsmetrics.UpstreamConnectTotal.WithLabelValues(a.group.Exchange, "error").Inc()
		}
		a.setState(StateDisconnected)

		if a.ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		logger.Warn(a.ctx, "upstream disconnected, reconnecting",
			zap.String("group", a.group.String()),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		if !sleepCtx(a.ctx, wait) {
			return
		}
	}
}

func (a *PushAdapter) dial() (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(a.ctx, a.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, a.proto.URL(a.group.Market), nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(a.cfg.ReadLimit)
	return conn, nil
}

// serveConn 阻塞到连接断开
func (a *PushAdapter) serveConn(conn *websocket.Conn) error {
	a.mu.Lock()
	a.conn = conn
	a.gen++
	a.sent = make(map[Upstream]struct{})
	a.lastPing, a.lastPong = time.Time{}, time.Time{}
	a.mu.Unlock()
	a.setState(StateConnected)

	connCtx, cancel := context.WithCancel(a.ctx)
	defer func() {
		cancel()
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
			a.sent = make(map[Upstream]struct{})
		}
		a.mu.Unlock()
		_ = conn.CloseNow()
	}()

	// 重放和心跳都不能挡住读循环，coder/websocket 只有在 Read 时才处理控制帧
	safe.GoCtx(connCtx, a.syncLoop)
	safe.GoCtx(connCtx, func(ctx context.Context) { a.heartbeat(ctx, conn) })

	for {
		_, raw, err := conn.Read(connCtx)
		if err != nil {
			return err
		}
		a.handle(raw)
	}
}

func (a *PushAdapter) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTimer(a.cfg.FirstPing)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		now := time.Now()
		a.mu.Lock()
		missed := !a.lastPing.IsZero() && a.lastPong.Before(a.lastPing)
		a.lastPing = now
		a.mu.Unlock()
		if missed {
			// 只记日志，断不断由上游自己的 idle timeout 决定
			logger.Warn(ctx, "upstream pong missing since last ping", zap.String("group", a.group.String()))
		}

		if frame := a.proto.PingFrame(now); frame != nil {
			if err := a.write(ctx, conn, frame); err != nil {
				logger.Warn(ctx, "upstream ping write failed", zap.String("group", a.group.String()), zap.Error(err))
			}
		} else {
			pctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				a.markPong()
			} else if ctx.Err() == nil {
				logger.Warn(ctx, "upstream ping failed", zap.String("group", a.group.String()), zap.Error(err))
			}
		}
		t.Reset(a.cfg.PingInterval)
	}
}

func (a *PushAdapter) markPong() {
	a.mu.Lock()
	a.lastPong = time.Now()
	a.mu.Unlock()
}

func (a *PushAdapter) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, frame)
}

// syncLoop 连接存活期间的唯一发帧方：先按 replay 重放，之后每次收到通知再对齐。
// 失败只记日志，隔 ReconnectDelay 重试；品种表解析不出时 "*" 先不展开，其余差量照发。
func (a *PushAdapter) syncLoop(ctx context.Context) {
	refresh := true
	var retry <-chan time.Time
	for {
		if err := a.sync(ctx, refresh); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "sync upstream subscriptions failed, will retry",
				zap.String("group", a.group.String()),
				zap.Duration("retry_in", a.cfg.ReconnectDelay),
				zap.Error(err),
			)
			retry = time.After(a.cfg.ReconnectDelay)
		} else {
			refresh = false
			retry = nil
		}

		select {
		case <-ctx.Done():
			return
		case <-a.kick:
		case <-retry:
		}
	}
}

// sync 让当前连接上的上游订阅和 replay 对齐；未连接时什么都不做，等连上后统一重放。
// refresh=true 时重新解析全市场品种列表（每次重连都取新快照）。
func (a *PushAdapter) sync(ctx context.Context, refresh bool) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	a.mu.Lock()
	connected := a.conn != nil && a.state == StateConnected
	a.mu.Unlock()
	if !connected {
		return nil
	}

	expandErr := a.expandWildcards(ctx, refresh)

	a.mu.Lock()
	conn, gen := a.conn, a.gen
	if conn == nil {
		a.mu.Unlock()
		return expandErr
	}
	want := a.desiredLocked()
	var subs, unsubs []Upstream
	for u := range want {
		if _, ok := a.sent[u]; !ok {
			subs = append(subs, u)
		}
	}
	for u := range a.sent {
		if _, ok := want[u]; !ok {
			unsubs = append(unsubs, u)
		}
	}
	a.mu.Unlock()

	// 先退订再订阅
	if err := a.send(ctx, conn, gen, unsubs, false); err != nil {
		return err
	}
	if err := a.send(ctx, conn, gen, subs, true); err != nil {
		return err
	}
	return expandErr
}

func (a *PushAdapter) send(ctx context.Context, conn *websocket.Conn, gen uint64, ups []Upstream, sub bool) error {
	if len(ups) == 0 {
		return nil
	}
	sortUpstreams(ups)

	var (
		frames [][]byte
		err    error
		op     = "sub"
	)
	if sub {
		frames, err = a.proto.SubscribeFrames(a.group.Market, ups)
	} else {
		op = "unsub"
		frames, err = a.proto.UnsubscribeFrames(a.group.Market, ups)
	}
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := a.write(ctx, conn, f); err != nil {
			return err
		}
		wsmetrics.UpstreamSubOpsTotal.WithLabelValues(a.group.Exchange, op).Inc()
	}

	a.mu.Lock()
	if a.gen == gen && a.conn == conn {
		for _, u := range ups {
			if sub {
				a.sent[u] = struct{}{}
			} else {
				delete(a.sent, u)
			}
		}
	}
	a.mu.Unlock()

	logger.Debug(ctx, "upstream "+op, zap.String("group", a.group.String()), zap.Int("count", len(ups)))
	return nil
}

// expandWildcards 上游没有全市场流的频道，"*" 需要品种列表才能展开
func (a *PushAdapter) expandWildcards(ctx context.Context, refresh bool) error {
	a.mu.Lock()
	var need []topic.Channel
	for e := range a.replay {
		if !e.sym.IsWildcard() || a.proto.WholeMarketTopic(a.group.Market, e.ch) {
			continue
		}
		if _, ok := a.universe[e.ch]; refresh || !ok {
			need = append(need, e.ch)
		}
	}
	a.mu.Unlock()
	if len(need) == 0 {
		return nil
	}

	symbols, err := a.resolver.Resolve(ctx, a.group.Exchange, a.group.Market)
	if err != nil {
		return err
	}
	a.mu.Lock()
	for _, ch := range need {
		// 解析期间 "*" 可能已经被退订
		if _, ok := a.replay[entry{sym: topic.Wildcard, ch: ch}]; ok {
			a.universe[ch] = symbols
		}
	}
	a.mu.Unlock()
	return nil
}

func (a *PushAdapter) desiredLocked() map[Upstream]struct{} {
	out := make(map[Upstream]struct{}, len(a.replay))
	for e := range a.replay {
		if !e.sym.IsWildcard() {
			out[Upstream{Symbol: e.sym.Name(), Channel: e.ch}] = struct{}{}
			continue
		}
		if a.proto.WholeMarketTopic(a.group.Market, e.ch) {
			out[Upstream{Channel: e.ch, WholeMarket: true}] = struct{}{}
			continue
		}
		for _, s := range a.universe[e.ch] {
			out[Upstream{Symbol: s, Channel: e.ch}] = struct{}{}
		}
	}
	return out
}

func (a *PushAdapter) handle(raw []byte) {
	frames, err := a.proto.Decode(a.group.Market, raw)
	if err != nil {
		wsmetrics.UpstreamFramesTotal.WithLabelValues(a.group.Exchange, "malformed").Inc()
		logger.Debug(a.ctx, "malformed upstream frame dropped",
			zap.String("group", a.group.String()),
			zap.Error(err),
			zap.ByteString("raw", truncate(raw, 256)),
		)
		return
	}

	for _, f := range frames {
		switch f.Kind {
		case FramePong:
			wsmetrics.UpstreamFramesTotal.WithLabelValues(a.group.Exchange, "pong").Inc()
			a.markPong()
		case FrameControl:
			wsmetrics.UpstreamFramesTotal.WithLabelValues(a.group.Exchange, "control").Inc()
		case FrameData:
			wsmetrics.UpstreamFramesTotal.WithLabelValues(a.group.Exchange, "data").Inc()
			if f.WholeMarket && a.hasOwnStream(f.Symbol, f.Channel) {
				// 这个品种单独订阅过，数据走它自己的流，避免同一行情推两遍
				continue
			}
			ts := f.TS
			if ts.IsZero() {
				ts = time.Now()
			}
			a.sink.Deliver(a.ctx, Event{
				Exchange: a.group.Exchange,
				Market:   a.group.Market,
				Channel:  f.Channel,
				Symbol:   f.Symbol,
				Source:   SourcePush,
				Payload:  f.Payload,
				TS:       ts,
			})
		}
	}
}

func (a *PushAdapter) hasOwnStream(symbol string, ch topic.Channel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sent[Upstream{Symbol: symbol, Channel: ch}]
	return ok
}

// Subscriptions 当前 replay 集合的快照，调试接口和测试用
func (a *PushAdapter) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.replay))
	for e := range a.replay {
		out = append(out, string(e.ch)+":"+e.sym.String())
	}
	sort.Strings(out)
	return out
}

func sortUpstreams(ups []Upstream) {
	sort.Slice(ups, func(i, j int) bool {
		if ups[i].Channel != ups[j].Channel {
			return ups[i].Channel < ups[j].Channel
		}
		if ups[i].WholeMarket != ups[j].WholeMarket {
			return ups[i].WholeMarket
		}
		return ups[i].Symbol < ups[j].Symbol
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// MillisTime 交易所毫秒时间戳
func MillisTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ParseMillis 字符串形式的毫秒时间戳
func ParseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return MillisTime(ms)
}
