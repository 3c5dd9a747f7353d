package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"quotehub.com/internal/quotes/registry"
	"quotehub.com/internal/quotes/wsmetrics"
)

var (
	ErrSlowConsumer  = errors.New("ws: send buffer full")
	ErrSessionClosed = errors.New("ws: session closed")
)

// Session 一个下游连接，同时是 Registry 的订阅者。
// send 不关闭，只关 done，避免广播和关闭并发时往已关闭的 chan 写。
type Session struct {
	id string
	ws *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	cleanupOnce sync.Once
	abortOnce   sync.Once
	cause       atomic.Pointer[closeCause]
}

type closeCause struct {
	code   int
	reason string
}

var _ registry.Subscriber = (*Session)(nil)

func newSession(ws *websocket.Conn, buf int) *Session {
	return &Session{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, buf),
		done: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Send 只入队不等待，队列满直接丢，慢客户端不拖累广播
func (s *Session) Send(_ context.Context, msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		wsmetrics.DroppedTotal.WithLabelValues("slow_consumer").Inc()
		return ErrSlowConsumer
	}
}

func (s *Session) Done() <-chan struct{} { return s.done }

// abort 写端出错或服务关闭时调用：只记原因并关掉底层连接，
// 读循环随之返回，清理统一在读循环里做，保证 Add 不会跑在 RemoveAll 之后
func (s *Session) abort(code int, reason string) {
	s.abortOnce.Do(func() {
		s.cause.Store(&closeCause{code: code, reason: reason})
		_ = s.ws.Close()
	})
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
