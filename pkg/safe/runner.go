package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"quotehub.com/pkg/logger"
)

// Go 安全启动协程，panic 只记日志不带崩进程
func Go(fn func()) {
	go func() {
		defer Recover(context.Background())
		fn()
	}()
}

// GoCtx 带 ctx 的版本，日志里保留 session/trace 信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer Recover(ctx)
		fn(ctx)
	}()
}

// Recover 在 defer 中调用
func Recover(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
