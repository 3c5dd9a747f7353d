package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context 里携带的链路字段
const (
	TraceIdKey   = "trace_id"
	SessionIdKey = "session_id"
)

// Log 全局 Logger，未 Init 前是 nop，测试里直接调用不会 panic
var Log = zap.NewNop()

// level 支持配置热更新
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Init 初始化日志组件
// serviceName: 服务名 (例如 "quote-gateway")
// lvl: debug / info / warn / error
func Init(serviceName string, lvl string) {
	InitWithFile(serviceName, lvl, "")
}

// InitWithFile 同 Init，logFile 为空时写 logs/{serviceName}.log
func InitWithFile(serviceName string, lvl string, logFile string) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	// 控制台 + 文件
	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stdout),
	}

	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writeSyncers = append(writeSyncers, zapcore.AddSync(file))
		}
		// 文件打不开就只写控制台，不中断启动
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		level,
	)

	// 封装了一层，CallerSkip 1 行号才指向调用方
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// SetLevel 运行时修改日志级别，非法值忽略
func SetLevel(lvl string) bool {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return false
	}
	level.SetLevel(l)
	return true
}

// Level 当前级别
func Level() zapcore.Level { return level.Level() }

// WithSession 把 session id 放进 ctx，之后的日志自动带上
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIdKey, id)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

// Fatal 会调用 os.Exit，只在 main 里用
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Fatal(msg, fields...)
}

// extractTrace 从 ctx 取 trace_id / session_id 追加到 fields
// 优先 otel span，其次手动塞进 ctx 的 trace_id
func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		*fields = append(*fields, zap.String(TraceIdKey, sc.TraceID().String()))
	} else if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String(TraceIdKey, traceID))
	}

	if sid, ok := ctx.Value(SessionIdKey).(string); ok && sid != "" {
		*fields = append(*fields, zap.String(SessionIdKey, sid))
	}
}

// Sync 刷新缓冲区 (main 里 defer)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
