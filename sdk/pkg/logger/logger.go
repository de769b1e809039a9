package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
)

type ContextKey string

const (
	// TraceKey 消息链路追踪 ID 在日志字段与 context 中使用的键
	TraceKey  ContextKey = "JXT-Trace-Id"
	LoggerKey ContextKey = "_jxt-iot-zap-logger-message"
)

var (
	Logger        = zap.NewNop()   //全局ZapLogger打印，Setup 之前为空操作
	DefaultLogger = Logger.Sugar() //全局SugarLogger打印，用于简易打印
)

// WithTrace 创建带 traceID 字段的 logger 并放入 context，供处理器和插件取用
func WithTrace(ctx context.Context, traceID string) context.Context {
	messageLogger := Logger.With(zap.String(string(TraceKey), traceID))
	ctx = context.WithValue(ctx, TraceKey, traceID)
	return context.WithValue(ctx, LoggerKey, messageLogger)
}

// FromContext 从上下文获得logger，找不到时返回全局 Logger
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
			return l
		}
	}
	return Logger
}

// TraceID 从上下文获得 traceID
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceKey).(string)
	return id
}

// Named 返回全局 Logger 的子 logger，组件构造时 logger 为空时使用
func Named(name string) *zap.Logger {
	return Logger.Named(name)
}

func Info(args ...interface{}) {
	DefaultLogger.Info(args...)
}

func Infof(template string, args ...interface{}) {
	DefaultLogger.Infof(template, args...)
}

func Debug(args ...interface{}) {
	DefaultLogger.Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	DefaultLogger.Debugf(template, args...)
}

func Warn(args ...interface{}) {
	DefaultLogger.Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	DefaultLogger.Warnf(template, args...)
}

func Error(args ...interface{}) {
	DefaultLogger.Error(args...)
}

func Errorf(template string, args ...interface{}) {
	DefaultLogger.Errorf(template, args...)
}

func Fatal(args ...interface{}) {
	DefaultLogger.Fatal(args...)
	os.Exit(1)
}

func Fatalf(template string, args ...interface{}) {
	DefaultLogger.Fatalf(template, args...)
	os.Exit(1)
}
