package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowSQLThreshold 兜底存储写入超过该耗时记为慢SQL
const slowSQLThreshold = 200 * time.Millisecond

type CustomGormLogger struct {
	ZapLogger *zap.Logger
	LogLevel  gormlogger.LogLevel
}

// NewGormLogger 创建自定义 GORM 日志器，兜底存储的 SQL 日志统一走 zap
func NewGormLogger(baseLogger *zap.Logger, gormLogLevel int) gormlogger.Interface {
	if baseLogger == nil {
		baseLogger = Logger
	}
	if gormLogLevel <= 0 {
		gormLogLevel = int(gormlogger.Warn)
	}
	return &CustomGormLogger{
		ZapLogger: baseLogger.Named("gorm"),
		LogLevel:  gormlogger.LogLevel(gormLogLevel),
	}
}

// LogMode 设置日志级别
func (l *CustomGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &CustomGormLogger{
		ZapLogger: l.ZapLogger,
		LogLevel:  level,
	}
}

func (l *CustomGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.ZapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *CustomGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.ZapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *CustomGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.ZapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace 记录每条SQL；RecordNotFound 在兜底存储里是正常分支，不按错误打印
func (l *CustomGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}
	if traceID := TraceID(ctx); traceID != "" {
		fields = append(fields, zap.String(string(TraceKey), traceID))
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error:
		l.ZapLogger.Error("SQL错误", append(fields, zap.Error(err))...)
	case elapsed > slowSQLThreshold && l.LogLevel >= gormlogger.Warn:
		l.ZapLogger.Warn("慢SQL", fields...)
	case l.LogLevel >= gormlogger.Info:
		l.ZapLogger.Info("SQL", fields...)
	}
}
