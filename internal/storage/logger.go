package storage

import (
	"context"
	"errors"
	"time"

	"oauthpilot/internal/ctxkeys"
	applog "oauthpilot/internal/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQuery 慢查询阈值；接力读写在页面卸载前完成，超过此值即值得告警
const slowQuery = 200 * time.Millisecond

// GormLogger 把 GORM 日志桥接到应用日志
type GormLogger struct {
	log   applog.Logger
	level logger.LogLevel
}

// NewGormLogger 创建 GormLogger，默认只记录警告及以上
func NewGormLogger(l applog.Logger) *GormLogger {
	if l == nil {
		l = applog.NewNop()
	}
	return &GormLogger{log: l.With("component", "gorm"), level: logger.Warn}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.Info(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.Warn(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.Error(msg, "traceId", ctxkeys.TraceID(ctx), "data", data)
	}
}

// Trace 记录 SQL 执行；记录不存在不算错误
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := []any{"traceId", ctxkeys.TraceID(ctx), "sql", sql, "rows", rows, "elapsed", elapsed}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.log.Err(err, "SQL执行错误", kv...)
	case elapsed > slowQuery && l.level >= logger.Warn:
		l.log.Warn("慢SQL查询", kv...)
	case l.level >= logger.Info:
		l.log.Debug("SQL执行", kv...)
	}
}
