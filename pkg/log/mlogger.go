package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MLogger 在 zap.Logger 之上增加按分组限流的日志能力，
// 网络层在 accept 失败、重连失败这类高频路径上使用。
type MLogger struct {
	*zap.Logger
	limiter RateLimiter
}

// NewMLogger 包装一个 zap.Logger，限流使用全局 RateLimiter。
func NewMLogger(l *zap.Logger) *MLogger {
	return &MLogger{Logger: l}
}

// With 返回携带额外字段的子 Logger，字段在首次输出时才编码。
func (l *MLogger) With(fields ...zap.Field) *MLogger {
	return &MLogger{Logger: l.Logger.WithLazy(fields...), limiter: l.limiter}
}

// WithRateGroup 返回绑定到命名限流分组的子 Logger。
// 同名分组共享额度，后一次调用的参数覆盖前一次。
func (l *MLogger) WithRateGroup(group string, creditPerSecond, maxBalance float64) *MLogger {
	return &MLogger{Logger: l.Logger, limiter: rateGroup(group, creditPerSecond, maxBalance)}
}

func (l *MLogger) rateLimiter() RateLimiter {
	if l.limiter != nil {
		return l.limiter
	}
	return R()
}

func (l *MLogger) rated(level zapcore.Level, cost float64, msg string, fields []zap.Field) bool {
	if !l.Core().Enabled(level) || !l.rateLimiter().CheckCredit(cost) {
		return false
	}
	l.WithOptions(zap.AddCallerSkip(2)).Log(level, msg, fields...)
	return true
}

// RatedDebug 在额度允许时以 Debug 级别输出，返回是否已输出。
func (l *MLogger) RatedDebug(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.DebugLevel, cost, msg, fields)
}

// RatedInfo 在额度允许时以 Info 级别输出，返回是否已输出。
func (l *MLogger) RatedInfo(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.InfoLevel, cost, msg, fields)
}

// RatedWarn 在额度允许时以 Warn 级别输出，返回是否已输出。
func (l *MLogger) RatedWarn(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.WarnLevel, cost, msg, fields)
}
