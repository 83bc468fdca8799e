// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxLogKey struct{}

// Debug 使用全局 Logger 输出 Debug 日志。
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

// Info 使用全局 Logger 输出 Info 日志。
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

// Warn 使用全局 Logger 输出 Warn 日志。
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

// Error 使用全局 Logger 输出 Error 日志。
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// With 基于全局 Logger 创建携带额外字段的 MLogger。
func With(fields ...zap.Field) *MLogger {
	// 全局 Logger 为包级函数多跳过了一层调用栈，直接使用时需要还原。
	return NewMLogger(L().WithOptions(zap.AddCallerSkip(-1)).WithLazy(fields...))
}

// WithFields 返回一个 Logger 附加了 fields 的 ctx。
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, Ctx(ctx).With(fields...))
}

// WithLogger 返回携带 logger 的 ctx，之后 Ctx(ctx) 返回该 logger。
func WithLogger(ctx context.Context, logger *MLogger) context.Context {
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// NewIntentContext 在 ctx 下开启一个 span，并返回携带 role/intent/traceID 字段的 ctx。
// 事件循环等常驻任务用它标记日志归属。
func NewIntentContext(ctx context.Context, name string, intent string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(name).Start(ctx, intent)
	ctx = WithFields(ctx,
		zap.String("role", name),
		zap.String("intent", intent),
		zap.String("traceID", span.SpanContext().TraceID().String()))
	return ctx, span
}

// Ctx 返回 ctx 中携带的 Logger，没有时返回全局 Logger。
func Ctx(ctx context.Context) *MLogger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLogKey{}).(*MLogger); ok {
			return l
		}
	}
	return With()
}
