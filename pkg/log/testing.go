package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger 返回输出到 t.Log 的 Logger，只在测试失败或 -v 时可见。
func NewTestLogger(t zaptest.TestingT) *MLogger {
	return NewMLogger(zaptest.NewLogger(t,
		zaptest.Level(zapcore.DebugLevel),
		zaptest.WrapOptions(zap.AddCaller()),
	))
}
