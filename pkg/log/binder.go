package log

import "go.uber.org/atomic"

// Binder 嵌入到组件中保存组件自己的 Logger，未设置时使用全局 Logger。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// SetLogger 设置组件 Logger。
func (b *Binder) SetLogger(logger *MLogger) {
	b.logger.Store(logger)
}

func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
