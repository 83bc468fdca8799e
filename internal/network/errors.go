package network

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Stage 表示连接处理链路中的阶段。
//
// 主要用于在错误回调与日志中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageListen Stage = "listen"
	StageAccept Stage = "accept" // 监听套接字上接受连接
	StageAlloc  Stage = "alloc"  // 为连接分配会话槽位
	StageStart  Stage = "start"  // 会话绑定描述符并注册读事件
	StageDial   Stage = "dial"   // 持久会话首次连接
	StagePost   Stage = "post"   // 跨 goroutine 投递到事件循环
)

func (s Stage) String() string { return string(s) }

// ErrorHandler 在某个阶段失败且错误无法通过会话回调上报时调用。
type ErrorHandler func(stage Stage, err error)

type stageError struct {
	stage Stage
	cause error
}

func (e *stageError) Error() string { return string(e.stage) + ": " + e.cause.Error() }

func (e *stageError) Unwrap() error { return e.cause }

// WithStage 为 err 附加阶段信息，err 为 nil 时返回 nil。
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, cause: err}
}

// StageOf 返回 err 链上最近一次附加的阶段。
func StageOf(err error) (Stage, bool) {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage, true
	}
	return "", false
}

// FieldStage 返回用于日志的阶段字段。
func FieldStage(stage Stage) zap.Field {
	return zap.Stringer("stage", stage)
}
