// Package reactor 提供会话层依赖的事件集：描述符可读/可写就绪通知与定时器。
//
// 所有 Event 都归属于一个 Loop，且只能在该 Loop 所在的 goroutine 上注册、
// 注销与回调；跨 goroutine 的请求通过 Loop.Post 投递。
package reactor

import (
	"time"
)

// Kind 为事件类型。
type Kind uint8

const (
	KindRead Kind = iota + 1
	KindWrite
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindTimer:
		return "timer"
	}
	return "unknown"
}

// Fired 为一次回调携带的就绪位。
type Fired uint8

const (
	Readable Fired = 1 << iota
	Writable
	Timeout
)

func (f Fired) Has(bit Fired) bool { return f&bit != 0 }

// Callback 为事件回调，在 Loop 的 goroutine 上执行。
type Callback func(ev *Event, fired Fired)

// EventSet 为会话使用的事件集接口。
//
// Add 对已注册的事件是幂等的（仅刷新超时），Del 对未注册的事件同样是幂等的。
type EventSet interface {
	Add(ev *Event) error
	Del(ev *Event) error
	Now() time.Time
}

// Event 为一个读、写或定时器事件。
//
// 读写事件在注销前持续有效（水平触发）；设置了超时的读写事件在每次就绪后
// 重新计时，超时后以 Timeout 回调并继续计时。定时器事件为一次性事件，
// 回调前即已注销，需要周期执行时在回调中重新 Add。
type Event struct {
	fd      int
	kind    Kind
	timeout time.Duration
	cb      Callback

	armed    bool
	deadline time.Time
	index    int // 定时器堆下标，-1 表示不在堆中
}

// Set 绑定描述符、类型与回调，事件处于注册状态时不得调用。
func (ev *Event) Set(fd int, kind Kind, cb Callback) {
	ev.fd, ev.kind, ev.cb = fd, kind, cb
	ev.index = -1
}

// SetTimeout 设置超时，d <= 0 表示不超时。对已注册的事件在下一次 Add 时生效。
func (ev *Event) SetTimeout(d time.Duration) {
	ev.timeout = max(d, 0)
}

func (ev *Event) Fd() int { return ev.fd }

func (ev *Event) Kind() Kind { return ev.kind }

func (ev *Event) Timeout() time.Duration { return ev.timeout }

// Armed 返回事件是否处于注册状态。
func (ev *Event) Armed() bool { return ev.armed }

// Fire 以给定就绪位执行回调。
func (ev *Event) Fire(fired Fired) {
	if ev.cb != nil {
		ev.cb(ev, fired)
	}
}
