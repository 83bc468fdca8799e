//go:build linux

package reactor

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

const (
	DefaultMaxEvents = 256

	readMask  = unix.EPOLLIN | unix.EPOLLRDHUP
	writeMask = unix.EPOLLOUT
)

var _ EventSet = (*Loop)(nil)

// fdEntry 聚合同一描述符上的读写事件，对应一条 epoll 注册。
type fdEntry struct {
	read  *Event
	write *Event
	mask  uint32
}

func (e *fdEntry) interest() uint32 {
	var mask uint32
	if e.read != nil {
		mask |= readMask
	}
	if e.write != nil {
		mask |= writeMask
	}
	return mask
}

// Loop 为基于 epoll（水平触发）的事件循环。
//
// 除 Post 外的所有方法都只能在运行 Loop 的 goroutine 上调用。
type Loop struct {
	log.Binder

	epfd   int
	wakefd int
	events []unix.EpollEvent
	fds    map[int]*fdEntry
	timers timerHeap
	fired  []*Event
	now    time.Time

	mu     sync.Mutex
	tasks  []func()
	closed bool
}

// NewLoop 创建事件循环，maxEvents 为单次 epoll_wait 返回的最大事件数。
func NewLoop(maxEvents int) (*Loop, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, merr.WrapErrIoFailed("epoll_create", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, merr.WrapErrIoFailed("eventfd", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, merr.WrapErrIoFailed("epoll_ctl", err)
	}
	return &Loop{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
		fds:    make(map[int]*fdEntry),
		now:    time.Now(),
	}, nil
}

// Now 返回本轮循环缓存的时间。
func (l *Loop) Now() time.Time {
	return l.now
}

// Add 注册事件，对已注册的事件仅刷新超时。
func (l *Loop) Add(ev *Event) error {
	switch ev.kind {
	case KindRead, KindWrite:
		if !ev.armed {
			if err := l.watch(ev); err != nil {
				return err
			}
		}
		if ev.timeout > 0 {
			l.timers.schedule(ev, l.now.Add(ev.timeout))
		} else {
			l.timers.remove(ev)
		}
	case KindTimer:
		l.timers.schedule(ev, l.now.Add(ev.timeout))
	default:
		return merr.WrapErrParameterInvalidMsg("unknown event kind %d", ev.kind)
	}
	ev.armed = true
	return nil
}

// Del 注销事件，对未注册的事件无操作。
func (l *Loop) Del(ev *Event) error {
	if !ev.armed {
		return nil
	}
	ev.armed = false
	l.timers.remove(ev)
	if ev.kind == KindTimer {
		return nil
	}
	return l.unwatch(ev)
}

func (l *Loop) watch(ev *Event) error {
	entry, ok := l.fds[ev.fd]
	if !ok {
		entry = &fdEntry{}
	}
	prev := *entry
	if ev.kind == KindRead {
		entry.read = ev
	} else {
		entry.write = ev
	}
	if err := l.apply(ev.fd, entry); err != nil {
		*entry = prev
		return err
	}
	l.fds[ev.fd] = entry
	return nil
}

func (l *Loop) unwatch(ev *Event) error {
	entry, ok := l.fds[ev.fd]
	if !ok {
		return nil
	}
	switch {
	case ev.kind == KindRead && entry.read == ev:
		entry.read = nil
	case ev.kind == KindWrite && entry.write == ev:
		entry.write = nil
	default:
		return nil
	}
	err := l.apply(ev.fd, entry)
	if entry.mask == 0 {
		delete(l.fds, ev.fd)
	}
	return err
}

// apply 将 entry 的兴趣集同步到 epoll。
func (l *Loop) apply(fd int, entry *fdEntry) error {
	mask := entry.interest()
	if mask == entry.mask {
		return nil
	}
	var (
		op  int
		err error
	)
	switch {
	case entry.mask == 0:
		op = unix.EPOLL_CTL_ADD
	case mask == 0:
		op = unix.EPOLL_CTL_DEL
	default:
		op = unix.EPOLL_CTL_MOD
	}
	if op == unix.EPOLL_CTL_DEL {
		err = unix.EpollCtl(l.epfd, op, fd, nil)
		// 描述符可能已被关闭，epoll 会自动移除。
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
			err = nil
		}
	} else {
		err = unix.EpollCtl(l.epfd, op, fd, &unix.EpollEvent{Events: mask, Fd: int32(fd)})
	}
	if err != nil {
		return merr.WrapErrIoFailed("epoll_ctl", err)
	}
	entry.mask = mask
	return nil
}

// Post 将 fn 投递到事件循环执行，可在任意 goroutine 调用。
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return merr.WrapErrServiceUnavailable("event loop closed")
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.wakeup()
	return nil
}

func (l *Loop) wakeup() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	// EAGAIN 表示计数器已饱和，循环必然会被唤醒。
	_, _ = unix.Write(l.wakefd, buf[:])
}

func (l *Loop) drainWakeup() {
	var buf [8]byte
	_, _ = unix.Read(l.wakefd, buf[:])
}

// Dispatch 等待并处理一轮事件，timeout < 0 表示一直等待到有事件或定时器到期。
func (l *Loop) Dispatch(timeout time.Duration) error {
	msec := l.waitMsec(timeout)
	n, err := unix.EpollWait(l.epfd, l.events, msec)
	if err != nil && !errors.Is(err, unix.EINTR) {
		return merr.WrapErrIoFailed("epoll_wait", err)
	}
	l.now = time.Now()

	for i := 0; i < n; i++ {
		raw := l.events[i]
		fd := int(raw.Fd)
		if fd == l.wakefd {
			l.drainWakeup()
			continue
		}
		l.dispatchFd(fd, raw.Events)
	}

	l.fired = l.timers.expire(l.now, l.fired[:0])
	for i, ev := range l.fired {
		l.fired[i] = nil
		// 本批次中先执行的回调可能已注销或重新注册了该事件。
		if !ev.armed || ev.index >= 0 {
			continue
		}
		if ev.kind == KindTimer {
			ev.armed = false
		} else {
			l.timers.schedule(ev, l.now.Add(ev.timeout))
		}
		ev.Fire(Timeout)
	}

	l.runTasks()
	return nil
}

func (l *Loop) dispatchFd(fd int, events uint32) {
	entry, ok := l.fds[fd]
	if !ok {
		return
	}
	failed := events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
	if rd := entry.read; rd != nil && (failed || events&readMask != 0) {
		if rd.timeout > 0 {
			l.timers.schedule(rd, l.now.Add(rd.timeout))
		}
		rd.Fire(Readable)
	}
	// 读回调可能已注销写事件，甚至关闭了描述符。
	entry, ok = l.fds[fd]
	if !ok {
		return
	}
	if wr := entry.write; wr != nil && (failed || events&writeMask != 0) {
		if wr.timeout > 0 {
			l.timers.schedule(wr, l.now.Add(wr.timeout))
		}
		wr.Fire(Writable)
	}
}

func (l *Loop) waitMsec(timeout time.Duration) int {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}
	l.mu.Lock()
	pending := len(l.tasks) > 0
	l.mu.Unlock()
	if pending {
		return 0
	}
	if deadline, ok := l.timers.next(); ok {
		d := deadline.Sub(time.Now())
		if d <= 0 {
			return 0
		}
		// 向上取整，避免提前醒来空转。
		until := int((d + time.Millisecond - 1) / time.Millisecond)
		if msec < 0 || until < msec {
			msec = until
		}
	}
	return msec
}

func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, task := range tasks {
		if task != nil {
			task()
		}
	}
}

// Run 持续分发事件直到 ctx 取消或出错。
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.wakeup)
	defer stop()

	l.Logger().Debug("event loop started")
	for ctx.Err() == nil {
		if err := l.Dispatch(-1); err != nil {
			l.Logger().Warn("event loop dispatch failed", zap.Error(err))
			return err
		}
	}
	l.Logger().Debug("event loop stopped")
	return nil
}

// Pending 返回已注册的描述符数与定时器数。
func (l *Loop) Pending() (fds int, timers int) {
	return len(l.fds), len(l.timers)
}

// Close 释放 epoll 与 eventfd，之后的 Post 返回错误，未执行的任务被丢弃。
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.tasks = nil
	l.mu.Unlock()

	return merr.Combine(
		merr.WrapErrIoFailed("close", unix.Close(l.wakefd)),
		merr.WrapErrIoFailed("close", unix.Close(l.epfd)),
	)
}
