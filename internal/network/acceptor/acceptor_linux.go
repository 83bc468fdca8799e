//go:build linux

// Package acceptor 在事件循环上接受 TCP 连接。
package acceptor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fwjieok/libevlite/internal/network"
	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/util/merr"
	"github.com/fwjieok/libevlite/pkg/util/retry"
)

// pauseConfig 为 accept 失败后暂停监听的退避配置。
var pauseConfig = retry.BackOffConfig{
	InitialInterval: 10 * time.Millisecond,
	MaxInterval:     time.Second,
	Multiplier:      2,
}

// Handler 接管一个新接受的连接描述符，在 Acceptor 所属的事件循环上调用。
type Handler func(fd int, host string, port uint16)

// Acceptor 为注册在事件循环上的监听套接字。
//
// 监听描述符可读时循环 accept 直到 EAGAIN，每个连接交给 Handler。
// accept 出错（如描述符耗尽）时注销监听事件，按退避间隔暂停后重新注册。
type Acceptor struct {
	log.Binder

	fd   int
	host string
	port uint16

	ev      reactor.Event
	pause   reactor.Event
	evs     reactor.EventSet
	handler Handler
	onError network.ErrorHandler
	accept  func(lfd int) (int, string, uint16, error)
	backoff backoff.BackOff

	accepted uint64
	failures int
}

type Option func(*Acceptor)

// WithErrorHandler 设置 accept 失败时的回调。
func WithErrorHandler(h network.ErrorHandler) Option {
	return func(a *Acceptor) {
		a.onError = h
	}
}

func WithLogger(logger *log.MLogger) Option {
	return func(a *Acceptor) {
		a.SetLogger(logger)
	}
}

// Listen 在 host:port 上创建监听套接字，port 为 0 时由系统分配。
func Listen(host string, port uint16, backlog int, h Handler, opts ...Option) (*Acceptor, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler", "acceptor")
	}
	fd, err := netfd.Listen(host, port, backlog)
	if err != nil {
		return nil, network.WithStage(err, network.StageListen)
	}
	// 以实际绑定的地址为准。
	if bound, bport, err := netfd.LocalAddr(fd); err == nil {
		host, port = bound, bport
	}

	a := &Acceptor{
		fd:      fd,
		host:    host,
		port:    port,
		handler: h,
		accept:  netfd.Accept,
		backoff: retry.NewBackOff(pauseConfig),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.SetLogger(a.Logger().With(log.FieldComponent("acceptor"), log.FieldEndpoint(host, port)))
	a.ev.Set(fd, reactor.KindRead, a.onAcceptable)
	a.pause.Set(-1, reactor.KindTimer, a.onResume)
	return a, nil
}

// Addr 返回监听地址。
func (a *Acceptor) Addr() (string, uint16) { return a.host, a.port }

func (a *Acceptor) Fd() int { return a.fd }

// Accepted 返回累计接受的连接数。
func (a *Acceptor) Accepted() uint64 { return a.accepted }

// Start 将监听描述符注册到事件集，只能在事件循环的 goroutine 上调用。
func (a *Acceptor) Start(evs reactor.EventSet) error {
	if a.fd < 0 {
		return merr.WrapErrServiceUnavailable("acceptor closed")
	}
	if err := evs.Add(&a.ev); err != nil {
		return err
	}
	a.evs = evs
	a.Logger().Info("acceptor started")
	return nil
}

// Close 注销事件并关闭监听描述符，重复调用无副作用。
func (a *Acceptor) Close() error {
	if a.fd < 0 {
		return nil
	}
	var err error
	if a.evs != nil {
		err = merr.Combine(a.evs.Del(&a.pause), a.evs.Del(&a.ev))
		a.evs = nil
	}
	err = merr.Combine(err, merr.WrapErrIoFailed("close", unix.Close(a.fd)))
	a.fd = -1
	a.Logger().Info("acceptor closed", zap.Uint64("accepted", a.accepted))
	return err
}

func (a *Acceptor) onAcceptable(_ *reactor.Event, _ reactor.Fired) {
	for a.fd >= 0 {
		fd, host, port, err := a.accept(a.fd)
		if err != nil {
			if errors.Is(err, netfd.ErrWouldBlock) {
				return
			}
			a.failures++
			a.Logger().RatedWarn(1, "accept failed", zap.Int("failures", a.failures), zap.Error(err))
			if a.onError != nil {
				a.onError(network.StageAccept, err)
			}
			a.suspend()
			return
		}
		if a.failures > 0 {
			a.failures = 0
			a.backoff.Reset()
		}
		a.accepted++
		a.handler(fd, host, port)
	}
}

// suspend 暂停监听，监听描述符在水平触发下仍然可读，不注销会空转。
func (a *Acceptor) suspend() {
	if a.evs == nil {
		return
	}
	d := a.backoff.NextBackOff()
	if d == backoff.Stop {
		d = pauseConfig.MaxInterval
	}
	if err := a.evs.Del(&a.ev); err != nil {
		a.Logger().Warn("suspend acceptor failed", zap.Error(err))
		return
	}
	a.pause.SetTimeout(d)
	if err := a.evs.Add(&a.pause); err != nil {
		a.Logger().Warn("schedule acceptor resume failed", zap.Error(err))
		_ = a.evs.Add(&a.ev)
		return
	}
	a.Logger().Debug("acceptor suspended", zap.Duration("pause", d))
}

func (a *Acceptor) onResume(_ *reactor.Event, _ reactor.Fired) {
	if a.fd < 0 || a.evs == nil {
		return
	}
	if err := a.evs.Add(&a.ev); err != nil {
		a.Logger().Warn("resume acceptor failed", zap.Error(err))
		if a.onError != nil {
			a.onError(network.StageAccept, err)
		}
	}
}
