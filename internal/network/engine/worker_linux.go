//go:build linux

package engine

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/internal/network"
	"github.com/fwjieok/libevlite/internal/network/acceptor"
	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/internal/network/session"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/retry"
)

const (
	// persistKeyBase 为主动连接会话的 key 起点，与描述符的取值范围错开。
	persistKeyBase = 1 << 30

	rateCredit  = 10
	rateBalance = 100
)

// worker 为一个事件循环及其独占的会话管理器，manager 编号与 worker 编号相同。
//
// 除 post 外，worker 的方法都只能在 loop 的 goroutine 上调用。
type worker struct {
	log.Binder

	index     int
	loop      *reactor.Loop
	manager   *session.Manager
	acceptors []*acceptor.Acceptor
	posted    prometheus.Counter
}

func newWorker(index int, cfg Config, parent *log.MLogger) (*worker, error) {
	loop, err := reactor.NewLoop(cfg.MaxEvents)
	if err != nil {
		return nil, err
	}
	logger := parent.With(log.FieldWorker(index))
	loop.SetLogger(logger)

	manager, err := session.NewManager(uint8(index), cfg.SessionCapacity,
		session.WithSetting(cfg.Session),
		session.WithLogger(logger))
	if err != nil {
		_ = loop.Close()
		return nil, err
	}

	w := &worker{
		index:   index,
		loop:    loop,
		manager: manager,
		posted:  metrics.LoopPostedTasks.WithLabelValues(strconv.Itoa(index)),
	}
	// 丢弃连接、投递失败等日志在连接风暴时按分组限流。
	w.SetLogger(logger.WithRateGroup("engine.worker", rateCredit, rateBalance))
	return w, nil
}

// post 将 fn 投递到 worker 的事件循环，可在任意 goroutine 调用。
func (w *worker) post(fn func()) error {
	if err := w.loop.Post(fn); err != nil {
		return network.WithStage(err, network.StagePost)
	}
	w.posted.Inc()
	return nil
}

func (w *worker) run(ctx context.Context) error {
	ctx, span := log.NewIntentContext(log.WithLogger(ctx, w.Logger()), "engine", "worker-"+strconv.Itoa(w.index))
	defer span.End()
	log.Ctx(ctx).Info("worker started")
	err := w.loop.Run(ctx)
	log.Ctx(ctx).Info("worker stopped", zap.Error(err))
	return err
}

// accept 为新接受的描述符分配会话并启动，失败时关闭描述符。
func (w *worker) accept(fd int, host string, port uint16, factory ServiceFactory, onError network.ErrorHandler) {
	conn := netfd.New(fd)
	s, err := w.manager.Alloc(fd)
	if err != nil {
		_ = conn.Close()
		w.Logger().RatedWarn(1, "drop accepted connection",
			log.FieldFd(fd), log.FieldEndpoint(host, port), zap.Error(err))
		onError(network.StageAlloc, err)
		return
	}
	s.SetEndpoint(host, port)
	if err := netfd.SetNoDelay(fd, true); err != nil {
		w.Logger().Debug("set TCP_NODELAY failed", log.FieldFd(fd), zap.Error(err))
	}
	svc := factory(s)
	s.SetService(svc)
	if err := s.Start(session.Once, conn, w.loop); err != nil {
		_ = conn.Close()
		if rerr := w.manager.Remove(s); rerr != nil {
			w.Logger().Warn("remove session failed", zap.Error(rerr))
		}
		w.Logger().Warn("start accepted session failed", log.FieldFd(fd), zap.Error(err))
		onError(network.StageStart, err)
		return
	}
	if svc == nil {
		return
	}
	if err := svc.OnConnected(s); err != nil {
		s.End(err)
	}
}

// connect 为主动连接分配一个持久会话并发起异步连接。
func (w *worker) connect(host string, port uint16, factory ServiceFactory, dialer session.Dialer, cfg Config) (*session.Session, error) {
	s, err := w.allocPersist()
	if err != nil {
		return nil, network.WithStage(err, network.StageAlloc)
	}
	s.SetEndpoint(host, port)
	s.SetService(factory(s))
	s.SetReconnect(dialer, retry.NewBackOff(cfg.Reconnect))
	if err := s.Connect(w.loop); err != nil {
		if rerr := w.manager.Remove(s); rerr != nil {
			w.Logger().Warn("remove session failed", zap.Error(rerr))
		}
		return nil, network.WithStage(err, network.StageDial)
	}
	return s, nil
}

// allocPersist 为主动连接分配高位空闲槽位，避开小描述符落入的低位槽位。
func (w *worker) allocPersist() (*session.Session, error) {
	return w.manager.AllocFree(persistKeyBase)
}

// shutdownAll 优雅关闭所有会话与监听。
func (w *worker) shutdownAll() {
	w.closeAcceptors()
	w.manager.Range(func(s *session.Session) bool {
		if err := s.Shutdown(); err != nil {
			w.Logger().Debug("shutdown session failed", zap.Stringer("session", s.ID()), zap.Error(err))
		}
		return true
	})
}

func (w *worker) closeAcceptors() {
	for _, a := range w.acceptors {
		if err := a.Close(); err != nil {
			w.Logger().Warn("close acceptor failed", zap.Error(err))
		}
	}
	w.acceptors = nil
}

// close 在事件循环退出后释放全部资源。
func (w *worker) close() {
	w.closeAcceptors()
	w.manager.Destroy()
	if err := w.loop.Close(); err != nil {
		w.Logger().Warn("close event loop failed", zap.Error(err))
	}
}

func (w *worker) stats(withSessions bool) WorkerStats {
	fds, timers := w.loop.Pending()
	st := WorkerStats{
		Index:    w.index,
		Sessions: w.manager.Count(),
		Capacity: w.manager.Size(),
		Fds:      fds,
		Timers:   timers,
	}
	for _, a := range w.acceptors {
		st.Accepted += a.Accepted()
	}
	if !withSessions {
		return st
	}
	w.manager.Range(func(s *session.Session) bool {
		st.SessionList = append(st.SessionList, SessionInfo{
			ID:         s.ID().String(),
			Fd:         s.Fd(),
			Type:       s.Type().String(),
			Status:     s.Status().String(),
			Host:       s.Host(),
			Port:       s.Port(),
			Inbuffered: s.Inbuffered(),
			Queued:     s.Queued(),
			LastActive: s.LastActive(),
		})
		return true
	})
	return st
}
