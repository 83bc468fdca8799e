//go:build linux

// Package engine 将多个事件循环与会话管理器组合为可直接使用的 TCP 网络层。
//
// 每个 worker 独占一个事件循环和一个 Manager（编号相同），会话的全部状态只在
// 所属循环上访问。Engine 的公开方法可在任意 goroutine 调用，内部通过 Post
// 把操作投递到会话所属的循环。
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/internal/network"
	"github.com/fwjieok/libevlite/internal/network/acceptor"
	"github.com/fwjieok/libevlite/internal/network/connector"
	"github.com/fwjieok/libevlite/internal/network/message"
	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/session"
	"github.com/fwjieok/libevlite/internal/network/sid"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/conc"
	"github.com/fwjieok/libevlite/pkg/util/merr"
	"github.com/fwjieok/libevlite/pkg/util/retry"
	"github.com/fwjieok/libevlite/pkg/util/typeutil"
)

// ServiceFactory 为新会话创建回调，在会话所属的事件循环上调用。
type ServiceFactory func(s *session.Session) session.Service

const (
	stateInitialized int32 = iota
	stateRunning
	stateStopping
	stateStopped
)

var stateNames = map[int32]string{
	stateInitialized: "initialized",
	stateRunning:     "running",
	stateStopping:    "stopping",
	stateStopped:     "stopped",
}

type Option func(*Engine)

// WithErrorHandler 设置后台错误（accept、分配槽位、投递任务等）的回调。
// 回调可能在任意事件循环上执行。
func WithErrorHandler(h network.ErrorHandler) Option {
	return func(e *Engine) {
		e.onError = h
	}
}

// WithDialer 替换主动连接使用的拨号器。
func WithDialer(d session.Dialer) Option {
	return func(e *Engine) {
		e.dialer = d
	}
}

func WithLogger(logger *log.MLogger) Option {
	return func(e *Engine) {
		e.SetLogger(logger)
	}
}

// Engine 为多事件循环的 TCP 网络引擎。
type Engine struct {
	log.Binder

	cfg     Config
	workers []*worker
	dialer  session.Dialer
	onError network.ErrorHandler

	next       atomic.Uint32
	persistent *typeutil.ConcurrentSet[sid.ID]

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
}

// New 按配置创建引擎及其全部 worker，之后需要调用 Run 驱动事件循环。
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		dialer:     connector.New(),
		persistent: typeutil.NewConcurrentSet[sid.ID](),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.SetLogger(e.Logger().With(log.FieldComponent("engine")))
	if e.onError == nil {
		e.onError = e.logError
	}

	e.workers = make([]*worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		w, err := newWorker(i, cfg, e.Logger())
		if err != nil {
			for _, created := range e.workers {
				created.close()
			}
			return nil, err
		}
		e.workers = append(e.workers, w)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Workers() int { return len(e.workers) }

func (e *Engine) logError(stage network.Stage, err error) {
	e.Logger().RatedWarn(1, "engine error", network.FieldStage(stage), zap.Error(err))
}

func (e *Engine) available() error {
	switch st := e.state.Load(); st {
	case stateStopping, stateStopped:
		return merr.WrapErrServiceUnavailable("engine " + stateNames[st])
	}
	return nil
}

func (e *Engine) pick() *worker {
	return e.workers[e.next.Inc()%uint32(len(e.workers))]
}

// route 返回句柄所属的 worker。
func (e *Engine) route(id sid.ID) (*worker, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	if !id.Valid() || id.Index() >= len(e.workers) {
		return nil, merr.WrapErrSessionNotFound(id)
	}
	return e.workers[id.Index()], nil
}

// Run 在协程池上运行所有事件循环并阻塞，直到 ctx 取消、Stop 被调用或某个循环出错。
// 返回前关闭所有会话并释放 worker，Engine 不能再次运行。
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	if !e.state.CompareAndSwap(stateInitialized, stateRunning) {
		return merr.WrapErrServiceNotReady("engine", stateNames[e.state.Load()], "engine can only run once")
	}

	// 事件循环 panic 时记录日志并停止引擎，Run 返回错误。
	pool := conc.NewPool[struct{}](len(e.workers),
		conc.WithPreAlloc(true),
		conc.WithConcealPanic(true),
		conc.WithLogger(e.Logger()))
	defer pool.Release()

	futures := make([]*conc.Future[struct{}], 0, len(e.workers))
	for _, w := range e.workers {
		w := w
		futures = append(futures, pool.Submit(func() (struct{}, error) {
			// 任一循环退出或 panic 都会停止整个引擎。
			defer cancel()
			return struct{}{}, w.run(ctx)
		}))
	}
	metrics.NumWorkers.Set(float64(len(e.workers)))
	e.Logger().Info("engine started", zap.Int("workers", len(e.workers)))
	close(e.ready)

	for _, f := range futures {
		<-f.Inner()
	}
	err := conc.AwaitAll(futures...)

	metrics.NumWorkers.Set(0)
	for _, w := range e.workers {
		w.close()
	}
	e.state.Store(stateStopped)
	e.Logger().Info("engine stopped", zap.Error(err))
	close(e.done)
	return err
}

// Ready 在 Run 启动全部事件循环后关闭。
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Done 在 Run 返回后关闭。
func (e *Engine) Done() <-chan struct{} { return e.done }

// Stop 停止监听并优雅关闭所有会话，等待发送队列排空或 ctx 到期后结束 Run。
func (e *Engine) Stop(ctx context.Context) error {
	if e.state.CompareAndSwap(stateInitialized, stateStopped) {
		for _, w := range e.workers {
			w.close()
		}
		close(e.done)
		return nil
	}
	if !e.state.CompareAndSwap(stateRunning, stateStopping) {
		select {
		case <-e.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, w := range e.workers {
		if err := w.post(w.shutdownAll); err != nil {
			e.Logger().Warn("post shutdown failed", log.FieldWorker(w.index), zap.Error(err))
		}
	}
	err := e.waitDrained(ctx)
	if err != nil {
		e.Logger().Warn("engine stopped before all sessions drained", zap.Error(err))
	}

	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	cancel()
	<-e.done
	return err
}

func (e *Engine) waitDrained(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := e.collect(ctx, false)
		if err != nil {
			return err
		}
		if st.Sessions == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case <-ticker.C:
		}
	}
}

// Listen 在 host:port 上监听，port 为 0 时由系统分配，返回实际监听的端口。
// 接受的连接按轮询分配到各个事件循环，创建为临时会话。
func (e *Engine) Listen(host string, port uint16, factory ServiceFactory) (uint16, error) {
	if factory == nil {
		return 0, merr.WrapErrParameterMissing("factory", "engine listen")
	}
	if err := e.available(); err != nil {
		return 0, err
	}

	owner := e.pick()
	a, err := acceptor.Listen(host, port, e.cfg.Backlog,
		func(fd int, h string, p uint16) {
			e.dispatch(owner, fd, h, p, factory)
		},
		acceptor.WithErrorHandler(e.onError),
		acceptor.WithLogger(owner.Logger()))
	if err != nil {
		return 0, err
	}
	if err := owner.post(func() {
		if err := a.Start(owner.loop); err != nil {
			_ = a.Close()
			e.onError(network.StageListen, err)
			return
		}
		owner.acceptors = append(owner.acceptors, a)
	}); err != nil {
		_ = a.Close()
		return 0, err
	}
	_, bound := a.Addr()
	return bound, nil
}

// dispatch 在 owner 的事件循环上执行，把新连接交给下一个 worker。
func (e *Engine) dispatch(owner *worker, fd int, host string, port uint16, factory ServiceFactory) {
	w := e.pick()
	if w == owner {
		w.accept(fd, host, port, factory, e.onError)
		return
	}
	if err := w.post(func() {
		w.accept(fd, host, port, factory, e.onError)
	}); err != nil {
		_ = netfd.New(fd).Close()
		e.onError(network.StagePost, err)
	}
}

type connectResult struct {
	id  sid.ID
	err error
}

// Connect 创建一个到 host:port 的持久会话并立即返回句柄，连接结果通过
// Service 回调通知。连接断开后按配置的退避策略重连，句柄保持不变。
//
// host 可以是域名，解析在调用方的 goroutine 上进行。引擎必须处于运行状态。
func (e *Engine) Connect(ctx context.Context, host string, port uint16, factory ServiceFactory) (sid.ID, error) {
	if factory == nil {
		return sid.Zero, merr.WrapErrParameterMissing("factory", "engine connect")
	}
	if st := e.state.Load(); st != stateRunning {
		return sid.Zero, merr.WrapErrServiceNotReady("engine", stateNames[st])
	}

	var ip string
	err := retry.Do(ctx, func() error {
		var err error
		ip, err = netfd.Resolve(host)
		if errors.Is(err, merr.ErrParameterInvalid) {
			return retry.Unrecoverable(err)
		}
		return err
	}, retry.Attempts(3), retry.Sleep(100*time.Millisecond))
	if err != nil {
		return sid.Zero, network.WithStage(err, network.StageDial)
	}

	w := e.pick()
	ch := make(chan connectResult, 1)
	wrapped := e.trackPersistent(factory)
	if err := w.post(func() {
		s, err := w.connect(ip, port, wrapped, e.dialer, e.cfg)
		if err != nil {
			ch <- connectResult{err: err}
			return
		}
		if ctx.Err() != nil {
			// 调用方已放弃等待，句柄无人持有。
			_ = s.Shutdown()
			ch <- connectResult{err: ctx.Err()}
			return
		}
		e.persistent.Insert(s.ID())
		ch <- connectResult{id: s.ID()}
	}); err != nil {
		return sid.Zero, err
	}

	select {
	case r := <-ch:
		return r.id, r.err
	case <-ctx.Done():
		return sid.Zero, ctx.Err()
	case <-e.done:
		return sid.Zero, merr.WrapErrServiceUnavailable("engine stopped")
	}
}

// persistService 在持久会话最终释放时将其移出跟踪集合。
type persistService struct {
	session.Service
	set *typeutil.ConcurrentSet[sid.ID]
}

func (p *persistService) OnClosed(s *session.Session, reason error) {
	p.Service.OnClosed(s, reason)
	if !s.Reconnecting() {
		p.set.Remove(s.ID())
	}
}

func (e *Engine) trackPersistent(factory ServiceFactory) ServiceFactory {
	return func(s *session.Session) session.Service {
		svc := factory(s)
		if svc == nil {
			svc = session.BaseService{}
		}
		return &persistService{Service: svc, set: e.persistent}
	}
}

// Persistent 返回当前存活（包括重连中）的主动连接句柄。
func (e *Engine) Persistent() []sid.ID {
	return e.persistent.Collect()
}

// Send 拷贝 data 并追加到会话的发送队列，会话不存在时数据被丢弃。
func (e *Engine) Send(id sid.ID, data []byte) error {
	w, err := e.route(id)
	if err != nil {
		return err
	}
	msg := message.Copy(data)
	if err := w.post(func() { w.append(id, msg) }); err != nil {
		msg.Release()
		return err
	}
	return nil
}

// append 在 worker 的事件循环上执行，接管 msg 的一个引用。
func (w *worker) append(id sid.ID, msg *message.Message) {
	s, ok := w.manager.Get(id)
	if !ok {
		msg.Release()
		w.Logger().RatedInfo(1, "drop message for stale session", zap.Stringer("session", id))
		return
	}
	if err := s.Append(msg); err != nil {
		w.Logger().RatedInfo(1, "append message failed", zap.Stringer("session", id), zap.Error(err))
	}
}

// Broadcast 将同一份数据发送给 ids 中的所有会话，重复的句柄只发送一次。
// 所有目标共享一个消息，按事件循环分组投递。
func (e *Engine) Broadcast(ids []sid.ID, data []byte) error {
	if err := e.available(); err != nil {
		return err
	}
	groups := make(map[int][]sid.ID)
	seen := typeutil.NewSet[sid.ID]()
	for _, id := range ids {
		if seen.Contain(id) || !id.Valid() || id.Index() >= len(e.workers) {
			continue
		}
		seen.Insert(id)
		groups[id.Index()] = append(groups[id.Index()], id)
	}
	if len(groups) == 0 {
		return nil
	}

	msg := message.Copy(data)
	defer msg.Release()
	var errs error
	for index, group := range groups {
		group := group
		w := e.workers[index]
		msg.Retain()
		if err := w.post(func() {
			for _, id := range group {
				w.append(id, msg.Retain())
			}
			msg.Release()
		}); err != nil {
			msg.Release()
			errs = merr.Combine(errs, err)
		}
	}
	return errs
}

// BroadcastAll 将数据发送给所有已连接的会话。
func (e *Engine) BroadcastAll(data []byte) error {
	if err := e.available(); err != nil {
		return err
	}
	msg := message.Copy(data)
	defer msg.Release()
	var errs error
	for _, w := range e.workers {
		w := w
		msg.Retain()
		if err := w.post(func() {
			w.manager.Range(func(s *session.Session) bool {
				if s.Active() {
					_ = s.Append(msg.Retain())
				}
				return true
			})
			msg.Release()
		}); err != nil {
			msg.Release()
			errs = merr.Combine(errs, err)
		}
	}
	return errs
}

// Shutdown 优雅关闭会话，重连中的持久会话停止重连。
func (e *Engine) Shutdown(id sid.ID) error {
	w, err := e.route(id)
	if err != nil {
		return err
	}
	e.persistent.Remove(id)
	return w.post(func() {
		s, ok := w.manager.Get(id)
		if !ok {
			return
		}
		if err := s.Shutdown(); err != nil {
			w.Logger().Debug("shutdown session failed", zap.Stringer("session", id), zap.Error(err))
		}
	})
}

// Stats 收集各事件循环的运行快照。
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.collect(ctx, false)
}

func (e *Engine) collect(ctx context.Context, withSessions bool) (Stats, error) {
	results := make(chan WorkerStats, len(e.workers))
	for _, w := range e.workers {
		w := w
		if err := w.post(func() { results <- w.stats(withSessions) }); err != nil {
			return Stats{}, err
		}
	}

	st := Stats{
		Workers:    make([]WorkerStats, len(e.workers)),
		Persistent: e.persistent.Len(),
	}
	for range e.workers {
		select {
		case ws := <-results:
			st.Workers[ws.Index] = ws
			st.Sessions += ws.Sessions
		case <-ctx.Done():
			return Stats{}, ctx.Err()
		case <-e.done:
			return Stats{}, merr.WrapErrServiceUnavailable("engine stopped")
		}
	}
	return st, nil
}
