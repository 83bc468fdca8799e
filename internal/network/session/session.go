// Package session 实现连接会话的状态机与会话管理器。
//
// 一个 Session 对应一条 TCP 连接的逻辑生命周期：Start 绑定描述符，
// Shutdown 进入排空状态，End 释放描述符并回收槽位。Session 的内存由
// Manager 的槽位持有，跨层只传递 sid.ID 句柄；槽位复用后旧句柄自然失效。
//
// Session 与 Manager 都不是并发安全的，只能在所属事件循环的 goroutine 上使用。
package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/internal/network/message"
	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/internal/network/sid"
	"github.com/fwjieok/libevlite/internal/pool/ringbuffer"
	"github.com/fwjieok/libevlite/pkg/buffer/ring"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// Session 为一条连接的会话。
type Session struct {
	id  sid.ID
	typ Type

	conn Conn
	fd   int

	// 状态位
	reading     bool
	writing     bool
	keepaliving bool
	exiting     bool

	host string
	port uint16

	evread      reactor.Event
	evwrite     reactor.Event
	evkeepalive reactor.Event
	evreconnect reactor.Event
	evsets      reactor.EventSet

	manager *Manager
	service Service

	inbuffer   *ring.Buffer
	outmsglist *queue.Queue
	msgoffsets int

	setting    Setting
	lastActive time.Time

	// 重连
	dialer       Dialer
	policy       backoff.BackOff
	dialing      Conn
	reconnecting bool
	attempts     int
	resetPolicy  bool
}

// init 在槽位首次使用时分配缓冲区与发送队列。
func (s *Session) init(m *Manager) {
	s.manager = m
	s.fd = -1
	s.inbuffer = ringbuffer.Get()
	s.outmsglist = queue.New()
	s.evread.Set(-1, reactor.KindRead, s.onReadable)
	s.evwrite.Set(-1, reactor.KindWrite, s.onWritable)
	s.evkeepalive.Set(-1, reactor.KindTimer, s.onKeepalive)
	s.evreconnect.Set(-1, reactor.KindTimer, s.onReconnect)
}

// reset 在槽位被重新分配时清理上一个连接留下的配置。
func (s *Session) reset(id sid.ID, setting Setting) {
	s.id = id
	s.typ = Once
	s.setting = setting
	s.service = nil
	s.host, s.port = "", 0
	s.dialer, s.policy = nil, nil
	s.attempts = 0
	s.resetPolicy = false
}

// final 释放会话的物理资源，仅在 Manager 销毁时调用。
func (s *Session) final() {
	if s.evsets != nil {
		_ = s.evsets.Del(&s.evread)
		_ = s.evsets.Del(&s.evwrite)
		_ = s.evsets.Del(&s.evkeepalive)
		_ = s.evsets.Del(&s.evreconnect)
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.dialing != nil {
		_ = s.dialing.Close()
		s.dialing = nil
	}
	s.clearQueue()
	ringbuffer.Put(s.inbuffer)
	s.inbuffer = nil
	s.outmsglist = nil
	s.evsets = nil
	s.manager = nil
}

func (s *Session) ID() sid.ID { return s.id }

func (s *Session) Fd() int { return s.fd }

func (s *Session) Type() Type { return s.typ }

func (s *Session) Host() string { return s.host }

func (s *Session) Port() uint16 { return s.port }

func (s *Session) Setting() Setting { return s.setting }

// SetSetting 修改会话配置，在下一次 Start 时生效。
func (s *Session) SetSetting(setting Setting) { s.setting = setting }

func (s *Session) Service() Service { return s.service }

// SetService 设置应用层回调，Service 的生命周期由应用层负责。
func (s *Session) SetService(svc Service) { s.service = svc }

// SetEndpoint 记录对端地址，持久会话同时将其作为重连目标。
func (s *Session) SetEndpoint(host string, port uint16) {
	s.host, s.port = host, port
}

// Status 返回当前状态位。
func (s *Session) Status() Status {
	return Status{
		Reading:     s.reading,
		Writing:     s.writing,
		Keepaliving: s.keepaliving,
		Exiting:     s.exiting,
	}
}

// Active 表示会话已绑定描述符。
func (s *Session) Active() bool { return s.conn != nil }

// Reconnecting 表示持久会话正在等待重连或拨号中。
func (s *Session) Reconnecting() bool { return s.reconnecting }

// Inbuffered 返回入站缓冲区中尚未被消费的字节数。
func (s *Session) Inbuffered() int {
	if s.inbuffer == nil {
		return 0
	}
	return s.inbuffer.Buffered()
}

// Queued 返回发送队列中的消息数。
func (s *Session) Queued() int {
	if s.outmsglist == nil {
		return 0
	}
	return s.outmsglist.Length()
}

// LastActive 返回最近一次成功读写的时间。
func (s *Session) LastActive() time.Time { return s.lastActive }

func (s *Session) logger() *log.MLogger {
	fields := []zap.Field{zap.Stringer("sid", s.id), log.FieldFd(s.fd)}
	if s.manager != nil {
		return s.manager.Logger().With(fields...)
	}
	return log.With(fields...)
}

// Start 将会话绑定到 conn 并开始读事件。
func (s *Session) Start(typ Type, conn Conn, evs reactor.EventSet) error {
	if s.conn != nil {
		return merr.WrapErrSessionAlreadyActive(s.id)
	}
	if conn == nil || evs == nil {
		return merr.WrapErrParameterMissing("conn", "session start")
	}
	if typ != Once && typ != Persist {
		return merr.WrapErrParameterInvalid(Once, typ, "session type")
	}

	s.typ = typ
	s.conn = conn
	s.fd = conn.Fd()
	s.evsets = evs
	s.exiting = false
	s.inbuffer.Reset()
	s.clearQueue()
	s.lastActive = evs.Now()

	s.evread.Set(s.fd, reactor.KindRead, s.onReadable)
	s.evread.SetTimeout(s.setting.Timeout)
	s.evwrite.Set(s.fd, reactor.KindWrite, s.onWritable)
	s.evwrite.SetTimeout(0)

	if err := s.AddEvent(EvRead); err != nil {
		s.conn, s.fd = nil, -1
		return err
	}
	if s.setting.Keepalive > 0 {
		if err := s.StartKeepalive(); err != nil {
			s.logger().Warn("start keepalive failed", zap.Error(err))
		}
	}
	s.logger().Debug("session started", zap.Stringer("type", typ), log.FieldEndpoint(s.host, s.port))
	return nil
}

// AddEvent 注册事件，对已注册的事件无操作。
func (s *Session) AddEvent(kind EventKind) error {
	if s.evsets == nil {
		return merr.WrapErrSessionNotActive(s.id)
	}
	var (
		ev   *reactor.Event
		flag *bool
	)
	switch kind {
	case EvRead:
		ev, flag = &s.evread, &s.reading
	case EvWrite:
		ev, flag = &s.evwrite, &s.writing
	case EvKeepalive:
		ev, flag = &s.evkeepalive, &s.keepaliving
	default:
		return merr.WrapErrParameterInvalidMsg("unknown session event %d", kind)
	}
	if *flag {
		return nil
	}
	if err := s.evsets.Add(ev); err != nil {
		return err
	}
	*flag = true
	return nil
}

// DelEvent 注销事件，对未注册的事件无操作。
func (s *Session) DelEvent(kind EventKind) {
	var (
		ev   *reactor.Event
		flag *bool
	)
	switch kind {
	case EvRead:
		ev, flag = &s.evread, &s.reading
	case EvWrite:
		ev, flag = &s.evwrite, &s.writing
	case EvKeepalive:
		ev, flag = &s.evkeepalive, &s.keepaliving
	default:
		return
	}
	if !*flag {
		return
	}
	*flag = false
	if s.evsets != nil {
		if err := s.evsets.Del(ev); err != nil {
			s.logger().Warn("delete event failed", zap.Stringer("event", kind), zap.Error(err))
		}
	}
}

func (s *Session) writable() bool {
	return s.conn != nil && !s.exiting
}

func (s *Session) notWritable() error {
	state := "exiting"
	if s.conn == nil {
		state = "closed"
	}
	return merr.WrapErrSessionNotWritable(s.id, state)
}

// Send 发送 buf，能直接写出的部分立即写出，剩余部分拷贝后进入发送队列。
// 返回直接写出的字节数；buf 的全部内容都已被接管，不会丢弃。
func (s *Session) Send(buf []byte) (int, error) {
	if !s.writable() {
		return 0, s.notWritable()
	}
	if len(buf) == 0 {
		return 0, nil
	}

	n := 0
	if !s.writing && s.outmsglist.Length() == 0 {
		var err error
		n, err = s.write(buf)
		if err != nil {
			s.End(err)
			return n, err
		}
		if n == len(buf) {
			return n, nil
		}
	}
	return n, s.Append(message.Copy(buf[n:]))
}

// Append 将消息追加到发送队列尾部。
// Append 接管 msg 的一个引用，返回错误时该引用已被释放。
func (s *Session) Append(msg *message.Message) error {
	if !s.writable() {
		msg.Release()
		return s.notWritable()
	}
	if msg.Len() == 0 {
		msg.Release()
		return nil
	}
	s.outmsglist.Add(msg)
	metrics.SessionOutboundQueueLength.Observe(float64(s.outmsglist.Length()))
	if err := s.AddEvent(EvWrite); err != nil {
		s.End(err)
		return err
	}
	return nil
}

// StartKeepalive 按 setting.Keepalive 周期性回调 Service.OnKeepalive。
func (s *Session) StartKeepalive() error {
	if s.conn == nil {
		return merr.WrapErrSessionNotActive(s.id)
	}
	if s.setting.Keepalive <= 0 {
		return merr.WrapErrParameterInvalidMsg("keepalive interval %s", s.setting.Keepalive)
	}
	s.evkeepalive.SetTimeout(s.setting.Keepalive)
	return s.AddEvent(EvKeepalive)
}

// Shutdown 优雅关闭：不再接受新的发送，发送队列排空后关闭连接。
// 对重连中的持久会话，Shutdown 停止重连并回收槽位。
func (s *Session) Shutdown() error {
	if s.conn == nil {
		if s.reconnecting {
			s.stopReconnect()
			s.release()
			return nil
		}
		return merr.WrapErrSessionNotActive(s.id)
	}
	if s.exiting {
		return nil
	}
	s.exiting = true
	s.DelEvent(EvRead)
	s.DelEvent(EvKeepalive)
	if s.outmsglist.Length() == 0 {
		s.End(nil)
		return nil
	}
	if err := s.AddEvent(EvWrite); err != nil {
		s.End(err)
	}
	return nil
}

// End 立即结束连接：注销事件、丢弃发送队列、关闭描述符并通知应用层。
//
// reason 为 nil 表示优雅关闭。持久会话在非优雅关闭且配置了重连策略时进入重连，
// 句柄保持有效；其余情况回收槽位，句柄失效。对未激活的会话无操作。
func (s *Session) End(reason error) {
	if s.conn == nil {
		return
	}
	conn := s.conn
	graceful := reason == nil || s.exiting

	s.DelEvent(EvRead)
	s.DelEvent(EvWrite)
	s.DelEvent(EvKeepalive)
	s.clearQueue()
	s.inbuffer.Reset()
	s.exiting = false
	s.conn = nil
	s.fd = -1

	if err := conn.Close(); err != nil {
		s.logger().Warn("close connection failed", zap.Error(err))
	}
	metrics.SessionClosedTotal.WithLabelValues(closeReason(reason)).Inc()
	if reason != nil {
		s.logger().Info("session ended", zap.Int("conn", conn.Fd()), zap.Error(reason))
	} else {
		s.logger().Debug("session ended", zap.Int("conn", conn.Fd()))
	}

	retry := s.typ == Persist && s.policy != nil && s.dialer != nil && !graceful
	s.reconnecting = retry
	if s.service != nil {
		s.service.OnClosed(s, reason)
	}
	if !retry {
		s.release()
		return
	}
	// OnClosed 中可能已经调用 Shutdown 取消重连。
	if s.reconnecting && s.conn == nil {
		if err := s.StartReconnect(); err != nil && !merr.IsRetryableErr(err) {
			s.logger().Info("session reconnect stopped", zap.Error(err))
		}
	}
}

// release 将槽位归还给 Manager。
func (s *Session) release() {
	s.reconnecting = false
	if s.manager == nil {
		return
	}
	if err := s.manager.Remove(s); err != nil {
		s.logger().Warn("remove session from manager failed", zap.Error(err))
	}
}

func (s *Session) clearQueue() {
	if s.outmsglist == nil {
		return
	}
	for s.outmsglist.Length() > 0 {
		s.outmsglist.Remove().(*message.Message).Release()
	}
	s.msgoffsets = 0
}

func closeReason(reason error) string {
	switch {
	case reason == nil:
		return metrics.CloseReasonShutdown
	case merr.Code(reason) == merr.Code(merr.ErrIoUnexpectEOF):
		return metrics.CloseReasonPeer
	case merr.Code(reason) == merr.Code(merr.ErrIoTimeout):
		return metrics.CloseReasonTimeout
	case merr.Code(reason) == merr.Code(merr.ErrIoInbufferOverflow):
		return metrics.CloseReasonOverflow
	}
	return metrics.CloseReasonError
}
