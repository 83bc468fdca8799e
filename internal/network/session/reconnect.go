package session

import (
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// SetReconnect 为持久会话配置拨号器与退避策略。
// policy 返回 backoff.Stop 时放弃重连并回收槽位。
func (s *Session) SetReconnect(dialer Dialer, policy backoff.BackOff) {
	s.dialer, s.policy = dialer, policy
}

// StartReconnect 按退避策略安排下一次重连。
//
// 会话在等待与拨号期间句柄保持有效，但不可写；重连成功后以同一句柄重新 Start
// 并回调 Service.OnConnected。策略耗尽时以 ErrSessionReconnectGiveUp 回调
// Service.OnClosed 并回收槽位。
func (s *Session) StartReconnect() error {
	switch {
	case s.typ != Persist:
		return merr.WrapErrSessionNotPersist(s.id)
	case s.conn != nil || s.dialing != nil:
		return merr.WrapErrSessionAlreadyActive(s.id)
	case s.dialer == nil || s.policy == nil:
		return merr.WrapErrParameterMissing("reconnect policy", "session "+s.id.String())
	case s.host == "":
		return merr.WrapErrSessionNoEndpoint(s.id)
	case s.evsets == nil:
		return merr.WrapErrSessionNotActive(s.id)
	}

	delay := s.policy.NextBackOff()
	if delay == backoff.Stop {
		s.giveUp()
		return merr.WrapErrSessionReconnectGiveUp(s.id, s.attempts, nil)
	}

	s.evreconnect.SetTimeout(delay)
	if err := s.evsets.Add(&s.evreconnect); err != nil {
		s.giveUp()
		return err
	}
	s.reconnecting = true
	s.logger().Debug("session reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempts", s.attempts),
		log.FieldEndpoint(s.host, s.port))
	return nil
}

// Connect 以非阻塞方式发起首次连接，之后的流程与重连相同。
func (s *Session) Connect(evs reactor.EventSet) error {
	if s.conn != nil || s.dialing != nil {
		return merr.WrapErrSessionAlreadyActive(s.id)
	}
	if evs == nil || s.dialer == nil || s.policy == nil {
		return merr.WrapErrParameterMissing("reconnect policy", "session "+s.id.String())
	}
	if s.host == "" {
		return merr.WrapErrSessionNoEndpoint(s.id)
	}
	s.typ = Persist
	s.evsets = evs
	s.reconnecting = true
	s.onReconnect(&s.evreconnect, reactor.Timeout)
	return nil
}

func (s *Session) stopReconnect() {
	if s.evsets != nil {
		_ = s.evsets.Del(&s.evreconnect)
		if s.dialing != nil {
			_ = s.evsets.Del(&s.evwrite)
		}
	}
	s.writing = false
	s.evwrite.SetTimeout(0)
	if s.dialing != nil {
		_ = s.dialing.Close()
		s.dialing = nil
	}
	s.reconnecting = false
}

func (s *Session) giveUp() {
	metrics.SessionReconnectTotal.WithLabelValues(metrics.ReconnectGaveUp).Inc()
	s.stopReconnect()
	reason := merr.WrapErrSessionReconnectGiveUp(s.id, s.attempts, nil)
	s.logger().Warn("session reconnect gave up", zap.Int("attempts", s.attempts), log.FieldEndpoint(s.host, s.port))
	if s.service != nil {
		s.service.OnClosed(s, reason)
	}
	s.release()
}

// retry 记录一次失败的重连并安排下一次。
func (s *Session) retry(err error) {
	metrics.SessionReconnectTotal.WithLabelValues(metrics.ReconnectFailed).Inc()
	s.logger().RatedInfo(1, "session reconnect failed", zap.Int("attempts", s.attempts), zap.Error(err))
	if err := s.StartReconnect(); err != nil && !merr.IsRetryableErr(err) {
		s.logger().Debug("session reconnect stopped", zap.Error(err))
	}
}

func (s *Session) onReconnect(_ *reactor.Event, _ reactor.Fired) {
	if !s.reconnecting || s.conn != nil {
		return
	}
	s.attempts++
	conn, err := s.dialer.Dial(s.host, s.port)
	if err != nil {
		s.retry(err)
		return
	}
	s.dialing = conn
	s.evwrite.Set(conn.Fd(), reactor.KindWrite, s.onWritable)
	s.evwrite.SetTimeout(s.setting.Timeout)
	if err := s.evsets.Add(&s.evwrite); err != nil {
		_ = conn.Close()
		s.dialing = nil
		s.retry(err)
		return
	}
	s.writing = true
}

// onDialed 在拨号中的连接可写（或超时）时完成重连。
func (s *Session) onDialed(fired reactor.Fired) {
	conn := s.dialing
	s.dialing = nil
	_ = s.evsets.Del(&s.evwrite)
	s.evwrite.SetTimeout(0)
	s.writing = false

	if fired.Has(reactor.Timeout) {
		_ = conn.Close()
		s.retry(merr.WrapErrIoTimeout("connect"))
		return
	}
	if err := s.dialer.Established(conn); err != nil {
		_ = conn.Close()
		s.retry(err)
		return
	}
	s.reconnecting = false
	if err := s.Start(Persist, conn, s.evsets); err != nil {
		_ = conn.Close()
		s.reconnecting = true
		s.retry(err)
		return
	}
	s.resetPolicy = true
	metrics.SessionReconnectTotal.WithLabelValues(metrics.ReconnectSucceeded).Inc()
	s.logger().Info("session reconnected", zap.Int("attempts", s.attempts), log.FieldEndpoint(s.host, s.port))

	if s.service != nil {
		if err := s.service.OnConnected(s); err != nil {
			s.End(err)
		}
	}
}
