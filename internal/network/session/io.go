package session

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/fwjieok/libevlite/internal/network/message"
	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// write 直接写一次，ErrWouldBlock 视为写出 0 字节。
func (s *Session) write(buf []byte) (int, error) {
	n, err := s.conn.Write(buf)
	if n > 0 {
		s.wrote(n)
	}
	if err != nil {
		if errors.Is(err, netfd.ErrWouldBlock) {
			return n, nil
		}
		return n, merr.WrapErrIoFailed("write", err)
	}
	return n, nil
}

func (s *Session) wrote(n int) {
	metrics.SessionBytesTotal.WithLabelValues(metrics.DirectionOut).Add(float64(n))
	s.active()
}

// active 记录一次成功读写，重连后的首次成功读写重置退避策略。
func (s *Session) active() {
	if s.evsets != nil {
		s.lastActive = s.evsets.Now()
	}
	if s.resetPolicy {
		s.resetPolicy = false
		s.attempts = 0
		if s.policy != nil {
			s.policy.Reset()
		}
	}
}

func (s *Session) onReadable(_ *reactor.Event, fired reactor.Fired) {
	if s.conn == nil {
		return
	}
	if fired.Has(reactor.Timeout) {
		s.onReadTimeout()
		return
	}

	conn := s.conn
	n, err := s.inbuffer.Fill(conn)
	if n > 0 {
		metrics.SessionBytesTotal.WithLabelValues(metrics.DirectionIn).Add(float64(n))
		s.active()
		if !s.deliver() || s.conn != conn {
			return
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, netfd.ErrWouldBlock):
	case errors.Is(err, io.EOF):
		s.End(merr.WrapErrIoUnexpectEOF("read", err))
		return
	default:
		s.End(merr.WrapErrIoFailed("read", err))
		return
	}

	if limit := s.setting.MaxInbufferLen; limit > 0 && s.inbuffer.Buffered() > limit {
		s.End(merr.WrapErrIoInbufferOverflow(s.inbuffer.Buffered(), limit))
	}
}

// deliver 将入站数据交给 Service，返回 false 表示会话已结束。
func (s *Session) deliver() bool {
	if s.service == nil {
		s.inbuffer.Reset()
		return true
	}
	data := s.inbuffer.Linearize()
	consumed, err := s.service.OnData(s, data)
	if s.conn == nil {
		return false
	}
	if err != nil {
		s.End(err)
		return false
	}
	s.inbuffer.Discard(min(max(consumed, 0), len(data)))
	return true
}

func (s *Session) onReadTimeout() {
	if s.service == nil {
		s.End(merr.WrapErrIoTimeout("read"))
		return
	}
	err := s.service.OnTimeout(s)
	if s.conn == nil || err == nil {
		return
	}
	s.End(merr.WrapErrIoTimeout("read", err.Error()))
}

func (s *Session) onWritable(_ *reactor.Event, fired reactor.Fired) {
	if s.dialing != nil {
		s.onDialed(fired)
		return
	}
	if s.conn == nil {
		return
	}
	s.flush()
}

// flush 按顺序写出发送队列，遇到部分写出时等待下一次可写。
func (s *Session) flush() {
	for s.outmsglist.Length() > 0 {
		msg := s.outmsglist.Peek().(*message.Message)
		n, err := s.write(msg.From(s.msgoffsets))
		if err != nil {
			s.End(err)
			return
		}
		s.msgoffsets += n
		if s.msgoffsets < msg.Len() {
			return
		}
		s.outmsglist.Remove()
		msg.Release()
		s.msgoffsets = 0
	}

	s.DelEvent(EvWrite)
	if s.exiting {
		s.End(nil)
	}
}

func (s *Session) onKeepalive(_ *reactor.Event, _ reactor.Fired) {
	// 定时器为一次性事件，触发时已被事件集注销。
	s.keepaliving = false
	if s.conn == nil || s.exiting {
		return
	}
	if s.service != nil {
		s.service.OnKeepalive(s)
	}
	if s.conn != nil && !s.exiting {
		if err := s.AddEvent(EvKeepalive); err != nil {
			s.End(err)
		}
	}
}
