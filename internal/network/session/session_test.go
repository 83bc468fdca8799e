package session

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/fwjieok/libevlite/internal/network/message"
	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

type SessionSuite struct {
	suite.Suite

	m    *Manager
	evs  *fakeEvents
	conn *fakeConn
	svc  *recorder
	s    *Session
}

func (s *SessionSuite) SetupTest() {
	m, err := NewManager(0, 64)
	s.Require().NoError(err)
	s.m = m
	s.evs = newFakeEvents()
	s.conn = newFakeConn(12)
	s.svc = &recorder{}
	s.s = s.alloc(12, DefaultSetting)
}

func (s *SessionSuite) TearDownTest() {
	s.m.Destroy()
}

func (s *SessionSuite) alloc(key int, setting Setting) *Session {
	sess, err := s.m.Alloc(key)
	s.Require().NoError(err)
	sess.SetSetting(setting)
	sess.SetService(s.svc)
	return sess
}

func (s *SessionSuite) start(sess *Session, conn *fakeConn) {
	s.Require().NoError(sess.Start(Once, conn, s.evs))
}

func (s *SessionSuite) fireUntilClosed(ev *reactor.Event, conn *fakeConn) {
	for i := 0; i < 16 && !conn.closed; i++ {
		if !s.evs.fire(ev, reactor.Writable) {
			return
		}
	}
}

func (s *SessionSuite) TestStart() {
	s.start(s.s, s.conn)

	s.True(s.s.Active())
	s.Equal(12, s.s.Fd())
	s.Equal(Status{Reading: true}, s.s.Status())
	s.True(s.evs.isArmed(&s.s.evread))
	s.Equal(s.evs.now, s.s.LastActive())

	s.ErrorIs(s.s.Start(Once, newFakeConn(13), s.evs), merr.ErrSessionAlreadyActive)
}

func (s *SessionSuite) TestStartInvalid() {
	s.ErrorIs(s.s.Start(Once, nil, s.evs), merr.ErrParameterMissing)
	s.ErrorIs(s.s.Start(Once, s.conn, nil), merr.ErrParameterMissing)
	s.ErrorIs(s.s.Start(Type(9), s.conn, s.evs), merr.ErrParameterInvalid)
	s.False(s.s.Active())
}

func (s *SessionSuite) TestAddEventIsIdempotent() {
	s.start(s.s, s.conn)
	s.Equal(1, s.evs.adds)

	s.NoError(s.s.AddEvent(EvRead))
	s.Equal(1, s.evs.adds)

	s.NoError(s.s.AddEvent(EvWrite))
	s.NoError(s.s.AddEvent(EvWrite))
	s.Equal(2, s.evs.adds)
	s.True(s.s.Status().Writing)

	s.s.DelEvent(EvWrite)
	s.s.DelEvent(EvWrite)
	s.Equal(1, s.evs.dels)
	s.False(s.s.Status().Writing)

	s.ErrorIs(s.s.AddEvent(EventKind(42)), merr.ErrParameterInvalid)
}

func (s *SessionSuite) TestAddEventBeforeStart() {
	s.ErrorIs(s.s.AddEvent(EvRead), merr.ErrSessionNotActive)
}

func (s *SessionSuite) TestSendDirect() {
	s.start(s.s, s.conn)

	n, err := s.s.Send([]byte("hello"))
	s.NoError(err)
	s.Equal(5, n)
	s.Equal("hello", s.conn.out.String())
	s.Equal(0, s.s.Queued())
	s.False(s.s.Status().Writing)

	n, err = s.s.Send(nil)
	s.NoError(err)
	s.Equal(0, n)
}

func (s *SessionSuite) TestSendPartial() {
	s.start(s.s, s.conn)
	s.conn.writeLimit = 3

	n, err := s.s.Send([]byte("hello"))
	s.NoError(err)
	s.Equal(3, n)
	s.Equal(1, s.s.Queued())
	s.True(s.s.Status().Writing)

	// 队列非空时不再直接写，保证顺序。
	n, err = s.s.Send([]byte("!"))
	s.NoError(err)
	s.Equal(0, n)
	s.Equal(2, s.s.Queued())

	s.conn.writeLimit = 0
	s.True(s.evs.fire(&s.s.evwrite, reactor.Writable))
	s.Equal("hello!", s.conn.out.String())
	s.Equal(0, s.s.Queued())
	s.False(s.s.Status().Writing)
	s.False(s.evs.isArmed(&s.s.evwrite))
}

func (s *SessionSuite) TestSendNotWritable() {
	_, err := s.s.Send([]byte("x"))
	s.ErrorIs(err, merr.ErrSessionNotWritable)

	msg := message.New([]byte("x")).Retain()
	s.ErrorIs(s.s.Append(msg), merr.ErrSessionNotWritable)
	s.Equal(int32(1), msg.Refs())
}

func (s *SessionSuite) TestDrainBeforeClose() {
	s.start(s.s, s.conn)
	id := s.s.ID()
	s.conn.writeLimit = -1

	var want bytes.Buffer
	for i := 0; i < 3; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i)}, 100)
		want.Write(chunk)
		n, err := s.s.Send(chunk)
		s.Require().NoError(err)
		s.Equal(0, n)
	}
	s.Equal(3, s.s.Queued())

	s.Require().NoError(s.s.Shutdown())
	s.True(s.s.Status().Exiting)
	s.False(s.s.Status().Reading)
	s.False(s.conn.closed)
	_, err := s.s.Send([]byte("late"))
	s.ErrorIs(err, merr.ErrSessionNotWritable)
	s.NoError(s.s.Shutdown())

	s.conn.writeLimit = 60
	s.fireUntilClosed(&s.s.evwrite, s.conn)

	s.True(s.conn.closed)
	s.Equal(want.String(), s.conn.out.String())
	s.Equal([]error{nil}, s.svc.closed)
	_, ok := s.m.Get(id)
	s.False(ok)
	s.Equal(uint32(0), s.m.Count())
	s.Empty(s.evs.armed)
}

func (s *SessionSuite) TestShutdownEmptyQueue() {
	s.start(s.s, s.conn)
	id := s.s.ID()

	s.Require().NoError(s.s.Shutdown())
	s.True(s.conn.closed)
	s.False(s.s.Active())
	s.Equal([]error{nil}, s.svc.closed)
	_, ok := s.m.Get(id)
	s.False(ok)

	s.ErrorIs(s.s.Shutdown(), merr.ErrSessionNotActive)
}

func (s *SessionSuite) TestWriteErrorIsImmediate() {
	s.start(s.s, s.conn)
	id := s.s.ID()
	s.conn.writeLimit = -1

	msg := message.New(bytes.Repeat([]byte("m"), 64)).Retain()
	s.Require().NoError(s.s.Append(msg))
	_, err := s.s.Send([]byte("second"))
	s.Require().NoError(err)
	s.Equal(2, s.s.Queued())

	s.conn.writeErr = errors.New("broken pipe")
	writes := s.conn.writes
	s.True(s.evs.fire(&s.s.evwrite, reactor.Writable))

	s.Equal(writes+1, s.conn.writes)
	s.True(s.conn.closed)
	s.Equal(0, s.s.Queued())
	s.Equal(int32(1), msg.Refs())
	s.Require().Len(s.svc.closed, 1)
	s.ErrorIs(s.svc.closed[0], merr.ErrIoFailed)
	_, ok := s.m.Get(id)
	s.False(ok)
	s.Empty(s.evs.armed)
}

func (s *SessionSuite) TestPeerCloseDiscardsQueue() {
	s.start(s.s, s.conn)
	s.conn.writeLimit = -1
	_, err := s.s.Send([]byte("pending"))
	s.Require().NoError(err)

	s.conn.readErr = io.EOF
	s.True(s.evs.fire(&s.s.evread, reactor.Readable))

	s.True(s.conn.closed)
	s.Equal(0, s.s.Queued())
	s.Empty(s.conn.out.String())
	s.Require().Len(s.svc.closed, 1)
	s.ErrorIs(s.svc.closed[0], merr.ErrIoUnexpectEOF)
}

func (s *SessionSuite) TestReadDeliversData() {
	s.start(s.s, s.conn)
	s.conn.in.WriteString("ping")

	s.True(s.evs.fire(&s.s.evread, reactor.Readable))
	s.Equal("ping", s.svc.data.String())
	s.Equal(0, s.s.Inbuffered())
	s.True(s.s.Active())
}

func (s *SessionSuite) TestReadKeepsUnconsumed() {
	s.start(s.s, s.conn)
	var seen []string
	s.svc.consume = func(data []byte) (int, error) {
		seen = append(seen, string(data))
		return 2, nil
	}

	s.conn.in.WriteString("abcd")
	s.evs.fire(&s.s.evread, reactor.Readable)
	s.Equal(2, s.s.Inbuffered())

	s.conn.in.WriteString("ef")
	s.evs.fire(&s.s.evread, reactor.Readable)
	s.Equal([]string{"abcd", "cdef"}, seen)
	s.Equal(2, s.s.Inbuffered())
}

func (s *SessionSuite) TestServiceErrorEndsSession() {
	s.start(s.s, s.conn)
	bad := errors.New("bad frame")
	s.svc.consume = func([]byte) (int, error) { return 0, bad }

	s.conn.in.WriteString("junk")
	s.evs.fire(&s.s.evread, reactor.Readable)

	s.True(s.conn.closed)
	s.Equal([]error{bad}, s.svc.closed)
}

func (s *SessionSuite) TestInbufferOverflow() {
	sess := s.alloc(20, Setting{MaxInbufferLen: 16})
	conn := newFakeConn(20)
	s.start(sess, conn)
	s.svc.consume = func([]byte) (int, error) { return 0, nil }

	conn.in.Write(bytes.Repeat([]byte("x"), 32))
	s.evs.fire(&sess.evread, reactor.Readable)

	s.True(conn.closed)
	s.Require().Len(s.svc.closed, 1)
	s.ErrorIs(s.svc.closed[0], merr.ErrIoInbufferOverflow)
}

func (s *SessionSuite) TestReadTimeout() {
	sess := s.alloc(21, Setting{Timeout: time.Second})
	conn := newFakeConn(21)
	s.start(sess, conn)
	s.Equal(time.Second, sess.evread.Timeout())

	s.evs.fire(&sess.evread, reactor.Timeout)
	s.Equal(1, s.svc.timeouts)
	s.True(sess.Active())

	s.svc.timeoutErr = errors.New("idle")
	s.evs.fire(&sess.evread, reactor.Timeout)
	s.Equal(2, s.svc.timeouts)
	s.True(conn.closed)
	s.Require().Len(s.svc.closed, 1)
	s.ErrorIs(s.svc.closed[0], merr.ErrIoTimeout)
}

func (s *SessionSuite) TestReadTimeoutWithoutService() {
	sess := s.alloc(22, Setting{Timeout: time.Second})
	sess.SetService(nil)
	conn := newFakeConn(22)
	s.start(sess, conn)

	s.evs.fire(&sess.evread, reactor.Timeout)
	s.True(conn.closed)
	s.False(sess.Active())
}

func (s *SessionSuite) TestKeepalive() {
	sess := s.alloc(23, Setting{Keepalive: time.Second})
	conn := newFakeConn(23)
	s.start(sess, conn)
	s.True(sess.Status().Keepaliving)
	s.Equal(time.Second, sess.evkeepalive.Timeout())

	for i := 0; i < 3; i++ {
		s.True(s.evs.fire(&sess.evkeepalive, reactor.Timeout))
	}
	s.Equal(3, s.svc.keepalives)
	s.True(sess.Status().Keepaliving)
	s.True(s.evs.isArmed(&sess.evkeepalive))
	s.True(sess.Active())

	s.Require().NoError(sess.Shutdown())
	s.False(s.evs.isArmed(&sess.evkeepalive))
}

func (s *SessionSuite) TestStartKeepaliveInvalid() {
	s.ErrorIs(s.s.StartKeepalive(), merr.ErrSessionNotActive)
	s.start(s.s, s.conn)
	s.ErrorIs(s.s.StartKeepalive(), merr.ErrParameterInvalid)
}

func (s *SessionSuite) TestSlotReuseAfterEnd() {
	s.start(s.s, s.conn)
	first := s.s.ID()
	s.s.End(merr.WrapErrIoFailedReason("reset"))

	again, err := s.m.Alloc(12)
	s.Require().NoError(err)
	s.NotEqual(first, again.ID())
	s.Equal(first.Seq()+1, again.ID().Seq())
	s.Nil(again.Service())

	conn := newFakeConn(12)
	s.Require().NoError(again.Start(Once, conn, s.evs))
	s.Equal(0, again.Inbuffered())
	s.Equal(0, again.Queued())
}

func (s *SessionSuite) TestEndIsIdempotent() {
	s.start(s.s, s.conn)
	s.s.End(nil)
	s.s.End(errors.New("again"))
	s.Len(s.svc.closed, 1)
}

func (s *SessionSuite) TestCallbacksMayShutdown() {
	s.start(s.s, s.conn)
	s.svc.consume = func(data []byte) (int, error) {
		_, err := s.s.Send(data)
		s.NoError(err)
		s.NoError(s.s.Shutdown())
		return len(data), nil
	}

	s.conn.in.WriteString("bye")
	s.evs.fire(&s.s.evread, reactor.Readable)
	s.Equal("bye", s.conn.out.String())
	s.True(s.conn.closed)
	s.Equal([]error{nil}, s.svc.closed)
}

func TestSession(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", Status{}.String())
	assert.Equal(t, "reading|keepaliving", Status{Reading: true, Keepaliving: true}.String())
	assert.Equal(t, "writing|exiting", Status{Writing: true, Exiting: true}.String())
}

func TestSettingValidate(t *testing.T) {
	assert.NoError(t, DefaultSetting.Validate())
	assert.Error(t, Setting{Timeout: -1}.Validate())
	assert.Error(t, Setting{Keepalive: -1}.Validate())
	assert.Error(t, Setting{MaxInbufferLen: -1}.Validate())
}

func TestBaseService(t *testing.T) {
	var svc Service = BaseService{}
	n, err := svc.OnData(nil, []byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, svc.OnConnected(nil))
	assert.NoError(t, svc.OnTimeout(nil))
}
