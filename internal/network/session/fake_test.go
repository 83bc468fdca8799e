package session

import (
	"bytes"
	"time"

	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/reactor"
)

// fakeEvents 记录注册状态，由测试手动触发事件。
type fakeEvents struct {
	now   time.Time
	armed map[*reactor.Event]bool
	adds  int
	dels  int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		now:   time.Unix(1700000000, 0),
		armed: make(map[*reactor.Event]bool),
	}
}

func (f *fakeEvents) Add(ev *reactor.Event) error {
	f.armed[ev] = true
	f.adds++
	return nil
}

func (f *fakeEvents) Del(ev *reactor.Event) error {
	if f.armed[ev] {
		delete(f.armed, ev)
		f.dels++
	}
	return nil
}

func (f *fakeEvents) Now() time.Time { return f.now }

func (f *fakeEvents) isArmed(ev *reactor.Event) bool { return f.armed[ev] }

// fire 触发已注册的事件，定时器与事件循环一样在回调前注销。
func (f *fakeEvents) fire(ev *reactor.Event, fired reactor.Fired) bool {
	if !f.armed[ev] {
		return false
	}
	if ev.Kind() == reactor.KindTimer {
		delete(f.armed, ev)
	}
	ev.Fire(fired)
	return true
}

// fakeConn 为内存中的非阻塞连接。
//
// writeLimit 限制单次写出的字节数，0 表示不限，-1 表示始终阻塞。
type fakeConn struct {
	fd         int
	in         bytes.Buffer
	readErr    error
	out        bytes.Buffer
	writeLimit int
	writeErr   error
	writes     int
	closed     bool
}

func newFakeConn(fd int) *fakeConn {
	return &fakeConn{fd: fd}
}

func (c *fakeConn) Fd() int { return c.fd }

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.in.Len() > 0 {
		return c.in.Read(p)
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	return 0, netfd.ErrWouldBlock
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writes++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.writeLimit < 0 {
		return 0, netfd.ErrWouldBlock
	}
	n := len(p)
	if c.writeLimit > 0 && n > c.writeLimit {
		n = c.writeLimit
	}
	c.out.Write(p[:n])
	return n, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// recorder 记录 Service 回调。
type recorder struct {
	connected  int
	data       bytes.Buffer
	consume    func(data []byte) (int, error)
	timeouts   int
	timeoutErr error
	keepalives int
	closed     []error
	onClosed   func(s *Session, reason error)
}

func (r *recorder) OnConnected(_ *Session) error {
	r.connected++
	return nil
}

func (r *recorder) OnData(_ *Session, data []byte) (int, error) {
	if r.consume != nil {
		return r.consume(data)
	}
	r.data.Write(data)
	return len(data), nil
}

func (r *recorder) OnTimeout(_ *Session) error {
	r.timeouts++
	return r.timeoutErr
}

func (r *recorder) OnKeepalive(_ *Session) {
	r.keepalives++
}

func (r *recorder) OnClosed(s *Session, reason error) {
	r.closed = append(r.closed, reason)
	if r.onClosed != nil {
		r.onClosed(s, reason)
	}
}

// fakeDialer 每次拨号返回一个新的 fakeConn。
type fakeDialer struct {
	dialErr      error
	establishErr error
	dials        int
	conns        []*fakeConn
}

func (d *fakeDialer) Dial(_ string, _ uint16) (Conn, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := newFakeConn(100 + d.dials)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Established(_ Conn) error {
	return d.establishErr
}

func (d *fakeDialer) last() *fakeConn {
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
