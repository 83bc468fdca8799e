//go:build linux

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/reactor"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// echo 原样回写收到的数据。
type echo struct {
	recorder
}

func (e *echo) OnData(s *Session, data []byte) (int, error) {
	if _, err := s.Send(data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func readAll(t *testing.T, fd int, want int) string {
	t.Helper()
	buf := make([]byte, 0, want)
	tmp := make([]byte, 4096)
	deadline := time.Now().Add(time.Second)
	for len(buf) < want && time.Now().Before(deadline) {
		n, err := unix.Read(fd, tmp)
		if err == unix.EAGAIN {
			time.Sleep(time.Millisecond)
			continue
		}
		require.NoError(t, err)
		buf = append(buf, tmp[:n]...)
	}
	return string(buf)
}

func TestSessionOnLoop(t *testing.T) {
	loop, err := reactor.NewLoop(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })

	m := newTestManager(t, 0, 8)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	peer := fds[1]
	t.Cleanup(func() { _ = unix.Close(peer) })

	s, err := m.Alloc(fds[0])
	require.NoError(t, err)
	svc := &echo{}
	s.SetService(svc)
	require.NoError(t, s.Start(Once, netfd.New(fds[0]), loop))
	id := s.ID()

	_, err = unix.Write(peer, []byte("ping"))
	require.NoError(t, err)
	require.NoError(t, loop.Dispatch(time.Second))
	assert.Equal(t, "ping", readAll(t, peer, 4))

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	for i := 0; i < 10 && s.Active(); i++ {
		require.NoError(t, loop.Dispatch(100*time.Millisecond))
	}
	assert.False(t, s.Active())
	require.Len(t, svc.closed, 1)
	assert.ErrorIs(t, svc.closed[0], merr.ErrIoUnexpectEOF)

	_, ok := m.Get(id)
	assert.False(t, ok)
	pending, timers := loop.Pending()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, timers)
}

func TestSessionDrainOnLoop(t *testing.T) {
	loop, err := reactor.NewLoop(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })

	m := newTestManager(t, 0, 8)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	peer := fds[1]
	t.Cleanup(func() { _ = unix.Close(peer) })

	s, err := m.Alloc(fds[0])
	require.NoError(t, err)
	svc := &recorder{}
	s.SetService(svc)
	require.NoError(t, s.Start(Once, netfd.New(fds[0]), loop))

	// 超过套接字缓冲区的数据必然有一部分进入发送队列。
	payload := make([]byte, 4<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = s.Send(payload)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())

	received := make([]byte, 0, len(payload))
	tmp := make([]byte, 64<<10)
	deadline := time.Now().Add(5 * time.Second)
	for len(received) < len(payload) && time.Now().Before(deadline) {
		require.NoError(t, loop.Dispatch(10*time.Millisecond))
		for {
			n, err := unix.Read(peer, tmp)
			if n <= 0 || err != nil {
				break
			}
			received = append(received, tmp[:n]...)
		}
	}
	for i := 0; i < 10 && s.Active(); i++ {
		require.NoError(t, loop.Dispatch(10*time.Millisecond))
	}

	assert.Equal(t, len(payload), len(received))
	assert.Equal(t, payload, received)
	assert.False(t, s.Active())
	assert.Equal(t, []error{nil}, svc.closed)
}
