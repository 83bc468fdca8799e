package session

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwjieok/libevlite/internal/network/sid"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

func newTestManager(t *testing.T, index uint8, size uint32, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(log.NewTestLogger(t))}, opts...)
	m, err := NewManager(index, size, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func TestNewManagerInvalid(t *testing.T) {
	_, err := NewManager(0, 0)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = NewManager(255, 8)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	_, err = NewManager(0, MaxManagerSize+1)
	assert.ErrorIs(t, err, merr.ErrServiceMemoryLimitExceeded)
}

func TestManagerAlloc(t *testing.T) {
	m := newTestManager(t, 3, 16)

	s, err := m.Alloc(7)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ID().Index())
	assert.Equal(t, uint32(7), s.ID().Key())
	assert.Equal(t, uint16(1), s.ID().Seq())
	assert.Equal(t, Once, s.Type())
	assert.Equal(t, uint32(1), m.Count())
	assert.Equal(t, uint32(16), m.Size())
	assert.Equal(t, uint8(3), m.Index())

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestManagerAllocInvalidKey(t *testing.T) {
	m := newTestManager(t, 0, 4)
	_, err := m.Alloc(-1)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	assert.Equal(t, uint32(0), m.Count())
}

func TestManagerStaleHandle(t *testing.T) {
	m := newTestManager(t, 0, 8)

	s, err := m.Alloc(5)
	require.NoError(t, err)
	old := s.ID()
	require.NoError(t, m.Remove(s))

	_, ok := m.Get(old)
	assert.False(t, ok)

	again, err := m.Alloc(5)
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, uint16(2), again.ID().Seq())

	_, ok = m.Get(old)
	assert.False(t, ok)
	got, ok := m.Get(again.ID())
	assert.True(t, ok)
	assert.Same(t, again, got)
}

func TestManagerCapacity(t *testing.T) {
	m := newTestManager(t, 0, 4)

	sessions := make([]*Session, 0, 4)
	for key := 0; key < 4; key++ {
		s, err := m.Alloc(key)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	_, err := m.Alloc(4)
	assert.ErrorIs(t, err, merr.ErrManagerExhausted)
	assert.True(t, merr.IsRetryableErr(err))
	assert.Equal(t, uint32(4), m.Count())

	require.NoError(t, m.Remove(sessions[2]))
	s, err := m.Alloc(6)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), s.ID().Key())
	assert.Equal(t, uint32(4), m.Count())
}

func TestManagerKeyConflicts(t *testing.T) {
	m := newTestManager(t, 0, 8)

	_, err := m.Alloc(3)
	require.NoError(t, err)

	_, err = m.Alloc(3)
	assert.ErrorIs(t, err, merr.ErrManagerDuplicateKey)

	_, err = m.Alloc(11)
	assert.ErrorIs(t, err, merr.ErrManagerSlotConflict)
	assert.Equal(t, uint32(1), m.Count())
}

func TestManagerGetRejectsForeignHandles(t *testing.T) {
	m := newTestManager(t, 1, 8)
	s, err := m.Alloc(2)
	require.NoError(t, err)

	_, ok := m.Get(sid.Zero)
	assert.False(t, ok)

	other := sid.MustEncode(2, 2, uint32(s.ID().Seq()))
	_, ok = m.Get(other)
	assert.False(t, ok)

	reserved := s.ID() | sid.ID(1)<<56
	_, ok = m.Get(reserved)
	assert.False(t, ok)

	_, ok = m.Get(sid.MustEncode(1, 3, 1))
	assert.False(t, ok)
}

func TestManagerRemoveTwice(t *testing.T) {
	m := newTestManager(t, 0, 8)
	s, err := m.Alloc(1)
	require.NoError(t, err)

	require.NoError(t, m.Remove(s))
	assert.ErrorIs(t, m.Remove(s), merr.ErrSessionNotFound)
	assert.Error(t, m.Remove(nil))
	assert.Equal(t, uint32(0), m.Count())
}

func TestManagerRange(t *testing.T) {
	m := newTestManager(t, 0, 8)
	for _, key := range []int{6, 1, 3} {
		_, err := m.Alloc(key)
		require.NoError(t, err)
	}

	var keys []uint32
	m.Range(func(s *Session) bool {
		keys = append(keys, s.ID().Key())
		return true
	})
	assert.Equal(t, []uint32{1, 3, 6}, keys)

	// 遍历中移除会话。
	m.Range(func(s *Session) bool {
		assert.NoError(t, m.Remove(s))
		return true
	})
	assert.Equal(t, uint32(0), m.Count())

	_, err := m.Alloc(4)
	require.NoError(t, err)
	_, err = m.Alloc(5)
	require.NoError(t, err)
	visited := 0
	m.Range(func(*Session) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestManagerDestroyClosesConnections(t *testing.T) {
	m, err := NewManager(0, 4)
	require.NoError(t, err)

	s, err := m.Alloc(9)
	require.NoError(t, err)
	conn := newFakeConn(9)
	require.NoError(t, s.Start(Once, conn, newFakeEvents()))

	m.Destroy()
	assert.True(t, conn.closed)
	assert.Equal(t, uint32(0), m.Count())
	_, ok := m.Get(s.ID())
	assert.False(t, ok)
}

func TestManagerSetting(t *testing.T) {
	setting := Setting{Timeout: 3, MaxInbufferLen: 64}
	m := newTestManager(t, 0, 4, WithSetting(setting))
	s, err := m.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, setting, s.Setting())
	assert.Equal(t, setting, m.Setting())
}

func TestManagerMetrics(t *testing.T) {
	m := newTestManager(t, 200, 4)
	active := metrics.SessionActive.WithLabelValues("200")
	allocs := metrics.SessionAllocTotal.WithLabelValues("200")
	baseActive, baseAllocs := testutil.ToFloat64(active), testutil.ToFloat64(allocs)

	s, err := m.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, baseActive+1, testutil.ToFloat64(active))
	assert.Equal(t, baseAllocs+1, testutil.ToFloat64(allocs))

	require.NoError(t, m.Remove(s))
	assert.Equal(t, baseActive, testutil.ToFloat64(active))
	assert.Equal(t, baseAllocs+1, testutil.ToFloat64(allocs))
}

func TestManagerAllocFree(t *testing.T) {
	const base = 1 << 30
	m := newTestManager(t, 0, 6)

	// base 不是 size 的整数倍时按槽位对齐。
	aligned := int64(base+5) / 6 * 6
	s, err := m.AllocFree(base)
	require.NoError(t, err)
	assert.Equal(t, uint32(aligned+5), s.ID().Key())

	_, err = m.Alloc(4)
	require.NoError(t, err)
	s, err = m.AllocFree(base)
	require.NoError(t, err)
	assert.Equal(t, uint32(aligned+3), s.ID().Key())

	// 低位槽位仍可由描述符使用。
	for key := 0; key < 3; key++ {
		_, err = m.Alloc(key)
		require.NoError(t, err)
	}
	_, err = m.AllocFree(base)
	assert.ErrorIs(t, err, merr.ErrManagerExhausted)
	assert.Equal(t, uint32(6), m.Count())
}

func TestManagerSeqWraps(t *testing.T) {
	m := newTestManager(t, 0, 2)

	var seqs []uint16
	for i := 0; i < 1<<16+1; i++ {
		s, err := m.Alloc(1)
		require.NoError(t, err)
		seqs = append(seqs, s.ID().Seq())
		require.NoError(t, m.Remove(s))
	}
	assert.Equal(t, uint16(1), seqs[0])
	assert.Equal(t, uint16(65535), seqs[65534])
	assert.Equal(t, uint16(0), seqs[65535])
	assert.Equal(t, uint16(1), seqs[65536])
}
