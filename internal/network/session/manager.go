package session

import (
	"strconv"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/internal/network/sid"
	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/metrics"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// MaxManagerSize 为单个 Manager 的最大槽位数。
const MaxManagerSize = 1 << 20

// entry 为一个会话槽位，key 为 -1 表示空闲。
type entry struct {
	key    int64
	seq    uint16
	inited bool
	data   Session
}

// Manager 以固定槽位管理会话，槽位由 key % size 决定。
//
// 槽位每次分配时序号加一，旧句柄因序号不匹配而失效。
type Manager struct {
	log.Binder

	index   uint8
	label   string
	size    uint32
	count   uint32
	entries []entry
	used    *bitset.BitSet
	setting Setting
}

type Option func(*Manager)

// WithSetting 设置新分配会话的默认配置。
func WithSetting(setting Setting) Option {
	return func(m *Manager) {
		m.setting = setting
	}
}

func WithLogger(logger *log.MLogger) Option {
	return func(m *Manager) {
		m.SetLogger(logger)
	}
}

// NewManager 创建编号为 index、容量为 size 的会话管理器。
func NewManager(index uint8, size uint32, opts ...Option) (*Manager, error) {
	if size == 0 {
		return nil, merr.WrapErrParameterInvalidMsg("manager size must be positive")
	}
	if index > sid.MaxIndex {
		return nil, merr.WrapErrParameterInvalidRange(0, sid.MaxIndex, int(index), "manager index")
	}
	if size > MaxManagerSize {
		return nil, merr.WrapErrServiceMemoryLimitExceeded(int(size), MaxManagerSize, "manager slots")
	}

	m := &Manager{
		index:   index,
		label:   strconv.Itoa(int(index)),
		size:    size,
		entries: make([]entry, size),
		used:    bitset.New(uint(size)),
		setting: DefaultSetting,
	}
	for i := range m.entries {
		m.entries[i].key = -1
	}
	for _, opt := range opts {
		opt(m)
	}
	m.SetLogger(m.Logger().With(log.FieldComponent("session-manager"), zap.Uint8("manager", index)))
	return m, nil
}

func (m *Manager) Index() uint8 { return m.index }

func (m *Manager) Size() uint32 { return m.size }

// Count 返回占用中的槽位数。
func (m *Manager) Count() uint32 { return m.count }

func (m *Manager) Setting() Setting { return m.setting }

// Alloc 为 key 分配槽位并生成新句柄。
//
// key 通常为连接的描述符。同一 key 已在使用时返回 ErrManagerDuplicateKey，
// 槽位被其他 key 占用时返回 ErrManagerSlotConflict。
func (m *Manager) Alloc(key int) (*Session, error) {
	if key < 0 || int64(key) > sid.MaxKey {
		return nil, merr.WrapErrParameterInvalidRange(0, sid.MaxKey, int64(key), "session key")
	}
	if m.count >= m.size {
		return nil, merr.WrapErrManagerExhausted(int(m.index), int(m.size))
	}

	e := &m.entries[uint32(key)%m.size]
	switch {
	case e.key == int64(key):
		return nil, merr.WrapErrManagerDuplicateKey(int64(key))
	case e.key >= 0:
		return nil, merr.WrapErrManagerSlotConflict(int64(key), e.key)
	}

	e.seq++
	if !e.inited {
		e.data.init(m)
		e.inited = true
	}
	e.key = int64(key)
	e.data.reset(sid.MustEncode(m.index, int64(key), uint32(e.seq)), m.setting)
	m.used.Set(uint(uint32(key) % m.size))
	m.count++

	metrics.SessionActive.WithLabelValues(m.label).Inc()
	metrics.SessionAllocTotal.WithLabelValues(m.label).Inc()
	return &e.data, nil
}

// AllocFree 为没有描述符的会话分配槽位，从最高槽位向下寻找空闲位置。
//
// 生成的 key 不小于 base 且 key % size 恰为所选槽位，低位槽位留给描述符。
func (m *Manager) AllocFree(base int64) (*Session, error) {
	if m.count >= m.size {
		return nil, merr.WrapErrManagerExhausted(int(m.index), int(m.size))
	}
	size := int64(m.size)
	aligned := (base + size - 1) / size * size
	for slot := size - 1; slot >= 0; slot-- {
		if m.used.Test(uint(slot)) {
			continue
		}
		return m.Alloc(int(aligned + slot))
	}
	return nil, merr.WrapErrManagerExhausted(int(m.index), int(m.size))
}

// Get 按句柄查找会话，句柄过期或不属于本 Manager 时返回 false。
func (m *Manager) Get(id sid.ID) (*Session, bool) {
	if !id.Valid() || id.Index() != int(m.index) {
		return nil, false
	}
	key := int64(id.Key())
	e := &m.entries[uint32(key)%m.size]
	if e.key != key || e.seq != id.Seq() {
		return nil, false
	}
	return &e.data, true
}

// Remove 释放会话占用的槽位，句柄随之失效。
func (m *Manager) Remove(s *Session) error {
	if s == nil {
		return merr.WrapErrParameterMissing("session", "manager remove")
	}
	key := int64(s.id.Key())
	slot := uint32(key) % m.size
	e := &m.entries[slot]
	if &e.data != s || e.key < 0 || s.id.Index() != int(m.index) {
		return merr.WrapErrSessionNotFound(s.id)
	}
	e.key = -1
	m.used.Clear(uint(slot))
	m.count--
	metrics.SessionActive.WithLabelValues(m.label).Dec()
	return nil
}

// Range 按槽位顺序遍历占用中的会话，fn 返回 false 时停止。
// 遍历的是调用时的快照，fn 中可以结束或移除会话。
func (m *Manager) Range(fn func(s *Session) bool) {
	snapshot := m.used.Clone()
	for i, ok := snapshot.NextSet(0); ok; i, ok = snapshot.NextSet(i + 1) {
		e := &m.entries[i]
		if e.key < 0 {
			continue
		}
		if !fn(&e.data) {
			return
		}
	}
}

// Destroy 关闭所有连接并释放槽位资源，之后 Manager 不可再用。
func (m *Manager) Destroy() {
	for i := range m.entries {
		e := &m.entries[i]
		if !e.inited {
			continue
		}
		e.data.final()
		e.inited = false
		if e.key >= 0 {
			metrics.SessionActive.WithLabelValues(m.label).Dec()
		}
		e.key = -1
	}
	m.used.ClearAll()
	m.count = 0
	m.Logger().Debug("session manager destroyed")
}
