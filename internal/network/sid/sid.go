// Package sid 实现会话句柄（Session ID）的编解码。
//
// 句柄是一个 64 位整数，按位布局（高位在前）：
//
//	63..56  reserved       保留位，编码时必须为 0，解码时忽略
//	55..48  manager index  所属 Manager 的编号，存储为 index+1，0 表示未设置
//	47..16  key            槽位的稳定 key（分配时的连接描述符）
//	15..0   sequence       槽位的代数，每次复用递增
//
// 句柄是跨层引用会话的唯一方式：持有者只能通过 Manager.Get 校验 sequence
// 后拿到会话，槽位被复用后旧句柄会自然失效。
package sid

import (
	"fmt"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// ID 为会话句柄。
type ID uint64

const (
	Mask      ID = 0x00ffffffffffffff
	KeyMask   ID = 0x0000ffffffff0000
	SeqMask   ID = 0x000000000000ffff
	IndexMask ID = 0x00ff000000000000

	keyShift   = 16
	indexShift = 48
	resvShift  = 56

	// MaxIndex 为可编码的最大 Manager 编号，255 留给 +1 偏移。
	MaxIndex = 254
	MaxKey   = 1<<32 - 1
	MaxSeq   = 1<<16 - 1
)

// Zero 为空句柄，任何 Manager 都不会签发。
const Zero ID = 0

// Encode 将 (index, key, seq) 打包为句柄。
func Encode(index uint8, key int64, seq uint32) (ID, error) {
	if index > MaxIndex {
		return Zero, merr.WrapErrParameterInvalidRange(0, MaxIndex, int(index), "manager index")
	}
	if key < 0 || key > MaxKey {
		return Zero, merr.WrapErrParameterInvalidRange(0, int64(MaxKey), key, "session key")
	}
	if seq > MaxSeq {
		return Zero, merr.WrapErrParameterInvalidRange(0, uint32(MaxSeq), seq, "session sequence")
	}
	return ID(uint64(index)+1)<<indexShift | ID(key)<<keyShift | ID(seq), nil
}

// MustEncode 与 Encode 相同，参数越界时 panic。
// 调用方传入越界参数属于编程错误。
func MustEncode(index uint8, key int64, seq uint32) ID {
	id, err := Encode(index, key, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode 拆出句柄的三个字段，index 为 -1 表示未设置 Manager。
func Decode(id ID) (index int, key uint32, seq uint16) {
	return id.Index(), id.Key(), id.Seq()
}

func (id ID) Seq() uint16 {
	return uint16(id & SeqMask)
}

func (id ID) Key() uint32 {
	return uint32((id & KeyMask) >> keyShift)
}

// Index 返回 Manager 编号，未设置时返回 -1。
func (id ID) Index() int {
	return int((id&IndexMask)>>indexShift) - 1
}

func (id ID) Reserved() uint8 {
	return uint8(id >> resvShift)
}

// Valid 只检查布局：保留位为 0 且带有 Manager 编号。
func (id ID) Valid() bool {
	return id.Reserved() == 0 && id.Index() >= 0
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d:%d", id.Index(), id.Key(), id.Seq())
}
