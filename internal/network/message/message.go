// Package message 定义会话发送队列中的出站消息。
//
// Message 创建后内容不可变，可以被多个会话（包括不同事件循环上的会话）共享，
// 通过引用计数决定何时释放底层内存。广播时只构造一次 Message，每个目标会话
// 入队前 Retain 一次，写完或丢弃时 Release 一次。
package message

import (
	"go.uber.org/atomic"
)

// Message 为不可变的出站字节块。
type Message struct {
	data []byte
	refs atomic.Int32
}

// New 以 data 构造消息，引用计数初始为 1，调用方不得再修改 data。
func New(data []byte) *Message {
	m := &Message{data: data}
	m.refs.Store(1)
	return m
}

// Copy 拷贝 data 后构造消息。
func Copy(data []byte) *Message {
	return New(append([]byte(nil), data...))
}

func (m *Message) Len() int { return len(m.data) }

func (m *Message) Bytes() []byte { return m.data }

// From 返回从 offset 开始尚未写出的部分。
func (m *Message) From(offset int) []byte {
	if offset >= len(m.data) {
		return nil
	}
	return m.data[offset:]
}

// Retain 增加一次引用并返回自身。
func (m *Message) Retain() *Message {
	m.refs.Inc()
	return m
}

// Release 释放一次引用，返回 true 表示这是最后一个引用。
func (m *Message) Release() bool {
	n := m.refs.Dec()
	if n < 0 {
		panic("message: released more times than retained")
	}
	if n == 0 {
		m.data = nil
		return true
	}
	return false
}

// Refs 返回当前引用计数。
func (m *Message) Refs() int32 { return m.refs.Load() }
