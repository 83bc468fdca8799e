// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2019 Chao yuepan, Allen Xu
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE

// Package ring 实现会话入站数据使用的环形缓冲区。
//
// 容量始终为 2 的幂，读写位置通过掩码回绕。缓冲区不是并发安全的，
// 由所属的事件循环独占使用。
package ring

import (
	"errors"
	"io"
	"math/bits"
)

const (
	// MinRead 为 Fill 单次读取前保证的最小可写空间。
	MinRead = 512
	// DefaultBufferSize 为首次扩容时的默认容量。
	DefaultBufferSize   = 1024     // 1KB
	bufferGrowThreshold = 4 * 1024 // 4KB
)

// ErrIsEmpty 表示缓冲区中没有可读数据。
var ErrIsEmpty = errors.New("ring-buffer is empty")

// Buffer 为环形缓冲区，实现 io.Reader 和 io.Writer。
type Buffer struct {
	buf []byte
	r   int // 读位置
	n   int // 可读字节数
}

// New 创建初始容量为 size（向上取整为 2 的幂）的缓冲区，size 为 0 时延迟分配。
func New(size int) *Buffer {
	return &Buffer{buf: make([]byte, ceilToPowerOfTwo(size))}
}

func (rb *Buffer) mask() int { return len(rb.buf) - 1 }

func (rb *Buffer) w() int {
	if len(rb.buf) == 0 {
		return 0
	}
	return (rb.r + rb.n) & rb.mask()
}

// Buffered 返回可读字节数。
func (rb *Buffer) Buffered() int { return rb.n }

// Cap 返回底层容量。
func (rb *Buffer) Cap() int { return len(rb.buf) }

// Available 返回不扩容时还能写入的字节数。
func (rb *Buffer) Available() int { return len(rb.buf) - rb.n }

func (rb *Buffer) IsEmpty() bool { return rb.n == 0 }

func (rb *Buffer) IsFull() bool { return len(rb.buf) > 0 && rb.n == len(rb.buf) }

// Reset 清空缓冲区，保留底层内存。
func (rb *Buffer) Reset() {
	rb.r, rb.n = 0, 0
}

// Peek 返回接下来最多 n 个字节但不移动读位置，n <= 0 表示全部。
// 数据跨越回绕点时拆成 head、tail 两段。
func (rb *Buffer) Peek(n int) (head []byte, tail []byte) {
	if rb.n == 0 {
		return nil, nil
	}
	if n <= 0 || n > rb.n {
		n = rb.n
	}
	if rb.r+n <= len(rb.buf) {
		return rb.buf[rb.r : rb.r+n], nil
	}
	c1 := len(rb.buf) - rb.r
	return rb.buf[rb.r:], rb.buf[:n-c1]
}

// Discard 丢弃接下来 n 个字节，返回实际丢弃的数量。
func (rb *Buffer) Discard(n int) int {
	if n <= 0 {
		return 0
	}
	if n >= rb.n {
		n = rb.n
		rb.Reset()
		return n
	}
	rb.r = (rb.r + n) & rb.mask()
	rb.n -= n
	return n
}

// Read 实现 io.Reader，缓冲区为空时返回 ErrIsEmpty。
func (rb *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if rb.n == 0 {
		return 0, ErrIsEmpty
	}
	head, tail := rb.Peek(len(p))
	c := copy(p, head)
	c += copy(p[c:], tail)
	rb.Discard(c)
	return c, nil
}

// Write 实现 io.Writer，空间不足时自动扩容，总是写入全部数据。
func (rb *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > rb.Available() {
		rb.grow(rb.n + len(p))
	}
	w := rb.w()
	c := copy(rb.buf[w:], p)
	copy(rb.buf, p[c:])
	rb.n += len(p)
	return len(p), nil
}

// Fill 从 rd 读取一次，写入连续的空闲区域。
//
// 与 io.ReaderFrom 不同，Fill 只调用一次 Read，并原样返回 Read 的错误
// （包括 io.EOF 与非阻塞描述符的 EAGAIN），由调用方决定是否继续。
func (rb *Buffer) Fill(rd io.Reader) (int, error) {
	if rb.Available() < MinRead {
		rb.grow(rb.n + MinRead)
	}
	w := rb.w()
	end := len(rb.buf)
	if rb.n > 0 && w < rb.r {
		end = rb.r
	}
	m, err := rd.Read(rb.buf[w:end])
	if m < 0 {
		panic("ring.Buffer.Fill: reader returned negative count from Read")
	}
	rb.n += m
	return m, err
}

// Linearize 将可读数据整理为一段连续内存并返回，不移动读位置。
// 返回的切片在下一次写入或扩容前有效。
func (rb *Buffer) Linearize() []byte {
	if rb.n == 0 {
		return nil
	}
	if rb.r+rb.n <= len(rb.buf) {
		return rb.buf[rb.r : rb.r+rb.n]
	}
	data := make([]byte, len(rb.buf))
	head, tail := rb.Peek(0)
	copy(data[copy(data, head):], tail)
	rb.buf, rb.r = data, 0
	return rb.buf[:rb.n]
}

// Bytes 返回可读数据的拷贝。
func (rb *Buffer) Bytes() []byte {
	if rb.n == 0 {
		return nil
	}
	head, tail := rb.Peek(0)
	bb := make([]byte, 0, rb.n)
	bb = append(bb, head...)
	return append(bb, tail...)
}

func (rb *Buffer) grow(need int) {
	n := len(rb.buf)
	newCap := need
	switch {
	case n == 0:
		newCap = max(DefaultBufferSize, ceilToPowerOfTwo(need))
	case n < bufferGrowThreshold:
		newCap = ceilToPowerOfTwo(max(need, n+n))
	default:
		// 大缓冲区按 1.25 倍增长，再取整保持 2 的幂。
		for 0 < n && n < need {
			n += n / 4
		}
		newCap = ceilToPowerOfTwo(max(n, need))
	}
	data := make([]byte, newCap)
	head, tail := rb.Peek(0)
	copy(data[copy(data, head):], tail)
	rb.buf, rb.r = data, 0
}

// ceilToPowerOfTwo 将 n 向上取整为 2 的幂，n <= 0 时返回 0。
func ceilToPowerOfTwo(n int) int {
	if n <= 0 {
		return 0
	}
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}
