// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2016 Aliaksandr Valialkin, VertaMedia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Use of this source code is governed by a MIT license that can be found
// at https://github.com/valyala/bytebufferpool/blob/master/LICENSE

// Package ringbuffer 为会话入站缓冲区提供对象池。
//
// 会话槽位在 Manager 创建时初始化、销毁时回收，入站缓冲区跟随槽位的物理生命周期；
// 池按归还时的容量分布自动校准默认大小，超过 95 分位的大缓冲区直接丢弃，
// 避免个别大包连接把内存长期钉在池里。
package ringbuffer

import (
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fwjieok/libevlite/pkg/buffer/ring"
)

const (
	minBitSize = 6 // 2**6=64，为典型 CPU cache line 大小
	steps      = 20

	minSize = 1 << minBitSize

	calibrateCallsThreshold = 42000
	maxPercentile           = 0.95
)

// Pool 为 ring.Buffer 的对象池，零值可用。
type Pool struct {
	calls       [steps]atomic.Uint64
	calibrating atomic.Bool

	defaultSize atomic.Uint64
	maxSize     atomic.Uint64

	pool sync.Pool
}

var builtinPool Pool

// Get 从默认池中取出一个空缓冲区。
func Get() *ring.Buffer { return builtinPool.Get() }

// Put 将缓冲区归还默认池，归还后不得再访问。
func Put(b *ring.Buffer) { builtinPool.Put(b) }

func (p *Pool) Get() *ring.Buffer {
	if v := p.pool.Get(); v != nil {
		return v.(*ring.Buffer)
	}
	return ring.New(int(p.defaultSize.Load()))
}

func (p *Pool) Put(b *ring.Buffer) {
	if b == nil {
		return
	}
	if p.calls[index(b.Cap())].Add(1) > calibrateCallsThreshold {
		p.calibrate()
	}

	limit := p.maxSize.Load()
	if limit == 0 || uint64(b.Cap()) <= limit {
		b.Reset()
		p.pool.Put(b)
	}
}

func (p *Pool) calibrate() {
	if !p.calibrating.CompareAndSwap(false, true) {
		return
	}
	defer p.calibrating.Store(false)

	type callSize struct {
		calls uint64
		size  uint64
	}
	a := make([]callSize, 0, steps)
	var callsSum uint64
	for i := 0; i < steps; i++ {
		calls := p.calls[i].Swap(0)
		callsSum += calls
		a = append(a, callSize{calls: calls, size: minSize << i})
	}
	slices.SortFunc(a, func(x, y callSize) int {
		switch {
		case x.calls > y.calls:
			return -1
		case x.calls < y.calls:
			return 1
		}
		return 0
	})

	defaultSize := a[0].size
	maxSize := defaultSize
	maxSum := uint64(float64(callsSum) * maxPercentile)
	callsSum = 0
	for _, cs := range a {
		if callsSum > maxSum {
			break
		}
		callsSum += cs.calls
		maxSize = max(maxSize, cs.size)
	}

	p.defaultSize.Store(defaultSize)
	p.maxSize.Store(maxSize)
}

func index(n int) int {
	n--
	n >>= minBitSize
	idx := 0
	if n > 0 {
		idx = bits.Len(uint(n))
	}
	return min(idx, steps-1)
}
