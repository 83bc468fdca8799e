// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"fmt"

	ants "github.com/panjf2000/ants/v2"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// Pool 为 ants.Pool 的泛型封装，每次提交返回一个 Future。
// 引擎的事件循环通过它调度，panic 统一记录。
type Pool[T any] struct {
	inner *ants.Pool
}

// NewPool 创建容量为 size 的协程池，size <= 0 表示不限容量。
func NewPool[T any](size int, opts ...PoolOption) *Pool[T] {
	opt := &poolOption{}
	for _, o := range opts {
		o(opt)
	}
	pool, err := ants.NewPool(size, opt.antsOptions()...)
	if err != nil {
		// 只有 PreAlloc 且 size <= 0 时出错。
		panic(err)
	}
	return &Pool[T]{inner: pool}
}

// Submit 提交任务，协程池已关闭时 Future 立即以错误完成。
func (p *Pool[T]) Submit(task func() (T, error)) *Future[T] {
	f := newFuture[T]()
	err := p.inner.Submit(func() {
		defer close(f.ch)
		defer func() {
			if x := recover(); x != nil {
				f.err = merr.WrapErrServiceInternal(fmt.Sprintf("task panicked: %v", x))
				panic(x)
			}
		}()
		f.value, f.err = task()
	})
	if err != nil {
		f.err = err
		close(f.ch)
	}
	return f
}

func (p *Pool[T]) Cap() int { return p.inner.Cap() }

func (p *Pool[T]) Running() int { return p.inner.Running() }

// Release 关闭协程池，不等待正在运行的任务。
func (p *Pool[T]) Release() { p.inner.Release() }
