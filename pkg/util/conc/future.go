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

type awaitable interface {
	Err() error
}

// Future 为提交到 Pool 的任务结果，ch 关闭后 value 与 err 不再变化。
type Future[T any] struct {
	ch    chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan struct{})}
}

// Await 阻塞直到任务完成。
func (f *Future[T]) Await() (T, error) {
	<-f.ch
	return f.value, f.err
}

// Err 阻塞直到任务完成并返回其错误。
func (f *Future[T]) Err() error {
	<-f.ch
	return f.err
}

// Done 不阻塞地返回任务是否完成。
func (f *Future[T]) Done() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Inner 返回任务完成时关闭的 channel，可用于 select。
func (f *Future[T]) Inner() <-chan struct{} {
	return f.ch
}

// AwaitAll 按顺序等待全部任务，返回第一个任务错误。
func AwaitAll[T awaitable](futures ...T) error {
	var first error
	for _, f := range futures {
		if err := f.Err(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
