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

package typeutil

import "sync"

// Set 为非并发安全的集合。
type Set[T comparable] map[T]struct{}

func NewSet[T comparable](elements ...T) Set[T] {
	s := make(Set[T], len(elements))
	s.Insert(elements...)
	return s
}

func (s Set[T]) Insert(elements ...T) {
	for _, e := range elements {
		s[e] = struct{}{}
	}
}

// Contain 当 elements 全部在集合中时返回 true。
func (s Set[T]) Contain(elements ...T) bool {
	for _, e := range elements {
		if _, ok := s[e]; !ok {
			return false
		}
	}
	return true
}

func (s Set[T]) Remove(elements ...T) {
	for _, e := range elements {
		delete(s, e)
	}
}

func (s Set[T]) Len() int { return len(s) }

// Collect 以切片返回全部元素，顺序不确定。
func (s Set[T]) Collect() []T {
	out := make([]T, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	return out
}

// ConcurrentSet 为读写锁保护的集合，Len 返回精确值。
type ConcurrentSet[T comparable] struct {
	mu    sync.RWMutex
	inner Set[T]
}

func NewConcurrentSet[T comparable]() *ConcurrentSet[T] {
	return &ConcurrentSet[T]{inner: make(Set[T])}
}

// Insert 插入元素，元素此前不存在时返回 true。
func (s *ConcurrentSet[T]) Insert(element T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner.Contain(element) {
		return false
	}
	s.inner.Insert(element)
	return true
}

// Remove 删除元素，元素此前存在时返回 true。
func (s *ConcurrentSet[T]) Remove(element T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inner.Contain(element) {
		return false
	}
	s.inner.Remove(element)
	return true
}

func (s *ConcurrentSet[T]) Contain(element T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Contain(element)
}

func (s *ConcurrentSet[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Len()
}

// Collect 返回当前元素的快照。
func (s *ConcurrentSet[T]) Collect() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Collect()
}
