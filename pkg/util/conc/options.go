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
	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/pkg/log"
)

type poolOption struct {
	preAlloc     bool
	concealPanic bool
	logger       *log.MLogger
}

// PoolOption 配置协程池。
type PoolOption func(opt *poolOption)

// WithPreAlloc 在创建时分配全部 worker，适合常驻任务。
func WithPreAlloc(v bool) PoolOption {
	return func(opt *poolOption) { opt.preAlloc = v }
}

// WithConcealPanic 任务 panic 时只记录日志和 Future 错误，不再向上抛出。
func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) { opt.concealPanic = v }
}

// WithLogger 设置记录任务 panic 的 Logger。
func WithLogger(logger *log.MLogger) PoolOption {
	return func(opt *poolOption) { opt.logger = logger }
}

func (opt *poolOption) antsOptions() []ants.Option {
	logger := opt.logger
	if logger == nil {
		logger = log.With(log.FieldComponent("conc"))
	}
	return []ants.Option{
		ants.WithPreAlloc(opt.preAlloc),
		ants.WithPanicHandler(func(v any) {
			logger.Error("pool task panicked", zap.Any("panic", v), zap.Stack("stack"))
			if !opt.concealPanic {
				panic(v)
			}
		}),
	}
}
