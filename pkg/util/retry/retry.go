// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/pkg/log"
	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// Do 按退避策略重复执行 fn，直到成功、遇到不可重试错误、次数用尽或 ctx 结束。
// 会阻塞调用方，不能在事件循环中使用。
//
// ctx 结束时返回 fn 最后一次的错误，ctx 在首次执行前已结束时返回 ctx.Err()。
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := newDefaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	logger := log.Ctx(ctx).With(zap.String("caller", caller(2)))
	var (
		lastErr error
		retried uint
		stopped bool
	)
	op := func() error {
		err := fn()
		switch {
		case err == nil:
			return nil
		case !IsRecoverable(err):
			logger.Warn("retry stopped on permanent error", zap.Uint("retried", retried), zap.Error(err))
			stopped = true
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, next time.Duration) {
		// 每 4 次失败记录一次。
		if retried%4 == 0 {
			logger.Warn("retry func failed", zap.Uint("retried", retried), zap.Duration("next", next), zap.Error(err))
		}
		retried++
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.backOff(), ctx), notify)
	switch {
	case err == nil, stopped:
		return err
	case merr.IsCanceledOrTimeout(err) && lastErr != nil:
		logger.Warn("retry aborted, context done", zap.Uint("retried", retried), zap.Error(err))
		return lastErr
	}
	logger.Warn("retry attempts exhausted", zap.Uint("attempts", c.attempts), zap.Error(err))
	return err
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return file + ":" + strconv.Itoa(line)
}

var errUnrecoverable = errors.New("unrecoverable error")

// Unrecoverable 标记 err 为不可恢复，Do 遇到后立即返回。
func Unrecoverable(err error) error {
	return merr.Combine(err, errUnrecoverable)
}

func IsRecoverable(err error) bool {
	return !errors.Is(err, errUnrecoverable)
}
