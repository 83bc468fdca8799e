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

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// 非 libError 的上下文错误使用的错误码。
const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// 叶子错误。新增前先确认已有错误是否可以复用，命名为 Err + 分类 + 名称。
// retriable 表示调用方稍后重试可能成功。
var (
	ErrServiceNotReady            = newLibError("service not ready", 1, true)
	ErrServiceUnavailable         = newLibError("service unavailable", 2, true)
	ErrServiceMemoryLimitExceeded = newLibError("memory limit exceeded", 3, false)
	ErrServiceInternal            = newLibError("service internal error", 5, false)

	ErrManagerExhausted    = newLibError("session manager exhausted", 100, true)
	ErrManagerDuplicateKey = newLibError("session key already allocated", 101, false)
	ErrManagerSlotConflict = newLibError("session slot held by another key", 102, true)

	ErrSessionNotFound        = newLibError("session not found", 200, false)
	ErrSessionAlreadyActive   = newLibError("session already active", 201, false)
	ErrSessionNotWritable     = newLibError("session not writable", 202, false)
	ErrSessionNotActive       = newLibError("session not active", 203, false)
	ErrSessionNotPersist      = newLibError("session is not persistent", 204, false)
	ErrSessionReconnectGiveUp = newLibError("session reconnect gave up", 205, false)
	ErrSessionNoEndpoint      = newLibError("session endpoint not set", 208, false)

	ErrIoFailed           = newLibError("IO failed", 1001, false)
	ErrIoUnexpectEOF      = newLibError("unexpected EOF", 1002, true)
	ErrIoInbufferOverflow = newLibError("inbound buffer overflow", 1003, false)
	ErrIoTimeout          = newLibError("IO timeout", 1004, true)

	ErrParameterInvalid = newLibError("invalid parameter", 1100, false)
	ErrParameterMissing = newLibError("missing parameter", 1101, false)

	// 仅用于给未知错误分配错误码，不导出。
	errUnexpected = newLibError("unexpected error", (1<<16)-1, false)
)

// libError 按错误码比较，附加字段只改变 msg。
type libError struct {
	msg       string
	code      int32
	retriable bool
}

func newLibError(msg string, code int32, retriable bool) libError {
	return libError{msg: msg, code: code, retriable: retriable}
}

func (e libError) Error() string {
	return e.msg
}

func (e libError) Is(err error) bool {
	if cause, ok := errors.Cause(err).(libError); ok {
		return e.code == cause.code
	}
	return false
}

// multiErrors 的根因为最后一个错误，Code 与 IsRetryableErr 按它判断。
type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	switch len(e.errs) {
	case 0, 1:
		return nil
	case 2:
		return e.errs[1]
	}
	return multiErrors{errs: e.errs[1:]}
}

func (e multiErrors) Error() string {
	msg := e.errs[0].Error()
	for _, err := range e.errs[1:] {
		msg = errors.Wrap(err, msg).Error()
	}
	return msg
}

func (e multiErrors) Is(target error) bool {
	return lo.ContainsBy(e.errs, func(err error) bool { return errors.Is(err, target) })
}

// Combine 合并非 nil 的错误，全部为 nil 时返回 nil。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{errs: errs}
}
