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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回错误码，nil 为 0，无法识别的错误统一为 errUnexpected 的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	cause := errors.Cause(err)
	if e, ok := cause.(libError); ok {
		return e.code
	}
	switch {
	case errors.Is(cause, context.Canceled):
		return CanceledCode
	case errors.Is(cause, context.DeadlineExceeded):
		return TimeoutCode
	}
	return errUnexpected.code
}

// IsRetryableErr 按根因判断错误是否可重试。
func IsRetryableErr(err error) bool {
	e, ok := errors.Cause(err).(libError)
	return ok && e.retriable
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func WrapErrServiceNotReady(role string, state string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrServiceNotReady, state, value(role, state)), msg)
}

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrServiceUnavailable, reason), msg)
}

func WrapErrServiceMemoryLimitExceeded(predict, limit int, msg ...string) error {
	return withMsg(wrapFields(ErrServiceMemoryLimitExceeded, value("predict", predict), value("limit", limit)), msg)
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrServiceInternal, reason), msg)
}

func WrapErrManagerExhausted(index int, size int, msg ...string) error {
	return withMsg(wrapFields(ErrManagerExhausted, value("manager", index), value("size", size)), msg)
}

func WrapErrManagerDuplicateKey(key int64, msg ...string) error {
	return withMsg(wrapFields(ErrManagerDuplicateKey, value("key", key)), msg)
}

// WrapErrManagerSlotConflict 表示 key 映射到的槽位已被 holder 占用。
func WrapErrManagerSlotConflict(key int64, holder int64, msg ...string) error {
	return withMsg(wrapFields(ErrManagerSlotConflict, value("key", key), value("holder", holder)), msg)
}

func WrapErrSessionNotFound(id any, msg ...string) error {
	return withMsg(wrapFields(ErrSessionNotFound, value("session", id)), msg)
}

func WrapErrSessionAlreadyActive(id any, msg ...string) error {
	return withMsg(wrapFields(ErrSessionAlreadyActive, value("session", id)), msg)
}

func WrapErrSessionNotWritable(id any, state string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrSessionNotWritable, state, value("session", id)), msg)
}

func WrapErrSessionNotActive(id any, msg ...string) error {
	return withMsg(wrapFields(ErrSessionNotActive, value("session", id)), msg)
}

func WrapErrSessionNotPersist(id any, msg ...string) error {
	return withMsg(wrapFields(ErrSessionNotPersist, value("session", id)), msg)
}

// WrapErrSessionReconnectGiveUp 记录放弃重连时的尝试次数，cause 为 nil 表示退避策略已停止。
func WrapErrSessionReconnectGiveUp(id any, attempts int, cause error) error {
	desc := "backoff stopped"
	if cause != nil {
		desc = cause.Error()
	}
	return wrapFieldsWithDesc(ErrSessionReconnectGiveUp, desc, value("session", id), value("attempts", attempts))
}

func WrapErrSessionNoEndpoint(id any, msg ...string) error {
	return withMsg(wrapFields(ErrSessionNoEndpoint, value("session", id)), msg)
}

// WrapErrIoFailed 包装系统调用错误，err 为 nil 时返回 nil。
func WrapErrIoFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("op", op))
}

func WrapErrIoFailedReason(reason string, msg ...string) error {
	return withMsg(wrapFieldsWithDesc(ErrIoFailed, reason), msg)
}

func WrapErrIoUnexpectEOF(op string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoUnexpectEOF, err.Error(), value("op", op))
}

func WrapErrIoInbufferOverflow(length, limit int, msg ...string) error {
	return withMsg(wrapFields(ErrIoInbufferOverflow, value("length", length), value("limit", limit)), msg)
}

func WrapErrIoTimeout(op string, msg ...string) error {
	return withMsg(wrapFields(ErrIoTimeout, value("op", op)), msg)
}

func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	return withMsg(wrapFields(ErrParameterInvalid, value("expected", expected), value("actual", actual)), msg)
}

func WrapErrParameterInvalidRange[T any](lower, upper, actual T, msg ...string) error {
	return withMsg(wrapFields(ErrParameterInvalid, bound("value", actual, lower, upper)), msg)
}

func WrapErrParameterInvalidMsg(format string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, format, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	return withMsg(wrapFields(ErrParameterMissing, value("missing_param", param)), msg)
}

func withMsg(err error, msg []string) error {
	if len(msg) == 0 {
		return err
	}
	return errors.Wrap(err, strings.Join(msg, "->"))
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, v any) valueField {
	return valueField{name: name, value: v}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name                string
	value, lower, upper any
}

func bound(name string, v, lower, upper any) boundField {
	return boundField{name: name, value: v, lower: lower, upper: upper}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}

func wrapFields(err libError, fields ...errorField) error {
	var sb strings.Builder
	sb.WriteString(err.msg)
	for _, f := range fields {
		sb.WriteString("[" + f.String() + "]")
	}
	err.msg = sb.String()
	return err
}

func wrapFieldsWithDesc(err libError, desc string, fields ...errorField) error {
	e := wrapFields(err, fields...).(libError)
	e.msg += ": " + desc
	return e
}
