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
	"io"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound(1)
	_ = errors.Wrap(err, "failed to send")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.code, Code(errUnexpected))
	s.Equal(errUnexpected.code, Code(io.ErrClosedPipe))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newLibError("new error", ErrSessionNotFound.code, false)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
}

func (s *ErrSuite) TestRetriable() {
	s.True(IsRetryableErr(WrapErrManagerExhausted(0, 8)))
	s.True(IsRetryableErr(errors.Wrap(WrapErrManagerSlotConflict(9, 1), "alloc")))
	s.True(IsRetryableErr(WrapErrIoTimeout("read")))
	s.False(IsRetryableErr(WrapErrManagerDuplicateKey(1)))
	s.False(IsRetryableErr(WrapErrIoFailed("write", os.ErrClosed)))
	s.False(IsRetryableErr(io.EOF))
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(context.Canceled))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.DeadlineExceeded, "dial")))
	s.False(IsCanceledOrTimeout(ErrIoTimeout))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("engine", "Initializing"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceUnavailable("stopped", "send"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrServiceMemoryLimitExceeded(110, 100, "MLE"), ErrServiceMemoryLimitExceeded)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)

	// Manager 相关错误。
	s.ErrorIs(WrapErrManagerExhausted(1, 8, "alloc"), ErrManagerExhausted)
	s.ErrorIs(WrapErrManagerDuplicateKey(7), ErrManagerDuplicateKey)
	s.ErrorIs(WrapErrManagerSlotConflict(9, 1), ErrManagerSlotConflict)

	// Session 相关错误。
	s.ErrorIs(WrapErrSessionNotFound(1, "send"), ErrSessionNotFound)
	s.ErrorIs(WrapErrSessionAlreadyActive(1), ErrSessionAlreadyActive)
	s.ErrorIs(WrapErrSessionNotWritable(1, "exiting"), ErrSessionNotWritable)
	s.ErrorIs(WrapErrSessionNotActive(1), ErrSessionNotActive)
	s.ErrorIs(WrapErrSessionNotPersist(1), ErrSessionNotPersist)
	s.ErrorIs(WrapErrSessionReconnectGiveUp(1, 3, nil), ErrSessionReconnectGiveUp)
	s.ErrorIs(WrapErrSessionNoEndpoint(1), ErrSessionNoEndpoint)

	// IO 相关错误。
	s.ErrorIs(WrapErrIoFailed("read", os.ErrClosed), ErrIoFailed)
	s.Nil(WrapErrIoFailed("read", nil))
	s.ErrorIs(WrapErrIoFailedReason("reset by peer"), ErrIoFailed)
	s.ErrorIs(WrapErrIoUnexpectEOF("read", io.EOF), ErrIoUnexpectEOF)
	s.ErrorIs(WrapErrIoInbufferOverflow(2048, 1024), ErrIoInbufferOverflow)
	s.ErrorIs(WrapErrIoTimeout("read"), ErrIoTimeout)

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid(8, 1, "failed to create"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidRange(1, 1<<16, 0, "size should be in range"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("bad port %d", 0), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("host", "no host parameter"), ErrParameterMissing)
}

func (s *ErrSuite) TestWrapMessage() {
	err := WrapErrIoInbufferOverflow(2048, 1024)
	s.Equal("inbound buffer overflow[length=2048][limit=1024]", err.Error())

	err = WrapErrSessionNotWritable(5, "exiting")
	s.Equal("session not writable[session=5]: exiting", err.Error())

	err = WrapErrParameterInvalidRange(1, 8, 9)
	s.Equal("invalid parameter[9 out of range 1 <= value <= 8]", err.Error())

	err = WrapErrSessionNotFound(3, "send", "broadcast")
	s.Equal("send->broadcast: session not found[session=3]", err.Error())
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineRetriable() {
	s.True(IsRetryableErr(Combine(WrapErrSessionNotFound(1), WrapErrManagerExhausted(0, 1))))
	s.False(IsRetryableErr(Combine(WrapErrManagerExhausted(0, 1), WrapErrSessionNotFound(1))))
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionNotFound(10), WrapErrManagerExhausted(0, 1))
	s.Equal(Code(ErrManagerExhausted), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
