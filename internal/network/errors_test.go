package network

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

func TestWithStage(t *testing.T) {
	assert.NoError(t, WithStage(nil, StageAccept))

	err := WithStage(merr.WrapErrManagerExhausted(0, 4), StageAlloc)
	assert.ErrorIs(t, err, merr.ErrManagerExhausted)
	assert.True(t, merr.IsRetryableErr(err))
	assert.Contains(t, err.Error(), "alloc: ")

	stage, ok := StageOf(errors.Wrap(err, "accept loop"))
	assert.True(t, ok)
	assert.Equal(t, StageAlloc, stage)

	_, ok = StageOf(io.EOF)
	assert.False(t, ok)
}
