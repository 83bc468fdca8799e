package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPut(t *testing.T) {
	var p Pool
	b := p.Get()
	assert.NotNil(t, b)
	assert.True(t, b.IsEmpty())

	_, _ = b.Write([]byte("payload"))
	p.Put(b)
	p.Put(nil)

	b = Get()
	assert.True(t, b.IsEmpty())
	Put(b)
}

func TestCalibrate(t *testing.T) {
	var p Pool
	for i := 0; i < calibrateCallsThreshold+1; i++ {
		b := p.Get()
		_, _ = b.Write(make([]byte, 1000))
		p.Put(b)
	}
	assert.Equal(t, uint64(1024), p.defaultSize.Load())
	assert.Equal(t, uint64(1024), p.maxSize.Load())
}

func TestIndex(t *testing.T) {
	assert.Equal(t, 0, index(0))
	assert.Equal(t, 0, index(64))
	assert.Equal(t, 1, index(128))
	assert.Equal(t, 4, index(1024))
	assert.Equal(t, steps-1, index(1<<40))
}
