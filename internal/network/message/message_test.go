package message

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageFrom(t *testing.T) {
	m := New([]byte("hello"))
	assert.Equal(t, 5, m.Len())
	assert.Equal(t, "hello", string(m.Bytes()))
	assert.Equal(t, "llo", string(m.From(2)))
	assert.Nil(t, m.From(5))
	assert.Nil(t, m.From(9))
}

func TestMessageCopy(t *testing.T) {
	src := []byte("abc")
	m := Copy(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(m.Bytes()))
}

func TestMessageRefcount(t *testing.T) {
	m := New([]byte("shared"))
	assert.Equal(t, int32(1), m.Refs())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		m.Retain()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, m.Release())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), m.Refs())
	assert.True(t, m.Release())
	assert.Nil(t, m.Bytes())
	assert.Panics(t, func() { m.Release() })
}
