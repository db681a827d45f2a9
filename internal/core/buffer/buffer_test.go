package buffer

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendConsume(t *testing.T) {
	b := New(4)

	b.Append([]byte("hello"))
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, []byte("hello"), b.View())

	b.Consume(2)
	assert.Equal(t, []byte("llo"), b.View())

	b.Append([]byte(" world"))
	assert.Equal(t, []byte("llo world"), b.View())

	b.Consume(b.Len())
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.View())
}

func TestBuffer_Grow(t *testing.T) {
	b := New(8)
	data := bytes.Repeat([]byte{0xAB}, 100)

	b.Append(data)

	assert.Equal(t, 100, b.Len())
	// 扩容量至少为需求的 1.2 倍
	assert.GreaterOrEqual(t, b.Cap(), 120)
	assert.Equal(t, data, b.View())
}

func TestBuffer_CompactInPlace(t *testing.T) {
	b := New(16)
	b.Append([]byte("0123456789"))
	b.Consume(8)

	// 剩余 2 字节 + 追加 10 字节 = 12 <= 16，应原地压缩而不是扩容
	b.Append([]byte("abcdefghij"))

	assert.Equal(t, 16, b.Cap())
	assert.Equal(t, []byte("89abcdefghij"), b.View())
}

func TestBuffer_ConsumeTooMuch(t *testing.T) {
	b := New(8)
	b.Append([]byte("abc"))

	assert.Panics(t, func() { b.Consume(4) })
	assert.Panics(t, func() { b.Consume(-1) })
}

func TestBuffer_Reset(t *testing.T) {
	b := New(8)
	b.Append([]byte("abcdef"))
	b.Consume(2)
	b.Reset()

	assert.Equal(t, 0, b.Len())
	b.Append([]byte("xy"))
	assert.Equal(t, []byte("xy"), b.View())
}

// TestBuffer_RandomChunking 随机分块追加/消费，消费得到的字节序列必须等于追加的字节序列
func TestBuffer_RandomChunking(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))

		var written, read bytes.Buffer
		b := New(1 + rng.Intn(32))

		for i := 0; i < 500; i++ {
			if rng.Intn(2) == 0 {
				chunk := make([]byte, rng.Intn(300))
				rng.Read(chunk)
				b.Append(chunk)
				written.Write(chunk)
			} else if b.Len() > 0 {
				n := 1 + rng.Intn(b.Len())
				read.Write(b.View()[:n])
				b.Consume(n)
			}
			require.LessOrEqual(t, b.offset+b.length, len(b.buf), "seed %d", seed)
		}
		read.Write(b.View())
		b.Consume(b.Len())

		require.Equal(t, written.Bytes(), read.Bytes(), "seed %d", seed)
	}
}
