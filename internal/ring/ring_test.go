package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello world"),
		bytes.Repeat([]byte("x"), 64),
	}
	for _, in := range cases {
		b := New(64)
		require.Equal(t, len(in), b.WriteStrict(in))
		out := make([]byte, len(in))
		n := b.Read(out)
		assert.Equal(t, len(in), n)
		assert.Equal(t, in, out)
		assert.Equal(t, 0, b.Size())
	}
}

func TestOverflowOverwritesOldest(t *testing.T) {
	b := New(8)
	in := []byte("0123456789") // 10 bytes into an 8-byte ring
	b.WriteOrTruncate(in)
	assert.Equal(t, 8, b.Size())
	assert.Equal(t, []byte("23456789"), b.Bytes())
}

func TestWriteStrictNeverLoses(t *testing.T) {
	b := New(4)
	n := b.WriteStrict([]byte("abcdef"))
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, b.Size())
	assert.Equal(t, []byte("abcd"), b.Bytes())
}

func TestWrapAround(t *testing.T) {
	b := New(4)
	b.WriteStrict([]byte("ab"))
	out := make([]byte, 2)
	b.Read(out)
	b.WriteStrict([]byte("cdef")[:2])
	b.WriteStrict([]byte("gh"))
	assert.Equal(t, 4, b.Size())
	assert.Equal(t, []byte("cdgh"), b.Bytes())
}

func TestPeekDoesNotConsume(t *testing.T) {
	b := New(16)
	b.WriteStrict([]byte("peekme"))
	out := make([]byte, 6)
	n := b.Peek(out)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, b.Size())
	b.Read(out)
	assert.Equal(t, 0, b.Size())
}

func TestPeekAtOffset(t *testing.T) {
	b := New(16)
	b.WriteStrict([]byte("0123456789"))
	out := make([]byte, 3)
	n := b.PeekAt(4, out)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("456"), out)
}

func TestClear(t *testing.T) {
	b := New(8)
	b.WriteStrict([]byte("abcd"))
	b.Clear()
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, 8, b.Free())
}
