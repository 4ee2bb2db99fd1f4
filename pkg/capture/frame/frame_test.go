package frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"runtime"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Frame_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x1},
		bytes.Repeat([]byte{0xab}, 127),
		bytes.Repeat([]byte{0xcd}, 128),
		bytes.Repeat([]byte{0xef}, 1<<16),
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, p := range payloads {
		require.NoError(t, w.WriteFrame(p))
	}
	assert.Equal(t, int64(len(payloads)), w.Frames())
	assert.Equal(t, int64(buf.Len()), w.Size())

	r := NewReader(&buf, 0)
	for _, p := range payloads {
		f, err := r.ReadFrame()
		require.NoError(t, err)
		assert.NotNil(t, f)
		assert.Equal(t, p, f)
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, w.Size(), r.Offset())
	assert.Equal(t, int64(len(payloads)), r.Frames())
}

func Test_Frame_EmptySource(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil), 0).ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func Test_Frame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteFrame(bytes.Repeat([]byte{1}, 300)))
	b := buf.Bytes()
	// Every strict prefix except the empty one is truncated.
	for k := 1; k < len(b); k++ {
		_, err := NewReader(bytes.NewReader(b[:k]), 0).ReadFrame()
		require.ErrorIs(t, err, ErrTruncated, "prefix %d", k)
	}
}

func Test_Frame_TooLarge(t *testing.T) {
	var lp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lp[:], 4<<30)
	// Only the length prefix is present: the payload must not be read.
	r := NewReader(bytes.NewReader(lp[:n]), 1<<10)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, int64(n), r.Offset())
	assert.Zero(t, cap(r.buf))
}

func Test_Frame_ShortPayloadAllocation(t *testing.T) {
	var lp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lp[:], 60<<20)
	// The length is within the limit but only 4 bytes follow it.
	src := append(lp[:n:n], 1, 2, 3, 4)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	r := NewReader(bytes.NewReader(src), 0)
	_, err := r.ReadFrame()
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrTruncated)
	assert.LessOrEqual(t, cap(r.buf), readChunkSize)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20))
}

func Test_Frame_LargePayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, 3*readChunkSize+17)
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteFrame(payload))

	f, err := NewReader(&buf, 0).ReadFrame()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, f))
}

func Test_Frame_MalformedLength(t *testing.T) {
	b := bytes.Repeat([]byte{0xff}, binary.MaxVarintLen64+1)
	_, err := NewReader(bytes.NewReader(b), 0).ReadFrame()
	require.ErrorIs(t, err, ErrMalformedLength)
}

func Test_Frame_ReaderError(t *testing.T) {
	failure := io.ErrClosedPipe
	_, err := NewReader(iotest.ErrReader(failure), 0).ReadFrame()
	require.ErrorIs(t, err, failure)
	assert.NotErrorIs(t, err, ErrTruncated)
}

func Test_Frame_OneByteReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("hello")))
	require.NoError(t, w.WriteFrame([]byte("world")))

	r := NewReader(iotest.OneByteReader(&buf), 0)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(f))
	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "world", string(f))
	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}
