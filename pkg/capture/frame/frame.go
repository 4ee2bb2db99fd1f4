// Package frame implements length-delimited framing of opaque payloads.
//
// A frame is a little-endian base 128 varint length followed by the payload
// bytes. The package has no knowledge of the payload semantics.
package frame

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/pkg/errors"
)

// DefaultMaxFrameSize is large enough for any legitimate capture info record
// and small enough to reject a corrupted multi-gigabyte length claim.
const DefaultMaxFrameSize = 64 << 20

const readChunkSize = 1 << 20

var (
	ErrTruncated       = errors.New("frame truncated")
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrMalformedLength = errors.New("malformed frame length")
)

type Writer struct {
	w      io.Writer
	buf    [binary.MaxVarintLen64]byte
	frames int64
	size   int64
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame writes the length prefix followed by the payload.
func (w *Writer) WriteFrame(payload []byte) error {
	n := binary.PutUvarint(w.buf[:], uint64(len(payload)))
	if _, err := w.w.Write(w.buf[:n]); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	w.frames++
	w.size += int64(n + len(payload))
	return nil
}

// Frames reports the number of frames written.
func (w *Writer) Frames() int64 { return w.frames }

// Size reports the number of bytes written, including length prefixes.
func (w *Writer) Size() int64 { return w.size }

type Reader struct {
	r       io.ByteReader
	src     io.Reader
	maxSize uint64

	buf    []byte
	offset int64
	frames int64
}

// NewReader creates a frame reader. If maxSize is zero,
// DefaultMaxFrameSize is used.
func NewReader(r io.Reader, maxSize uint64) *Reader {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	fr := Reader{src: r, maxSize: maxSize}
	if br, ok := r.(io.ByteReader); ok {
		fr.r = br
	} else {
		b := bufio.NewReader(r)
		fr.r, fr.src = b, b
	}
	return &fr
}

// ReadFrame returns the next frame payload. The returned slice is only
// valid until the next call. io.EOF is returned if the source is exhausted
// at a frame boundary.
func (r *Reader) ReadFrame() ([]byte, error) {
	size, err := r.readLength()
	if err != nil {
		return nil, err
	}
	if size > r.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, size, r.maxSize)
	}
	n, err := r.readPayload(size)
	r.offset += int64(n)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: payload: read %d of %d bytes", ErrTruncated, n, size)
	default:
		return nil, err
	}
	r.frames++
	return r.buf, nil
}

// readPayload reads size bytes into the frame buffer. The buffer grows
// with the bytes actually read, not with the claimed size.
func (r *Reader) readPayload(size uint64) (int, error) {
	if r.buf == nil {
		r.buf = make([]byte, 0, min(size, readChunkSize))
	}
	r.buf = r.buf[:0]
	for uint64(len(r.buf)) < size {
		chunk := int(min(size-uint64(len(r.buf)), readChunkSize))
		r.buf = slices.Grow(r.buf, chunk)
		n, err := io.ReadFull(r.src, r.buf[len(r.buf):len(r.buf)+chunk])
		r.buf = r.buf[:len(r.buf)+n]
		if err != nil {
			return len(r.buf), err
		}
	}
	return len(r.buf), nil
}

func (r *Reader) readLength() (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if i == 0 {
					return 0, io.EOF
				}
				return 0, fmt.Errorf("%w: length prefix", ErrTruncated)
			}
			return 0, err
		}
		r.offset++
		if b < 0x80 {
			if i == binary.MaxVarintLen64-1 && b > 1 {
				return 0, ErrMalformedLength
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, ErrMalformedLength
}

// Offset reports the number of bytes consumed from the source.
func (r *Reader) Offset() int64 { return r.offset }

// Frames reports the number of complete frames read.
func (r *Reader) Frames() int64 { return r.frames }
