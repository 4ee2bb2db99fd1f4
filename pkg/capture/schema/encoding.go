package schema

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var errShortBuffer = errors.New("unexpected end of record")

// MaxStringSize is the longest literal string a record may carry.
const MaxStringSize = math.MaxUint16

func appendUint32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
func appendUint64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }

func appendString(b []byte, s string) ([]byte, error) {
	if len(s) > MaxStringSize {
		return b, fmt.Errorf("string of %d bytes exceeds the limit of %d", len(s), MaxStringSize)
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// decoder reads fixed-width fields from a record. The first failure is
// sticky: subsequent reads return zero values.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = errShortBuffer
		return nil
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}

func (d *decoder) uint8() uint8 {
	if v := d.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (d *decoder) uint32() uint32 {
	if v := d.take(4); v != nil {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

func (d *decoder) uint64() uint64 {
	if v := d.take(8); v != nil {
		return binary.LittleEndian.Uint64(v)
	}
	return 0
}

func (d *decoder) bool() bool {
	switch v := d.uint8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		if d.err == nil {
			d.err = fmt.Errorf("invalid boolean value %d", v)
		}
		return false
	}
}

func (d *decoder) string() string {
	n := d.take(2)
	if n == nil {
		return ""
	}
	return string(d.take(int(binary.LittleEndian.Uint16(n))))
}

// remaining reports the number of unread bytes.
func (d *decoder) remaining() int { return len(d.b) }

// finish reports an error if a read failed or trailing bytes are left.
func (d *decoder) finish(record string) error {
	if d.err == nil && len(d.b) > 0 {
		d.err = fmt.Errorf("%d trailing bytes", len(d.b))
	}
	if d.err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, record, d.err)
	}
	return nil
}
