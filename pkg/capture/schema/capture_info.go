package schema

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// DefaultSamplingRateHz is the callstack sampling frequency used when
// none is configured.
const DefaultSamplingRateHz = 1000

// threadMinSize is the smallest encoded thread entry: the id and an empty
// name.
const threadMinSize = 4 + 2

type CaptureInfo struct {
	ID                    ulid.ULID
	ProcessID             uint32
	ProcessName           string
	ExecutablePath        string
	SamplingRateHz        uint32
	FramePointerUnwinding bool
	StartTimestampNs      int64
	Threads               []Thread
}

type Thread struct {
	ID   uint32
	Name string
}

// Thread returns the thread with the given id.
func (c *CaptureInfo) Thread(id uint32) (Thread, bool) {
	for _, t := range c.Threads {
		if t.ID == id {
			return t, true
		}
	}
	return Thread{}, false
}

// Validate checks the constraints the decoder enforces.
func (c *CaptureInfo) Validate() error {
	seen := make(map[uint32]struct{}, len(c.Threads))
	for _, t := range c.Threads {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: capture_info: duplicate thread id %d", ErrMalformed, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

func AppendCaptureInfo(dst []byte, c CaptureInfo, r Rules) (_ []byte, err error) {
	if err = c.Validate(); err != nil {
		return dst, err
	}
	dst = append(dst, byte(KindCaptureInfo))
	if r.CaptureID {
		dst = append(dst, c.ID[:]...)
	}
	dst = appendUint32(dst, c.ProcessID)
	if dst, err = appendString(dst, c.ProcessName); err != nil {
		return dst, fmt.Errorf("process name: %w", err)
	}
	if dst, err = appendString(dst, c.ExecutablePath); err != nil {
		return dst, fmt.Errorf("executable path: %w", err)
	}
	dst = appendUint32(dst, c.SamplingRateHz)
	dst = appendBool(dst, c.FramePointerUnwinding)
	dst = appendUint64(dst, uint64(c.StartTimestampNs))
	dst = appendUint32(dst, uint32(len(c.Threads)))
	for _, t := range c.Threads {
		dst = appendUint32(dst, t.ID)
		if dst, err = appendString(dst, t.Name); err != nil {
			return dst, fmt.Errorf("thread %d name: %w", t.ID, err)
		}
	}
	return dst, nil
}

func DecodeCaptureInfo(b []byte, r Rules) (c CaptureInfo, err error) {
	if b, err = checkKind(b, KindCaptureInfo); err != nil {
		return c, err
	}
	d := decoder{b: b}
	if r.CaptureID {
		copy(c.ID[:], d.take(len(c.ID)))
	}
	c.ProcessID = d.uint32()
	c.ProcessName = d.string()
	c.ExecutablePath = d.string()
	c.SamplingRateHz = d.uint32()
	c.FramePointerUnwinding = d.bool()
	c.StartTimestampNs = int64(d.uint64())
	n := d.uint32()
	// The count comes from untrusted input: it must be
	// backed by the record bytes before we allocate.
	if d.err == nil && uint64(n)*threadMinSize > uint64(d.remaining()) {
		return CaptureInfo{}, fmt.Errorf("%w: capture_info: %d threads do not fit in %d bytes", ErrMalformed, n, d.remaining())
	}
	if n > 0 {
		c.Threads = make([]Thread, n)
	}
	for i := range c.Threads {
		c.Threads[i].ID = d.uint32()
		c.Threads[i].Name = d.string()
	}
	if err = d.finish("capture_info"); err != nil {
		return CaptureInfo{}, err
	}
	if err = c.Validate(); err != nil {
		return CaptureInfo{}, err
	}
	return c, nil
}
