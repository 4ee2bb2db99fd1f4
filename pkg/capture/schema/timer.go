package schema

import "fmt"

// MaxDepth is the deepest call nesting a timer may declare.
const MaxDepth = 1024

type TimerType uint8

const (
	TimerTypeNone TimerType = iota
	TimerTypeCoreActivity
	TimerTypeIntrospection
	TimerTypeGPUActivity
	TimerTypeFrame

	timerTypeUnknown
)

func (t TimerType) String() string {
	switch t {
	case TimerTypeNone:
		return "none"
	case TimerTypeCoreActivity:
		return "core_activity"
	case TimerTypeIntrospection:
		return "introspection"
	case TimerTypeGPUActivity:
		return "gpu_activity"
	case TimerTypeFrame:
		return "frame"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Timer is a single profiling event as it is stored on the wire.
// The name is a reference to a declared string.
type Timer struct {
	ThreadID uint32
	StartNs  uint64
	EndNs    uint64
	Depth    int32
	NameKey  uint32
	Type     TimerType
}

// Validate checks the field ranges the decoder enforces.
func (t *Timer) Validate() error {
	switch {
	case t.StartNs > t.EndNs:
		return fmt.Errorf("%w: timer: start %d is after end %d", ErrMalformed, t.StartNs, t.EndNs)
	case t.Depth < 0:
		return fmt.Errorf("%w: timer: negative depth %d", ErrMalformed, t.Depth)
	case t.Depth > MaxDepth:
		return fmt.Errorf("%w: timer: depth %d exceeds %d", ErrMalformed, t.Depth, MaxDepth)
	case t.Type >= timerTypeUnknown:
		return fmt.Errorf("%w: timer: unknown type %d", ErrMalformed, t.Type)
	}
	return nil
}

func AppendTimer(dst []byte, t Timer, r Rules) []byte {
	dst = append(dst, byte(KindTimer))
	dst = appendUint32(dst, t.ThreadID)
	dst = appendUint64(dst, t.StartNs)
	dst = appendUint64(dst, t.EndNs)
	dst = appendUint32(dst, uint32(t.Depth))
	dst = appendUint32(dst, t.NameKey)
	if r.TimerType {
		dst = append(dst, byte(t.Type))
	}
	return dst
}

func DecodeTimer(b []byte, r Rules) (t Timer, err error) {
	if b, err = checkKind(b, KindTimer); err != nil {
		return t, err
	}
	d := decoder{b: b}
	t.ThreadID = d.uint32()
	t.StartNs = d.uint64()
	t.EndNs = d.uint64()
	t.Depth = int32(d.uint32())
	t.NameKey = d.uint32()
	if r.TimerType {
		t.Type = TimerType(d.uint8())
	}
	if err = d.finish("timer"); err != nil {
		return Timer{}, err
	}
	if err = t.Validate(); err != nil {
		return Timer{}, err
	}
	return t, nil
}
