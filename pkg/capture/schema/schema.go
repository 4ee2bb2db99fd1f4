// Package schema defines the capture records and their wire encodings.
//
// Every frame payload starts with a one byte kind tag followed by the
// record bytes. Fixed-width numbers are little-endian. Literal strings are
// encoded as a uint16 length followed by the string bytes; string
// declarations carry the key and the remainder of the payload is the
// string itself.
//
//	Header      := Kind(1) Version(str)
//	CaptureInfo := Kind(2) [ID(16)] PID(u32) ProcessName(str) ExecutablePath(str)
//	               SamplingRateHz(u32) FramePointerUnwinding(u8) StartTimestampNs(i64)
//	               ThreadCount(u32) { ThreadID(u32) ThreadName(str) }*
//	StringDecl  := Kind(3) Key(u32) Bytes*
//	Timer       := Kind(4) ThreadID(u32) StartNs(u64) EndNs(u64) Depth(i32) NameKey(u32) [Type(u8)]
//
// Optional fields are present depending on the format version, see Rules.
package schema

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrMalformed          = errors.New("malformed record")
	ErrUnknownKind        = errors.New("unknown record kind")
	ErrUnsupportedVersion = errors.New("unsupported format version")
)

type Kind uint8

const (
	kindInvalid Kind = iota

	KindHeader
	KindCaptureInfo
	KindStringDecl
	KindTimer

	kindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindCaptureInfo:
		return "capture_info"
	case KindStringDecl:
		return "string_decl"
	case KindTimer:
		return "timer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// DecodeRecordKind returns the kind of the record in the payload. Only the
// tag is inspected. Tags that are not known to this version of the package
// result in ErrUnknownKind; the frame may be skipped.
func DecodeRecordKind(b []byte) (Kind, error) {
	if len(b) == 0 {
		return kindInvalid, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	k := Kind(b[0])
	if k == kindInvalid || k >= kindUnknown {
		return k, fmt.Errorf("%w: tag %d", ErrUnknownKind, b[0])
	}
	return k, nil
}

func checkKind(b []byte, want Kind) ([]byte, error) {
	k, err := DecodeRecordKind(b)
	if err != nil {
		return nil, err
	}
	if k != want {
		return nil, fmt.Errorf("%w: expected %s record, got %s", ErrMalformed, want, k)
	}
	return b[1:], nil
}

type Header struct {
	Version string
}

func AppendHeader(dst []byte, h Header) ([]byte, error) {
	dst = append(dst, byte(KindHeader))
	return appendString(dst, h.Version)
}

func DecodeHeader(b []byte) (h Header, err error) {
	if b, err = checkKind(b, KindHeader); err != nil {
		return h, err
	}
	d := decoder{b: b}
	h.Version = d.string()
	if err = d.finish("header"); err != nil {
		return Header{}, err
	}
	return h, nil
}

// StringDecl declares the string bound to the key.
type StringDecl struct {
	Key   uint32
	Value string
}

func AppendStringDecl(dst []byte, s StringDecl) []byte {
	dst = append(dst, byte(KindStringDecl))
	dst = appendUint32(dst, s.Key)
	return append(dst, s.Value...)
}

func DecodeStringDecl(b []byte) (s StringDecl, err error) {
	if b, err = checkKind(b, KindStringDecl); err != nil {
		return s, err
	}
	d := decoder{b: b}
	s.Key = d.uint32()
	if d.err != nil {
		return StringDecl{}, fmt.Errorf("%w: string_decl: %v", ErrMalformed, d.err)
	}
	s.Value = string(d.b)
	return s, nil
}
