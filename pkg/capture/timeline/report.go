package timeline

import (
	"fmt"
	"sort"
	"strings"
)

// Anomaly is the reason a record was dropped while streaming a capture.
type Anomaly uint8

const (
	AnomalyMalformed Anomaly = iota
	AnomalyUnknownKey
	AnomalyUnknownThread
	AnomalyUnknownKind
	AnomalyDuplicateKey

	anomalies
)

func (a Anomaly) String() string {
	switch a {
	case AnomalyMalformed:
		return "malformed"
	case AnomalyUnknownKey:
		return "unknown_key"
	case AnomalyUnknownThread:
		return "unknown_thread"
	case AnomalyUnknownKind:
		return "unknown_kind"
	case AnomalyDuplicateKey:
		return "duplicate_key"
	default:
		return fmt.Sprintf("anomaly(%d)", uint8(a))
	}
}

// Anomalies returns all anomaly reasons.
func Anomalies() []Anomaly {
	a := make([]Anomaly, anomalies)
	for i := range a {
		a[i] = Anomaly(i)
	}
	return a
}

// StopReason explains why streaming stopped before the end of the stream.
type StopReason uint8

const (
	StopNone StopReason = iota
	StopTruncated
	StopFrameTooLarge
	StopCancelled
	StopIO
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopTruncated:
		return "truncated"
	case StopFrameTooLarge:
		return "frame_too_large"
	case StopCancelled:
		return "cancelled"
	case StopIO:
		return "io"
	default:
		return fmt.Sprintf("stop(%d)", uint8(r))
	}
}

type Status uint8

const (
	StatusComplete Status = iota + 1
	StatusPartial
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Report summarizes the problems found while reading a capture.
type Report struct {
	Dropped    [anomalies]int
	StopReason StopReason
	// StopError is the error that stopped streaming, if any.
	StopError error

	Frames int64
	Bytes  int64
}

// Count returns the number of records dropped for the reason.
func (r *Report) Count(a Anomaly) int {
	if a >= anomalies {
		return 0
	}
	return r.Dropped[a]
}

// Total returns the number of dropped records.
func (r *Report) Total() int {
	var n int
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Clean reports whether the capture was read to the end without anomalies.
func (r *Report) Clean() bool {
	return r.Total() == 0 && r.StopReason == StopNone
}

func (r *Report) String() string {
	if r.Clean() {
		return "no anomalies"
	}
	parts := make([]string, 0, anomalies+1)
	for a, c := range r.Dropped {
		if c > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", Anomaly(a), c))
		}
	}
	sort.Strings(parts)
	if r.StopReason != StopNone {
		parts = append(parts, "stopped="+r.StopReason.String())
	}
	return strings.Join(parts, " ")
}
