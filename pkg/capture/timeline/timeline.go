// Package timeline holds the in-memory model reconstructed from a capture.
//
// A Model is built by a single reader through a Builder and is read-only
// once the builder is frozen: it can be handed over to other goroutines
// (renderers, exporters) without synchronization.
package timeline

import (
	"iter"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/strtab"
)

// Timer is a profiling event with its name resolved.
type Timer struct {
	ThreadID uint32
	StartNs  uint64
	EndNs    uint64
	Depth    int32
	Type     schema.TimerType
	Name     string
	// NameKey is the interned key the name was stored under. Keys are
	// specific to a capture stream.
	NameKey uint32
}

func (t *Timer) Duration() time.Duration {
	return time.Duration(t.EndNs - t.StartNs)
}

// Record returns the wire representation of the timer.
func (t *Timer) Record() schema.Timer {
	return schema.Timer{
		ThreadID: t.ThreadID,
		StartNs:  t.StartNs,
		EndNs:    t.EndNs,
		Depth:    t.Depth,
		NameKey:  t.NameKey,
		Type:     t.Type,
	}
}

type Model struct {
	header  schema.Header
	info    schema.CaptureInfo
	timers  []Timer
	strings map[uint32]string
	report  Report
	status  Status
}

func (m *Model) Header() schema.Header { return m.header }

func (m *Model) CaptureInfo() schema.CaptureInfo { return m.info }

// Timers returns the timers in emission order. The slice must not be
// modified.
func (m *Model) Timers() []Timer { return m.timers }

func (m *Model) Len() int { return len(m.timers) }

// All iterates over the timers in emission order.
func (m *Model) All() iter.Seq2[int, *Timer] {
	return func(yield func(int, *Timer) bool) {
		for i := range m.timers {
			if !yield(i, &m.timers[i]) {
				return
			}
		}
	}
}

// LookupString returns the interned string with the given key.
func (m *Model) LookupString(key uint32) (string, bool) {
	s, ok := m.strings[key]
	return s, ok
}

// StringTable returns a copy of the interned string table.
func (m *Model) StringTable() map[uint32]string {
	c := make(map[uint32]string, len(m.strings))
	for k, v := range m.strings {
		c[k] = v
	}
	return c
}

func (m *Model) Report() Report { return m.report }

func (m *Model) Status() Status { return m.status }

func (m *Model) Complete() bool { return m.status == StatusComplete }

// TimeRange returns the earliest start and the latest end of the timers.
func (m *Model) TimeRange() (start, end uint64, ok bool) {
	if len(m.timers) == 0 {
		return 0, 0, false
	}
	start, end = m.timers[0].StartNs, m.timers[0].EndNs
	for i := range m.timers[1:] {
		t := &m.timers[i+1]
		start = min(start, t.StartNs)
		end = max(end, t.EndNs)
	}
	return start, end, true
}

// Track is the view of a single thread.
type Track struct {
	Thread schema.Thread
	// Timers of the thread in emission order.
	Timers []Timer
}

// Tracks returns one track per declared thread, ordered by thread id.
func (m *Model) Tracks() []Track {
	byThread := lo.GroupBy(m.timers, func(t Timer) uint32 { return t.ThreadID })
	tracks := make([]Track, len(m.info.Threads))
	for i, thread := range m.info.Threads {
		tracks[i] = Track{Thread: thread, Timers: byThread[thread.ID]}
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].Thread.ID < tracks[j].Thread.ID
	})
	return tracks
}

// Builder accumulates a model while a capture is read.
// It is not safe for concurrent use.
type Builder struct {
	m       *Model
	threads map[uint32]struct{}
	strings *strtab.Table
}

func NewBuilder(header schema.Header, info schema.CaptureInfo, strings *strtab.Table) *Builder {
	threads := make(map[uint32]struct{}, len(info.Threads))
	for _, t := range info.Threads {
		threads[t.ID] = struct{}{}
	}
	return &Builder{
		m:       &Model{header: header, info: info},
		threads: threads,
		strings: strings,
	}
}

// HasThread reports whether the thread is declared in the capture info.
func (b *Builder) HasThread(id uint32) bool {
	_, ok := b.threads[id]
	return ok
}

func (b *Builder) Append(t Timer) { b.m.timers = append(b.m.timers, t) }

func (b *Builder) Drop(a Anomaly) { b.m.report.Dropped[a]++ }

// Len returns the number of timers accumulated so far.
func (b *Builder) Len() int { return len(b.m.timers) }

// Report gives access to the report being accumulated.
func (b *Builder) Report() *Report { return &b.m.report }

// Freeze finishes the model. The builder must not be used afterwards.
func (b *Builder) Freeze(status Status) *Model {
	m := b.m
	m.status = status
	if m.timers == nil {
		m.timers = []Timer{}
	}
	if b.strings != nil {
		m.strings = b.strings.Map()
	}
	b.m = nil
	return m
}
