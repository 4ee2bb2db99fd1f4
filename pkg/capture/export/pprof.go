// Package export converts timelines to other profile formats.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/pprof/profile"

	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

// Options controls the pprof conversion.
type Options struct {
	// ThreadLabels attaches the thread name and id to every sample.
	ThreadLabels bool
}

type frame struct {
	timer *timeline.Timer
	self  int64
	stack []uint64 // Location ids, leaf first.
}

type builder struct {
	p         *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
	samples   map[string]*profile.Sample
}

// ToPprof builds a profile where each sample is a reconstructed call
// stack: timers nested by depth and time on the same thread. The values
// are the number of calls and the self time of the leaf, in nanoseconds.
func ToPprof(m *timeline.Model, opts Options) *profile.Profile {
	info := m.CaptureInfo()
	b := builder{
		p: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "calls", Unit: "count"},
				{Type: "self", Unit: "nanoseconds"},
			},
			DefaultSampleType: "self",
			PeriodType:        &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
			Period:            1,
			TimeNanos:         info.StartTimestampNs,
			Comments:          []string{fmt.Sprintf("process %s (%d)", info.ProcessName, info.ProcessID)},
		},
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
		samples:   make(map[string]*profile.Sample),
	}
	if start, end, ok := m.TimeRange(); ok {
		b.p.DurationNanos = int64(end - start)
	}
	for _, track := range m.Tracks() {
		b.addTrack(track, opts)
	}
	return b.p
}

// WritePprof writes the gzipped pprof encoding of the model.
func WritePprof(w io.Writer, m *timeline.Model, opts Options) error {
	return ToPprof(m, opts).Write(w)
}

func (b *builder) addTrack(track timeline.Track, opts Options) {
	timers := make([]*timeline.Timer, len(track.Timers))
	for i := range track.Timers {
		timers[i] = &track.Timers[i]
	}
	sort.SliceStable(timers, func(i, j int) bool {
		if timers[i].StartNs != timers[j].StartNs {
			return timers[i].StartNs < timers[j].StartNs
		}
		return timers[i].Depth < timers[j].Depth
	})

	var open []*frame
	for _, t := range timers {
		// Close the frames that can not enclose the timer.
		for len(open) > 0 {
			top := open[len(open)-1]
			if top.timer.EndNs > t.StartNs && top.timer.Depth < t.Depth && top.timer.EndNs >= t.EndNs {
				break
			}
			b.emit(top, track, opts)
			open = open[:len(open)-1]
		}
		f := &frame{timer: t, self: int64(t.EndNs - t.StartNs)}
		loc := b.location(t.Name)
		if len(open) > 0 {
			parent := open[len(open)-1]
			parent.self -= f.self
			f.stack = append([]uint64{loc.ID}, parent.stack...)
		} else {
			f.stack = []uint64{loc.ID}
		}
		open = append(open, f)
	}
	for i := len(open) - 1; i >= 0; i-- {
		b.emit(open[i], track, opts)
	}
}

func (b *builder) emit(f *frame, track timeline.Track, opts Options) {
	key := fmt.Sprint(f.stack)
	if opts.ThreadLabels {
		key = fmt.Sprintf("%d:%s", track.Thread.ID, key)
	}
	s, ok := b.samples[key]
	if !ok {
		s = &profile.Sample{Value: make([]int64, 2)}
		for _, id := range f.stack {
			s.Location = append(s.Location, b.p.Location[id-1])
		}
		if opts.ThreadLabels {
			s.Label = map[string][]string{"thread_name": {track.Thread.Name}}
			s.NumLabel = map[string][]int64{"thread_id": {int64(track.Thread.ID)}}
		}
		b.samples[key] = s
		b.p.Sample = append(b.p.Sample, s)
	}
	s.Value[0]++
	s.Value[1] += max(f.self, 0)
}

func (b *builder) location(name string) *profile.Location {
	if loc, ok := b.locations[name]; ok {
		return loc
	}
	fn, ok := b.functions[name]
	if !ok {
		fn = &profile.Function{ID: uint64(len(b.p.Function) + 1), Name: name, SystemName: name}
		b.functions[name] = fn
		b.p.Function = append(b.p.Function, fn)
	}
	loc := &profile.Location{
		ID:   uint64(len(b.p.Location) + 1),
		Line: []profile.Line{{Function: fn}},
	}
	b.locations[name] = loc
	b.p.Location = append(b.p.Location, loc)
	return loc
}
