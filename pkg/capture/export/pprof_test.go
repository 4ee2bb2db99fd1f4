package export

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/timeline-capture/pkg/capture"
	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

func testModel(t *testing.T) *timeline.Model {
	info := schema.CaptureInfo{
		ProcessName: "app",
		ProcessID:   7,
		Threads:     []schema.Thread{{ID: 2, Name: "worker"}, {ID: 1, Name: "main"}},
	}
	timers := []timeline.Timer{
		{ThreadID: 1, StartNs: 0, EndNs: 100, Depth: 0, Name: "A"},
		{ThreadID: 1, StartNs: 10, EndNs: 40, Depth: 1, Name: "B"},
		{ThreadID: 1, StartNs: 20, EndNs: 30, Depth: 2, Name: "C"},
		{ThreadID: 1, StartNs: 50, EndNs: 60, Depth: 1, Name: "B"},
		{ThreadID: 2, StartNs: 5, EndNs: 25, Depth: 0, Name: "B"},
	}
	var buf bytes.Buffer
	require.NoError(t, capture.Save(context.Background(), &buf, info, timers, capture.WriterConfig{}))
	m, err := capture.Load(context.Background(), &buf, capture.ReaderConfig{})
	require.NoError(t, err)
	return m
}

func stacks(p *profile.Profile) map[string][]int64 {
	r := make(map[string][]int64)
	for _, s := range p.Sample {
		names := make([]string, len(s.Location))
		for i, loc := range s.Location {
			names[i] = loc.Line[0].Function.Name
		}
		key := strings.Join(names, ";")
		if v, ok := r[key]; ok {
			r[key] = []int64{v[0] + s.Value[0], v[1] + s.Value[1]}
			continue
		}
		r[key] = s.Value
	}
	return r
}

func Test_ToPprof(t *testing.T) {
	p := ToPprof(testModel(t), Options{})
	require.NoError(t, p.CheckValid())
	assert.Equal(t, int64(100), p.DurationNanos)
	assert.Len(t, p.Function, 3)
	assert.Equal(t, map[string][]int64{
		"A":     {1, 60},
		"B;A":   {2, 30},
		"C;B;A": {1, 10},
		"B":     {1, 20},
	}, stacks(p))
}

func Test_ToPprof_ThreadLabels(t *testing.T) {
	p := ToPprof(testModel(t), Options{ThreadLabels: true})
	require.NoError(t, p.CheckValid())
	threads := make(map[string]bool)
	for _, s := range p.Sample {
		require.Len(t, s.Label["thread_name"], 1)
		threads[s.Label["thread_name"][0]] = true
	}
	assert.Equal(t, map[string]bool{"main": true, "worker": true}, threads)
}

func Test_WritePprof(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePprof(&buf, testModel(t), Options{}))
	p, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, "self", p.DefaultSampleType)
	assert.Equal(t, stacks(ToPprof(testModel(t), Options{})), stacks(p))
}
