package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/strtab"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	info := schema.CaptureInfo{
		ProcessName: "game",
		Threads: []schema.Thread{
			{ID: 7, Name: "render"},
			{ID: 1, Name: "main"},
			{ID: 3, Name: "idle"},
		},
	}
	strings := strtab.NewTable()
	require.NoError(t, strings.Define(0, "Update"))
	require.NoError(t, strings.Define(1, "Draw"))

	b := NewBuilder(schema.Header{Version: schema.CurrentVersion}, info, strings)
	assert.True(t, b.HasThread(7))
	assert.False(t, b.HasThread(2))

	b.Append(Timer{ThreadID: 1, StartNs: 100, EndNs: 200, Name: "Update", NameKey: 0})
	b.Append(Timer{ThreadID: 7, StartNs: 50, EndNs: 120, Name: "Draw", NameKey: 1})
	b.Append(Timer{ThreadID: 1, StartNs: 210, EndNs: 400, Name: "Update", NameKey: 0})
	b.Drop(AnomalyUnknownThread)
	b.Report().Frames = 6
	assert.Equal(t, 3, b.Len())
	return b.Freeze(StatusComplete)
}

func Test_Model(t *testing.T) {
	m := testModel(t)
	assert.Equal(t, 3, m.Len())
	assert.True(t, m.Complete())
	assert.Equal(t, StatusComplete, m.Status())
	assert.Equal(t, "game", m.CaptureInfo().ProcessName)
	assert.Equal(t, schema.CurrentVersion, m.Header().Version)

	s, ok := m.LookupString(1)
	assert.True(t, ok)
	assert.Equal(t, "Draw", s)
	_, ok = m.LookupString(5)
	assert.False(t, ok)

	table := m.StringTable()
	assert.Equal(t, map[uint32]string{0: "Update", 1: "Draw"}, table)
	table[0] = "changed"
	s, _ = m.LookupString(0)
	assert.Equal(t, "Update", s)

	r := m.Report()
	assert.Equal(t, 1, r.Count(AnomalyUnknownThread))
	assert.Equal(t, int64(6), r.Frames)
}

func Test_Model_All(t *testing.T) {
	m := testModel(t)
	var idx []int
	var names []string
	for i, tm := range m.All() {
		idx = append(idx, i)
		names = append(names, tm.Name)
	}
	assert.Equal(t, []int{0, 1, 2}, idx)
	assert.Equal(t, []string{"Update", "Draw", "Update"}, names)

	var n int
	for range m.All() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func Test_Model_TimeRange(t *testing.T) {
	m := testModel(t)
	start, end, ok := m.TimeRange()
	require.True(t, ok)
	assert.Equal(t, uint64(50), start)
	assert.Equal(t, uint64(400), end)

	empty := NewBuilder(schema.Header{}, schema.CaptureInfo{}, nil).Freeze(StatusPartial)
	_, _, ok = empty.TimeRange()
	assert.False(t, ok)
	assert.False(t, empty.Complete())
	assert.Empty(t, empty.StringTable())
	assert.NotNil(t, empty.Timers())
	assert.Equal(t, []Timer{}, empty.Timers())
}

func Test_Model_Tracks(t *testing.T) {
	tracks := testModel(t).Tracks()
	require.Len(t, tracks, 3)
	assert.Equal(t, uint32(1), tracks[0].Thread.ID)
	assert.Len(t, tracks[0].Timers, 2)
	assert.Equal(t, uint64(210), tracks[0].Timers[1].StartNs)
	assert.Equal(t, uint32(3), tracks[1].Thread.ID)
	assert.Empty(t, tracks[1].Timers)
	assert.Equal(t, "render", tracks[2].Thread.Name)
	assert.Len(t, tracks[2].Timers, 1)
}

func Test_Timer(t *testing.T) {
	tm := Timer{ThreadID: 2, StartNs: 1000, EndNs: 3500, Depth: 3, Type: schema.TimerTypeFrame, NameKey: 9, Name: "Frame"}
	assert.Equal(t, int64(2500), tm.Duration().Nanoseconds())
	assert.Equal(t, schema.Timer{
		ThreadID: 2, StartNs: 1000, EndNs: 3500, Depth: 3, NameKey: 9, Type: schema.TimerTypeFrame,
	}, tm.Record())
}

func Test_Report(t *testing.T) {
	var r Report
	assert.True(t, r.Clean())
	assert.Equal(t, "no anomalies", r.String())

	r.Dropped[AnomalyUnknownKey] = 2
	r.Dropped[AnomalyMalformed] = 1
	assert.Equal(t, 3, r.Total())
	assert.Equal(t, 0, r.Count(anomalies))
	assert.Equal(t, "malformed=1 unknown_key=2", r.String())

	r.StopReason = StopTruncated
	assert.False(t, r.Clean())
	assert.Equal(t, "malformed=1 unknown_key=2 stopped=truncated", r.String())

	assert.Len(t, Anomalies(), 5)
	assert.Equal(t, "duplicate_key", AnomalyDuplicateKey.String())
	assert.Equal(t, "partial", StatusPartial.String())
}
