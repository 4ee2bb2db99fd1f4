// Package synth generates synthetic captures: nested call trees on a
// number of threads, with a bounded set of function names.
package synth

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/oklog/ulid/v2"

	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

type Config struct {
	Threads          int   `yaml:"threads"`
	TimersPerThread  int   `yaml:"timers_per_thread"`
	MaxDepth         int   `yaml:"max_depth"`
	Functions        int   `yaml:"functions"`
	Seed             int64 `yaml:"seed"`
	StartTimestampNs int64 `yaml:"start_timestamp_ns"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.Threads, "synth.threads", 4, "Number of threads.")
	f.IntVar(&cfg.TimersPerThread, "synth.timers-per-thread", 1000, "Number of timers generated on each thread.")
	f.IntVar(&cfg.MaxDepth, "synth.max-depth", 8, "Maximum call depth.")
	f.IntVar(&cfg.Functions, "synth.functions", 64, "Number of distinct function names.")
	f.Int64Var(&cfg.Seed, "synth.seed", 1, "Random seed.")
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.Threads < 1:
		return fmt.Errorf("at least one thread is required")
	case cfg.TimersPerThread < 0:
		return fmt.Errorf("timers per thread must not be negative")
	case cfg.MaxDepth < 1 || cfg.MaxDepth > schema.MaxDepth:
		return fmt.Errorf("max depth must be within [1, %d]", schema.MaxDepth)
	case cfg.Functions < 1:
		return fmt.Errorf("at least one function is required")
	}
	return nil
}

type functionNameGenerator struct {
	rnd   *rand.Rand
	names []string
}

var words = []string{
	"update", "render", "physics", "audio", "network", "decode", "encode",
	"parse", "flush", "compile", "draw", "submit", "wait", "alloc", "free",
}

func newFunctionNameGenerator(rnd *rand.Rand, n int) *functionNameGenerator {
	g := &functionNameGenerator{rnd: rnd, names: make([]string, n)}
	for i := range g.names {
		g.names[i] = fmt.Sprintf("fn_%d_%s", i, words[rnd.Intn(len(words))])
	}
	return g
}

func (g *functionNameGenerator) next() string { return g.names[g.rnd.Intn(len(g.names))] }

// Generate returns a capture whose timers are well-formed: on every thread
// children are enclosed by their parents and depths are consistent.
func Generate(cfg Config) (schema.CaptureInfo, []timeline.Timer, error) {
	if err := cfg.Validate(); err != nil {
		return schema.CaptureInfo{}, nil, err
	}
	rnd := rand.New(rand.NewSource(cfg.Seed))
	names := newFunctionNameGenerator(rnd, cfg.Functions)
	info := schema.CaptureInfo{
		ID:               ulid.MustNew(uint64(max(cfg.StartTimestampNs, 0)/1e6), rnd),
		ProcessID:        uint32(rnd.Int31()),
		ProcessName:      "synth",
		ExecutablePath:   "/usr/bin/synth",
		SamplingRateHz:   schema.DefaultSamplingRateHz,
		StartTimestampNs: cfg.StartTimestampNs,
		Threads:          make([]schema.Thread, cfg.Threads),
	}
	timers := make([]timeline.Timer, 0, cfg.Threads*cfg.TimersPerThread)
	for i := range info.Threads {
		thread := schema.Thread{ID: uint32(i + 1), Name: fmt.Sprintf("thread-%d", i+1)}
		if i == 0 {
			thread.Name = "main"
		}
		info.Threads[i] = thread
		g := threadGenerator{rnd: rnd, names: names, thread: thread.ID, maxDepth: cfg.MaxDepth}
		timers = g.generate(timers, cfg.TimersPerThread)
	}
	return info, timers, nil
}

type threadGenerator struct {
	rnd      *rand.Rand
	names    *functionNameGenerator
	thread   uint32
	maxDepth int
	now      uint64
}

func (g *threadGenerator) generate(dst []timeline.Timer, n int) []timeline.Timer {
	for n > 0 {
		var m int
		dst, m = g.call(dst, 0, n)
		n -= m
		g.now += uint64(g.rnd.Intn(1000))
	}
	return dst
}

// call emits a timer at the given depth and up to budget-1 nested timers.
// Timers are emitted when they end, as a profiler does.
func (g *threadGenerator) call(dst []timeline.Timer, depth, budget int) ([]timeline.Timer, int) {
	start := g.now
	name := g.names.next()
	used := 1
	g.now += uint64(1 + g.rnd.Intn(100))
	for depth+1 < g.maxDepth && used < budget && g.rnd.Intn(3) > 0 {
		var m int
		dst, m = g.call(dst, depth+1, budget-used)
		used += m
		g.now += uint64(g.rnd.Intn(100))
	}
	g.now += uint64(1 + g.rnd.Intn(100))
	return append(dst, timeline.Timer{
		ThreadID: g.thread,
		StartNs:  start,
		EndNs:    g.now,
		Depth:    int32(depth),
		Type:     schema.TimerTypeCoreActivity,
		Name:     name,
	}), used
}
