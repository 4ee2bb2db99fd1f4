// Package loader runs capture loads off the caller's goroutine.
//
// Each load runs on a single pool worker from start to end; the model is
// handed over to the caller only once it is frozen.
package loader

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/grafana/timeline-capture/pkg/capture"
	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

var ErrPoolShutdown = errors.New("loader pool is shut down")

type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	Reader capture.ReaderConfig `yaml:",inline"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.Workers, "loader.workers", 1, "Number of captures loaded concurrently.")
	f.IntVar(&cfg.QueueSize, "loader.queue-size", 16, "Number of pending loads accepted before Submit blocks.")
	cfg.Reader.RegisterFlagsWithPrefix("loader.", f)
}

func (cfg *Config) Validate() error {
	if cfg.Workers < 1 {
		return fmt.Errorf("at least one worker is required")
	}
	if cfg.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative")
	}
	return cfg.Reader.Validate()
}

// Source opens the capture stream to load.
type Source func(ctx context.Context) (io.ReadCloser, error)

// Result is the outcome of a load, see capture.Load.
type Result struct {
	Model *timeline.Model
	Err   error
}

type Future struct {
	done   chan struct{}
	result Result
}

// Wait blocks until the load finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (*timeline.Model, error) {
	select {
	case <-f.done:
		return f.result.Model, f.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

type job struct {
	ctx    context.Context
	name   string
	source Source
	future *Future
}

// Pool is a fixed set of workers loading captures. The host must call
// ShutdownAndWait once the pool is no longer needed.
type Pool struct {
	cfg    Config
	logger log.Logger

	jobs     chan job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	shutdown atomic.Bool
	pending  atomic.Int64
}

func NewPool(cfg Config, logger log.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan job, cfg.QueueSize),
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the load of the named capture. The load observes
// cancellation of ctx at every frame boundary.
func (p *Pool) Submit(ctx context.Context, name string, source Source) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown.Load() {
		return nil, ErrPoolShutdown
	}
	f := &Future{done: make(chan struct{})}
	p.pending.Inc()
	select {
	case p.jobs <- job{ctx: ctx, name: name, source: source, future: f}:
		return f, nil
	case <-ctx.Done():
		p.pending.Dec()
		return nil, ctx.Err()
	}
}

// Pending returns the number of submitted loads that have not finished.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// ShutdownAndWait stops accepting loads and waits for the submitted ones
// to finish.
func (p *Pool) ShutdownAndWait() {
	p.mu.Lock()
	if !p.shutdown.Swap(true) {
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.future.result = p.run(j)
		p.pending.Dec()
		close(j.future.done)
	}
}

func (p *Pool) run(j job) Result {
	ctx := capturecontext.WrapCapture(capturecontext.WithLogger(j.ctx, p.logger), j.name)
	logger := capturecontext.Logger(ctx)
	rc, err := j.source(ctx)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open capture", "err", err)
		return Result{Err: fmt.Errorf("opening capture %s: %w", j.name, err)}
	}
	defer func() {
		if err := rc.Close(); err != nil {
			level.Warn(logger).Log("msg", "failed to close capture", "err", err)
		}
	}()
	m, err := capture.Load(ctx, rc, p.cfg.Reader)
	if m == nil {
		level.Error(logger).Log("msg", "failed to load capture", "err", err)
	}
	return Result{Model: m, Err: err}
}
