package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
	"github.com/grafana/timeline-capture/pkg/capture/frame"
	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/strtab"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

var (
	// ErrCancelled is returned by the writer if the context is done.
	// The output must be discarded.
	ErrCancelled        = errors.New("capture write cancelled")
	ErrUndeclaredThread = errors.New("timer thread is not declared in capture info")
)

// Writer writes a capture stream: the header, the capture info, and then
// timers, each preceded by the declaration of its name if the name is used
// for the first time. A Writer owns its sink until Finish is called and is
// not safe for concurrent use.
type Writer struct {
	logger  log.Logger
	metrics *metrics

	sink    *bufio.Writer
	frames  *frame.Writer
	strings *strtab.Interner
	threads map[uint32]struct{}

	buf      []byte
	err      error
	finished bool
	timers   int
}

// Begin writes the header and the capture info to w.
func Begin(ctx context.Context, w io.Writer, info schema.CaptureInfo, cfg WriterConfig) (*Writer, error) {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultWriteBufferSize
	}
	sink := bufio.NewWriterSize(w, size)
	cw := &Writer{
		logger:  capturecontext.Logger(ctx),
		metrics: newMetrics(capturecontext.Registry(ctx)),
		sink:    sink,
		frames:  frame.NewWriter(sink),
		strings: strtab.NewInterner(),
		threads: make(map[uint32]struct{}, len(info.Threads)),
	}
	for _, t := range info.Threads {
		cw.threads[t.ID] = struct{}{}
	}

	var err error
	if cw.buf, err = schema.AppendHeader(cw.buf[:0], schema.Header{Version: schema.CurrentVersion}); err != nil {
		return nil, fmt.Errorf("encoding header: %w", err)
	}
	if err = cw.writeFrame(ctx, cw.buf); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if cw.buf, err = schema.AppendCaptureInfo(cw.buf[:0], info, schema.CurrentRules); err != nil {
		return nil, fmt.Errorf("encoding capture info: %w", err)
	}
	if err = cw.writeFrame(ctx, cw.buf); err != nil {
		return nil, fmt.Errorf("writing capture info: %w", err)
	}
	return cw, nil
}

// WriteTimer appends the timer to the stream. Timers that can not be
// decoded back (negative duration or depth, undeclared thread) are
// rejected without writing anything. Any write error is permanent.
func (w *Writer) WriteTimer(ctx context.Context, t timeline.Timer) error {
	if w.finished {
		panic("capture: WriteTimer called after Finish")
	}
	if w.err != nil {
		return w.err
	}
	rec := t.Record()
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, ok := w.threads[t.ThreadID]; !ok {
		return fmt.Errorf("%w: %d", ErrUndeclaredThread, t.ThreadID)
	}
	key, added := w.strings.Intern(t.Name)
	if added {
		w.buf = schema.AppendStringDecl(w.buf[:0], schema.StringDecl{Key: key, Value: t.Name})
		if err := w.writeFrame(ctx, w.buf); err != nil {
			return err
		}
	}
	rec.NameKey = key
	w.buf = schema.AppendTimer(w.buf[:0], rec, schema.CurrentRules)
	if err := w.writeFrame(ctx, w.buf); err != nil {
		return err
	}
	w.timers++
	return nil
}

// Finish flushes the sink. The writer can not be used afterwards.
func (w *Writer) Finish(ctx context.Context) error {
	if w.finished {
		panic("capture: Finish called twice")
	}
	w.finished = true
	if w.err != nil {
		return w.err
	}
	if err := ctx.Err(); err != nil {
		w.err = fmt.Errorf("%w: %w", ErrCancelled, err)
		return w.err
	}
	if err := w.sink.Flush(); err != nil {
		w.err = fmt.Errorf("flushing capture: %w", err)
		return w.err
	}
	w.metrics.framesWritten.Add(float64(w.frames.Frames()))
	w.metrics.bytesWritten.Add(float64(w.frames.Size()))
	level.Debug(w.logger).Log(
		"msg", "capture written",
		"timers", w.timers,
		"strings", w.strings.Len(),
		"frames", w.frames.Frames(),
		"bytes", w.frames.Size(),
	)
	return nil
}

func (w *Writer) writeFrame(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		w.err = fmt.Errorf("%w: %w", ErrCancelled, err)
		return w.err
	}
	if err := w.frames.WriteFrame(payload); err != nil {
		w.err = fmt.Errorf("writing frame: %w", err)
		return w.err
	}
	return nil
}

// Save writes the complete capture to w.
func Save(ctx context.Context, w io.Writer, info schema.CaptureInfo, timers []timeline.Timer, cfg WriterConfig) (err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "capture.Save")
	defer func() {
		if err != nil {
			span.LogKV("error", err)
		}
		span.Finish()
	}()
	span.SetTag("timers", len(timers))

	cw, err := Begin(ctx, w, info, cfg)
	if err != nil {
		return err
	}
	for i := range timers {
		if err = cw.WriteTimer(ctx, timers[i]); err != nil {
			return fmt.Errorf("timer %d: %w", i, err)
		}
	}
	return cw.Finish(ctx)
}
