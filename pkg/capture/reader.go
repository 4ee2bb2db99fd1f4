package capture

import (
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
	ErrMissingHeader      = errors.New("missing capture header")
	ErrMissingCaptureInfo = errors.New("missing capture info")
)

// PartialError is returned along with the model if the stream could not be
// read to its end. The model holds every record decoded before the stop.
type PartialError struct {
	Reason timeline.StopReason
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("capture is incomplete (%s): %v", e.Reason, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Load reads a capture stream and reconstructs its timeline.
//
// If the header or the capture info can not be read, Load returns no model
// and an error wrapping ErrMissingHeader or ErrMissingCaptureInfo. Records
// that follow are decoded one by one: a record that can not be decoded is
// dropped and counted in the model report. If the stream ends abruptly, is
// corrupted at the frame level, fails or ctx is cancelled, Load returns the
// partial model along with a *PartialError. Otherwise the model is complete
// and the error is nil.
func Load(ctx context.Context, r io.Reader, cfg ReaderConfig) (m *timeline.Model, err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "capture.Load")
	defer func() {
		if m != nil {
			span.SetTag("timers", m.Len())
			span.SetTag("status", m.Status().String())
		}
		if err != nil {
			span.LogKV("error", err)
		}
		span.Finish()
	}()

	l := loader{
		logger:  capturecontext.Logger(ctx),
		frames:  frame.NewReader(r, cfg.MaxFrameSize),
		strings: strtab.NewTable(),
	}
	m, err = l.load(ctx)
	newMetrics(capturecontext.Registry(ctx)).observeLoad(m, err)
	return m, err
}

type loader struct {
	logger  log.Logger
	frames  *frame.Reader
	strings *strtab.Table
	rules   schema.Rules
	builder *timeline.Builder
}

func (l *loader) load(ctx context.Context) (*timeline.Model, error) {
	header, err := l.readHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingHeader, err)
	}
	info, err := l.readCaptureInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingCaptureInfo, err)
	}
	l.builder = timeline.NewBuilder(header, info, l.strings)
	l.logger = log.With(l.logger, "version", header.Version)
	reason, err := l.stream(ctx)

	report := l.builder.Report()
	report.Frames = l.frames.Frames()
	report.Bytes = l.frames.Offset()
	report.StopReason = reason
	report.StopError = err
	status := timeline.StatusComplete
	if reason != timeline.StopNone {
		status = timeline.StatusPartial
	}
	m := l.builder.Freeze(status)
	r := m.Report()
	if !r.Clean() {
		level.Warn(l.logger).Log("msg", "capture loaded with anomalies", "status", status, "timers", m.Len(), "report", r.String())
	} else {
		level.Debug(l.logger).Log("msg", "capture loaded", "timers", m.Len(), "frames", r.Frames, "bytes", r.Bytes)
	}
	if err != nil {
		return m, &PartialError{Reason: reason, Err: err}
	}
	return m, nil
}

func (l *loader) readHeader() (h schema.Header, err error) {
	payload, err := l.frames.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return h, fmt.Errorf("empty stream")
		}
		return h, err
	}
	if h, err = schema.DecodeHeader(payload); err != nil {
		return h, err
	}
	if l.rules, err = schema.LookupVersion(h.Version); err != nil {
		return h, err
	}
	return h, nil
}

func (l *loader) readCaptureInfo() (info schema.CaptureInfo, err error) {
	payload, err := l.frames.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return info, fmt.Errorf("stream ends after header")
		}
		return info, err
	}
	return schema.DecodeCaptureInfo(payload, l.rules)
}

// stream reads records until the end of the stream. It returns the reason
// streaming stopped early, and the cause.
func (l *loader) stream(ctx context.Context) (timeline.StopReason, error) {
	for {
		if err := ctx.Err(); err != nil {
			return timeline.StopCancelled, err
		}
		payload, err := l.frames.ReadFrame()
		switch {
		case err == nil:
			l.decodeRecord(payload)
		case errors.Is(err, io.EOF):
			return timeline.StopNone, nil
		case errors.Is(err, frame.ErrTruncated), errors.Is(err, frame.ErrMalformedLength):
			return timeline.StopTruncated, err
		case errors.Is(err, frame.ErrFrameTooLarge):
			return timeline.StopFrameTooLarge, err
		default:
			return timeline.StopIO, err
		}
	}
}

func (l *loader) decodeRecord(payload []byte) {
	kind, err := schema.DecodeRecordKind(payload)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownKind) {
			l.drop(timeline.AnomalyUnknownKind, err)
		} else {
			l.drop(timeline.AnomalyMalformed, err)
		}
		return
	}

	switch kind {
	case schema.KindStringDecl:
		decl, err := schema.DecodeStringDecl(payload)
		if err != nil {
			l.drop(timeline.AnomalyMalformed, err)
			return
		}
		if err = l.strings.Define(decl.Key, decl.Value); err != nil {
			l.drop(timeline.AnomalyDuplicateKey, err)
		}

	case schema.KindTimer:
		rec, err := schema.DecodeTimer(payload, l.rules)
		if err != nil {
			l.drop(timeline.AnomalyMalformed, err)
			return
		}
		if !l.builder.HasThread(rec.ThreadID) {
			l.drop(timeline.AnomalyUnknownThread, fmt.Errorf("thread %d is not declared", rec.ThreadID))
			return
		}
		name, err := l.strings.Resolve(rec.NameKey)
		if err != nil {
			l.drop(timeline.AnomalyUnknownKey, err)
			return
		}
		l.builder.Append(timeline.Timer{
			ThreadID: rec.ThreadID,
			StartNs:  rec.StartNs,
			EndNs:    rec.EndNs,
			Depth:    rec.Depth,
			Type:     rec.Type,
			Name:     name,
			NameKey:  rec.NameKey,
		})

	default:
		// Header and capture info may only appear once, at the beginning.
		l.drop(timeline.AnomalyMalformed, fmt.Errorf("unexpected %s record", kind))
	}
}

func (l *loader) drop(a timeline.Anomaly, err error) {
	l.builder.Drop(a)
	level.Debug(l.logger).Log("msg", "dropping record", "frame", l.frames.Frames()-1, "reason", a, "err", err)
}
