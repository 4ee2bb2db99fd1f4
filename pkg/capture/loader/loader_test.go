package loader

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/flagext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/timeline-capture/pkg/capture"
	"github.com/grafana/timeline-capture/pkg/capture/frame"
	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testCapture(t *testing.T) []byte {
	var buf bytes.Buffer
	info := schema.CaptureInfo{ProcessName: "app", Threads: []schema.Thread{{ID: 1, Name: "main"}}}
	timers := []timeline.Timer{
		{ThreadID: 1, StartNs: 0, EndNs: 10, Name: "a"},
		{ThreadID: 1, StartNs: 1, EndNs: 5, Depth: 1, Name: "b"},
	}
	require.NoError(t, capture.Save(context.Background(), &buf, info, timers, capture.WriterConfig{}))
	return buf.Bytes()
}

func bytesSource(b []byte) Source {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

func testConfig(workers int) Config {
	var cfg Config
	flagext.DefaultValues(&cfg)
	cfg.Workers = workers
	return cfg
}

func Test_Pool(t *testing.T) {
	p, err := NewPool(testConfig(2), log.NewNopLogger())
	require.NoError(t, err)
	defer p.ShutdownAndWait()

	b := testCapture(t)
	ctx := context.Background()
	futures := make([]*Future, 8)
	for i := range futures {
		src := b
		if i%2 == 1 {
			src = b[:len(b)-1]
		}
		futures[i], err = p.Submit(ctx, "capture", bytesSource(src))
		require.NoError(t, err)
	}
	for i, f := range futures {
		m, err := f.Wait(ctx)
		require.NotNil(t, m)
		if i%2 == 1 {
			require.ErrorIs(t, err, frame.ErrTruncated)
			assert.Equal(t, 1, m.Len())
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, 2, m.Len())
	}
	assert.Zero(t, p.Pending())
}

func Test_Pool_SourceError(t *testing.T) {
	p, err := NewPool(testConfig(1), log.NewNopLogger())
	require.NoError(t, err)
	defer p.ShutdownAndWait()

	f, err := p.Submit(context.Background(), "missing", func(context.Context) (io.ReadCloser, error) {
		return nil, io.ErrUnexpectedEOF
	})
	require.NoError(t, err)
	m, err := f.Wait(context.Background())
	assert.Nil(t, m)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func Test_Pool_StructuralError(t *testing.T) {
	p, err := NewPool(testConfig(1), log.NewNopLogger())
	require.NoError(t, err)
	defer p.ShutdownAndWait()

	f, err := p.Submit(context.Background(), "empty", bytesSource(nil))
	require.NoError(t, err)
	<-f.Done()
	m, err := f.Wait(context.Background())
	assert.Nil(t, m)
	require.ErrorIs(t, err, capture.ErrMissingHeader)
}

func Test_Pool_Shutdown(t *testing.T) {
	p, err := NewPool(testConfig(1), log.NewNopLogger())
	require.NoError(t, err)

	f, err := p.Submit(context.Background(), "capture", bytesSource(testCapture(t)))
	require.NoError(t, err)
	p.ShutdownAndWait()
	// Loads submitted before the shutdown are completed.
	m, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Complete())

	_, err = p.Submit(context.Background(), "capture", bytesSource(nil))
	require.ErrorIs(t, err, ErrPoolShutdown)
	// Shutdown is idempotent.
	p.ShutdownAndWait()
}

func Test_Pool_CancelledLoad(t *testing.T) {
	p, err := NewPool(testConfig(1), log.NewNopLogger())
	require.NoError(t, err)
	defer p.ShutdownAndWait()

	b := testCapture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f, err := p.Submit(ctx, "capture", func(context.Context) (io.ReadCloser, error) {
		cancel()
		return io.NopCloser(bytes.NewReader(b)), nil
	})
	require.NoError(t, err)
	m, err := f.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, m)
	assert.Equal(t, timeline.StopCancelled, m.Report().StopReason)
}

func Test_Config_Validate(t *testing.T) {
	cfg := testConfig(1)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(frame.DefaultMaxFrameSize), cfg.Reader.MaxFrameSize)
	cfg.Workers = 0
	require.Error(t, cfg.Validate())
	_, err := NewPool(cfg, nil)
	require.Error(t, err)
}
