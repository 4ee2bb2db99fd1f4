package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
)

func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	ctx := withOutput(context.Background(), &out)
	ctx = capturecontext.WithLogger(ctx, log.NewNopLogger())
	ctx = capturecontext.WithBucket(ctx, objstore.NewInMemBucket())
	return ctx, &out
}

func testConfig(t *testing.T) *config {
	t.Helper()
	conf, err := loadConfig("")
	require.NoError(t, err)
	conf.Synth.Threads = 2
	conf.Synth.TimersPerThread = 50
	return conf
}

func Test_LoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loader:
  workers: 4
store:
  compression: none
synth:
  seed: 42
`), 0o644))
	conf, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, conf.Loader.Workers)
	assert.Equal(t, 16, conf.Loader.QueueSize)
	assert.Equal(t, "none", conf.Store.Compression)
	assert.Equal(t, int64(42), conf.Synth.Seed)
	assert.Equal(t, uint64(64<<20), conf.Reader.MaxFrameSize)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = loadConfig(empty)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("unknown: 1\n"), 0o644))
	_, err = loadConfig(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("loader:\n  workers: 0\nstore:\n  compression: lz4\n"), 0o644))
	_, err = loadConfig(path)
	require.ErrorContains(t, err, "invalid loader config")
	require.ErrorContains(t, err, "invalid store config")
}

func Test_SynthInspectExport(t *testing.T) {
	ctx, out := testContext(t)
	conf := testConfig(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.capture")

	require.NoError(t, synthesize(ctx, conf, &synthParams{output: path}))

	require.NoError(t, inspect(ctx, conf, &inspectParams{files: []string{path}, tracks: true}))
	assert.Contains(t, out.String(), "Version: 1.52")
	assert.Contains(t, out.String(), "Timers: 100")
	assert.Contains(t, out.String(), "Status: complete")
	assert.Contains(t, out.String(), "main")
	assert.NotContains(t, out.String(), "Anomalies")

	pprofPath := filepath.Join(dir, "a.pprof")
	require.NoError(t, exportPprof(ctx, conf, &exportPprofParams{input: path, output: pprofPath}))
	fi, err := os.Stat(pprofPath)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}

func Test_InspectTruncated(t *testing.T) {
	ctx, out := testContext(t)
	conf := testConfig(t)
	path := filepath.Join(t.TempDir(), "a.capture")
	require.NoError(t, synthesize(ctx, conf, &synthParams{output: path}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b[:len(b)-3], 0o644))
	missing := filepath.Join(t.TempDir(), "missing.capture")

	err = inspect(ctx, conf, &inspectParams{files: []string{path, missing}})
	require.ErrorContains(t, err, "missing.capture")
	assert.Contains(t, out.String(), "Status: partial")
	assert.Contains(t, out.String(), "stopped=truncated")
}

func Test_Store(t *testing.T) {
	ctx, out := testContext(t)
	conf := testConfig(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.capture")
	require.NoError(t, synthesize(ctx, conf, &synthParams{output: path}))

	require.NoError(t, storePut(ctx, conf, []string{path}))
	s, err := newStore(ctx, conf)
	require.NoError(t, err)
	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Compressed)

	require.NoError(t, storeList(ctx, conf))
	assert.Contains(t, out.String(), entries[0].Name)

	downloaded := filepath.Join(dir, "b.capture")
	require.NoError(t, storeGet(ctx, conf, &storeGetParams{name: entries[0].Name, output: downloaded}))
	want, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := os.ReadFile(downloaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	out.Reset()
	require.NoError(t, inspect(ctx, conf, &inspectParams{files: []string{entries[0].Name}, fromStore: true}))
	assert.Contains(t, out.String(), "Status: complete")
}
