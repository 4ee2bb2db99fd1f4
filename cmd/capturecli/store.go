package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"
	"github.com/oklog/ulid/v2"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/timeline-capture/pkg/capture"
	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
	"github.com/grafana/timeline-capture/pkg/capture/store"
)

// newStore opens the store of the bucket in ctx, or of the configured
// directory.
func newStore(ctx context.Context, conf *config) (*store.Store, error) {
	logger := capturecontext.Logger(ctx)
	if bucket := capturecontext.Bucket(ctx); bucket != nil {
		return store.New(bucket, conf.Store, logger)
	}
	return store.NewFilesystem(conf.Store, logger)
}

// storePut uploads the files as they are, after checking that they load.
// Captures written by an older format keep their stream but get a new id.
func storePut(ctx context.Context, conf *config, files []string) error {
	s, err := newStore(ctx, conf)
	if err != nil {
		return err
	}
	logger := capturecontext.Logger(ctx)
	for _, path := range files {
		id, err := captureID(ctx, conf, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		name, err := s.Upload(ctx, id, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		level.Info(logger).Log("msg", "capture uploaded", "path", path, "name", name)
	}
	return nil
}

func captureID(ctx context.Context, conf *config, path string) (ulid.ULID, error) {
	f, err := os.Open(path)
	if err != nil {
		return ulid.ULID{}, err
	}
	defer f.Close()
	m, err := capture.Load(ctx, f, conf.Reader)
	if m == nil {
		return ulid.ULID{}, err
	}
	if id := m.CaptureInfo().ID; id != (ulid.ULID{}) {
		return id, nil
	}
	return ulid.Make(), nil
}

type storeGetParams struct {
	name   string
	output string
}

func addStoreGetParams(cmd *kingpin.CmdClause) *storeGetParams {
	params := &storeGetParams{}
	cmd.Arg("name", "Object name of the capture, as printed by list.").Required().StringVar(&params.name)
	cmd.Flag("output", "Path of the capture file to write, defaults to the capture id in the current directory.").StringVar(&params.output)
	return params
}

func storeGet(ctx context.Context, conf *config, params *storeGetParams) (err error) {
	s, err := newStore(ctx, conf)
	if err != nil {
		return err
	}
	rc, err := s.Open(ctx, params.name)
	if err != nil {
		return err
	}
	defer rc.Close()

	path := params.output
	if path == "" {
		path = filepath.Base(params.name)
		if ext := filepath.Ext(path); ext == ".zst" {
			path = path[:len(path)-len(ext)]
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	n, err := io.Copy(f, rc)
	if err != nil {
		return err
	}
	level.Info(capturecontext.Logger(ctx)).Log("msg", "capture downloaded", "path", path, "size", humanize.Bytes(uint64(n)))
	return nil
}

func storeList(ctx context.Context, conf *config) error {
	s, err := newStore(ctx, conf)
	if err != nil {
		return err
	}
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(output(ctx))
	table.SetHeader([]string{"Name", "Created", "Size", "Compressed"})
	for _, e := range entries {
		table.Append([]string{
			e.Name,
			ulid.Time(e.ID.Time()).UTC().Format("2006-01-02T15:04:05Z"),
			humanize.Bytes(uint64(e.Size)),
			strconv.FormatBool(e.Compressed),
		})
	}
	table.Render()
	return nil
}
