package main

import (
	"context"
	"os"

	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/timeline-capture/pkg/capture"
	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
	"github.com/grafana/timeline-capture/pkg/capture/export"
)

type exportPprofParams struct {
	input        string
	output       string
	threadLabels bool
}

func addExportPprofParams(cmd *kingpin.CmdClause) *exportPprofParams {
	params := &exportPprofParams{}
	cmd.Arg("capture", "Capture file path.").Required().ExistingFileVar(&params.input)
	cmd.Flag("output", "Path of the pprof file to write.").Default("./capture.pprof").StringVar(&params.output)
	cmd.Flag("thread-labels", "Label samples with their thread.").Default("true").BoolVar(&params.threadLabels)
	return params
}

func exportPprof(ctx context.Context, conf *config, params *exportPprofParams) (err error) {
	in, err := os.Open(params.input)
	if err != nil {
		return err
	}
	defer in.Close()

	m, err := capture.Load(ctx, in, conf.Reader)
	if m == nil {
		return err
	}
	if err != nil {
		level.Warn(capturecontext.Logger(ctx)).Log("msg", "exporting incomplete capture", "err", err)
	}

	out, err := os.Create(params.output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	if err = export.WritePprof(out, m, export.Options{ThreadLabels: params.threadLabels}); err != nil {
		return err
	}
	level.Info(capturecontext.Logger(ctx)).Log("msg", "profile written", "path", params.output, "timers", m.Len())
	return nil
}
