package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/timeline-capture/pkg/capture"
	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
	"github.com/grafana/timeline-capture/pkg/capture/loader"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

type inspectParams struct {
	files     []string
	fromStore bool
	tracks    bool
}

func addInspectParams(cmd *kingpin.CmdClause) *inspectParams {
	params := &inspectParams{}
	cmd.Arg("capture", "Capture file paths, or object names with --from-store.").Required().StringsVar(&params.files)
	cmd.Flag("from-store", "Read the captures from the capture store.").Default("false").BoolVar(&params.fromStore)
	cmd.Flag("tracks", "Print a summary of every thread.").Default("false").BoolVar(&params.tracks)
	return params
}

func inspect(ctx context.Context, conf *config, params *inspectParams) error {
	open := func(name string) loader.Source {
		return func(context.Context) (io.ReadCloser, error) { return os.Open(name) }
	}
	if params.fromStore {
		s, err := newStore(ctx, conf)
		if err != nil {
			return err
		}
		open = func(name string) loader.Source {
			return func(ctx context.Context) (io.ReadCloser, error) { return s.Open(ctx, name) }
		}
	}

	pool, err := loader.NewPool(conf.Loader, capturecontext.Logger(ctx))
	if err != nil {
		return err
	}
	defer pool.ShutdownAndWait()

	futures := make([]*loader.Future, len(params.files))
	for i, name := range params.files {
		if futures[i], err = pool.Submit(ctx, name, open(name)); err != nil {
			return err
		}
	}

	var errs error
	for i, f := range futures {
		name := params.files[i]
		m, err := f.Wait(ctx)
		var partial *capture.PartialError
		switch {
		case m == nil:
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		case errors.As(err, &partial):
			level.Warn(capturecontext.Logger(ctx)).Log("msg", "capture is incomplete", "capture", name, "err", err)
		}
		printSummary(output(ctx), name, m, params.tracks)
	}
	return errs
}

func printSummary(out io.Writer, name string, m *timeline.Model, tracks bool) {
	info := m.CaptureInfo()
	report := m.Report()

	fmt.Fprintln(out, name)
	fmt.Fprintln(out, "\t Version:", m.Header().Version)
	fmt.Fprintln(out, "\t ID:", info.ID)
	fmt.Fprintf(out, "\t Process: %s (pid %d)\n", info.ProcessName, info.ProcessID)
	fmt.Fprintln(out, "\t Executable:", info.ExecutablePath)
	fmt.Fprintf(out, "\t Sampling: %d Hz, frame pointers: %t\n", info.SamplingRateHz, info.FramePointerUnwinding)
	if info.StartTimestampNs > 0 {
		start := time.Unix(0, info.StartTimestampNs)
		fmt.Fprintf(out, "\t Started: %s (%s)\n", start.UTC().Format(time.RFC3339), humanize.Time(start))
	}
	fmt.Fprintf(out, "\t Size: %s in %d frames\n", humanize.Bytes(uint64(report.Bytes)), report.Frames)
	fmt.Fprintln(out, "\t Timers:", humanize.Comma(int64(m.Len())))
	fmt.Fprintln(out, "\t Strings:", len(m.StringTable()))
	if start, end, ok := m.TimeRange(); ok {
		fmt.Fprintln(out, "\t Span:", time.Duration(end-start))
	}

	status := color.GreenString(m.Status().String())
	if !m.Complete() {
		status = color.RedString(m.Status().String())
	}
	fmt.Fprintln(out, "\t Status:", status)
	if !report.Clean() {
		fmt.Fprintln(out, "\t Anomalies:", color.YellowString(report.String()))
	}

	if !tracks {
		return
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Thread", "Name", "Timers", "Busy", "Max depth"})
	for _, track := range m.Tracks() {
		var busy time.Duration
		var depth int32
		for i := range track.Timers {
			t := &track.Timers[i]
			if t.Depth == 0 {
				busy += t.Duration()
			}
			depth = max(depth, t.Depth)
		}
		table.Append([]string{
			strconv.FormatUint(uint64(track.Thread.ID), 10),
			track.Thread.Name,
			humanize.Comma(int64(len(track.Timers))),
			busy.String(),
			strconv.Itoa(int(depth)),
		})
	}
	table.Render()
}
