package main

import (
	"context"
	"os"

	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/timeline-capture/pkg/capture"
	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
	"github.com/grafana/timeline-capture/pkg/capture/synth"
)

type synthParams struct {
	output          string
	threads         int
	timersPerThread int
	seed            int64
}

func addSynthParams(cmd *kingpin.CmdClause) *synthParams {
	params := &synthParams{}
	cmd.Arg("output", "Path of the capture file to write.").Required().StringVar(&params.output)
	cmd.Flag("threads", "Number of threads, overrides the config file.").IntVar(&params.threads)
	cmd.Flag("timers-per-thread", "Number of timers per thread, overrides the config file.").IntVar(&params.timersPerThread)
	cmd.Flag("seed", "Random seed, overrides the config file.").Int64Var(&params.seed)
	return params
}

func synthesize(ctx context.Context, conf *config, params *synthParams) (err error) {
	cfg := conf.Synth
	if params.threads > 0 {
		cfg.Threads = params.threads
	}
	if params.timersPerThread > 0 {
		cfg.TimersPerThread = params.timersPerThread
	}
	if params.seed != 0 {
		cfg.Seed = params.seed
	}
	info, timers, err := synth.Generate(cfg)
	if err != nil {
		return err
	}

	f, err := os.Create(params.output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err = capture.Save(ctx, f, info, timers, conf.Writer); err != nil {
		return err
	}
	level.Info(capturecontext.Logger(ctx)).Log("msg", "capture written", "path", params.output, "id", info.ID, "timers", len(timers))
	return nil
}
