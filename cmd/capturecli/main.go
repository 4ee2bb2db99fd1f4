package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	capturecontext "github.com/grafana/timeline-capture/pkg/capture/context"
)

var cfg struct {
	verbose    bool
	configFile string
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	ctx := withOutput(context.Background(), os.Stdout)

	app := kingpin.New(filepath.Base(os.Args[0]), "Tooling for timeline captures.").UsageWriter(os.Stdout)
	app.Version(version.Print("capturecli"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("config.file", "Path to a YAML configuration file.").StringVar(&cfg.configFile)

	inspectCmd := app.Command("inspect", "Load captures and print a summary of each.")
	inspectParams := addInspectParams(inspectCmd)

	synthCmd := app.Command("synth", "Write a synthetic capture.")
	synthParams := addSynthParams(synthCmd)

	exportCmd := app.Command("export", "Convert a capture to another format.")
	exportPprofCmd := exportCmd.Command("pprof", "Convert a capture to a pprof profile.")
	exportPprofParams := addExportPprofParams(exportPprofCmd)

	storeCmd := app.Command("store", "Operate on the capture store.")
	storePutCmd := storeCmd.Command("put", "Upload capture files.")
	storePutFiles := storePutCmd.Arg("file", "capture file path").Required().ExistingFiles()
	storeGetCmd := storeCmd.Command("get", "Download a capture.")
	storeGetParams := addStoreGetParams(storeGetCmd)
	storeListCmd := storeCmd.Command("list", "List stored captures.")

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx = capturecontext.WithLogger(ctx, logger)

	conf, err := loadConfig(cfg.configFile)
	if err != nil {
		os.Exit(checkError(err))
	}

	switch parsedCmd {
	case inspectCmd.FullCommand():
		if err := inspect(ctx, conf, inspectParams); err != nil {
			os.Exit(checkError(err))
		}
	case synthCmd.FullCommand():
		if err := synthesize(ctx, conf, synthParams); err != nil {
			os.Exit(checkError(err))
		}
	case exportPprofCmd.FullCommand():
		if err := exportPprof(ctx, conf, exportPprofParams); err != nil {
			os.Exit(checkError(err))
		}
	case storePutCmd.FullCommand():
		if err := storePut(ctx, conf, *storePutFiles); err != nil {
			os.Exit(checkError(err))
		}
	case storeGetCmd.FullCommand():
		if err := storeGet(ctx, conf, storeGetParams); err != nil {
			os.Exit(checkError(err))
		}
	case storeListCmd.FullCommand():
		if err := storeList(ctx, conf); err != nil {
			os.Exit(checkError(err))
		}
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
