// Package context carries the ambient dependencies of capture operations:
// the logger, the metrics registerer and the capture bucket.
package context

import (
	"context"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thanos-io/objstore"
)

type contextKey int

const (
	loggerKey contextKey = iota
	registryKey
	bucketKey
)

var defaultLogger = newDefaultLogger(os.Stderr)

// newDefaultLogger drops debug entries: per-record diagnostics are only
// emitted through a logger the caller provides.
func newDefaultLogger(w io.Writer) log.Logger {
	return level.NewFilter(log.NewLogfmtLogger(w), level.AllowInfo())
}

func WithLogger(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func Logger(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(loggerKey).(log.Logger); ok {
		return logger
	}
	return defaultLogger
}

func WithRegistry(ctx context.Context, registry prometheus.Registerer) context.Context {
	return context.WithValue(ctx, registryKey, registry)
}

// Registry returns the registerer of the context. Without one, metrics
// are not registered anywhere.
func Registry(ctx context.Context) prometheus.Registerer {
	if registry, ok := ctx.Value(registryKey).(prometheus.Registerer); ok {
		return registry
	}
	return nil
}

func WithBucket(ctx context.Context, bucket objstore.Bucket) context.Context {
	return context.WithValue(ctx, bucketKey, bucket)
}

func Bucket(ctx context.Context) objstore.Bucket {
	if bucket, ok := ctx.Value(bucketKey).(objstore.Bucket); ok {
		return bucket
	}
	return nil
}

// WrapCapture annotates the context logger with the capture name.
func WrapCapture(ctx context.Context, name string) context.Context {
	return WithLogger(ctx, log.With(Logger(ctx), "capture", name))
}
