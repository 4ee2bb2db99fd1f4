// Package store keeps capture files in an object storage bucket.
package store

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"

	"github.com/grafana/timeline-capture/pkg/capture"
	"github.com/grafana/timeline-capture/pkg/capture/schema"
	"github.com/grafana/timeline-capture/pkg/capture/timeline"
)

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"

	captureExt = ".capture"
	zstdExt    = ".zst"
)

var ErrNotFound = errors.New("capture not found")

type Config struct {
	Directory   string `yaml:"directory"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Directory, "store.directory", "./captures", "Directory of the filesystem bucket captures are stored in.")
	f.StringVar(&cfg.Prefix, "store.prefix", "captures", "Object name prefix of the stored captures.")
	f.StringVar(&cfg.Compression, "store.compression", CompressionZstd, "Compression of stored captures: none or zstd.")
}

func (cfg *Config) Validate() error {
	switch cfg.Compression {
	case CompressionNone, CompressionZstd:
		return nil
	default:
		return fmt.Errorf("unsupported compression %q", cfg.Compression)
	}
}

type Store struct {
	cfg    Config
	bucket objstore.Bucket
	logger log.Logger
}

func New(bucket objstore.Bucket, cfg Config, logger log.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, bucket: bucket, logger: logger}, nil
}

// NewFilesystem creates a store backed by the local directory.
func NewFilesystem(cfg Config, logger log.Logger) (*Store, error) {
	bucket, err := filesystem.NewBucket(cfg.Directory)
	if err != nil {
		return nil, errors.Wrap(err, "creating filesystem bucket")
	}
	return New(bucket, cfg, logger)
}

// Entry describes a stored capture.
type Entry struct {
	Name       string
	ID         ulid.ULID
	Size       int64
	Compressed bool
}

// ObjectName returns the name of the object the capture with the given
// id is stored in.
func (s *Store) ObjectName(id ulid.ULID) string {
	name := id.String() + captureExt
	if s.cfg.Compression == CompressionZstd {
		name += zstdExt
	}
	return name
}

func (s *Store) objectPath(name string) string { return path.Join(s.cfg.Prefix, name) }

// Put writes the capture to the bucket. A capture without an id is
// assigned a new one. It returns the name of the stored object.
func (s *Store) Put(ctx context.Context, info schema.CaptureInfo, timers []timeline.Timer, cfg capture.WriterConfig) (string, error) {
	if info.ID == (ulid.ULID{}) {
		info.ID = ulid.Make()
	}
	name := s.ObjectName(info.ID)
	err := s.upload(ctx, name, func(w io.Writer) error {
		return capture.Save(ctx, w, info, timers, cfg)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// Upload stores an existing capture stream under the id.
func (s *Store) Upload(ctx context.Context, id ulid.ULID, r io.Reader) (string, error) {
	name := s.ObjectName(id)
	err := s.upload(ctx, name, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func (s *Store) upload(ctx context.Context, name string, write func(io.Writer) error) (err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.Upload")
	span.SetTag("name", name)
	defer span.Finish()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.encode(pw, write))
	}()
	if err = s.bucket.Upload(ctx, s.objectPath(name), pr); err != nil {
		// Unblock the producer if the upload gave up early.
		pr.CloseWithError(err)
		return errors.Wrapf(err, "uploading capture %s", name)
	}
	level.Debug(s.logger).Log("msg", "capture uploaded", "name", name)
	return nil
}

func (s *Store) encode(w io.Writer, write func(io.Writer) error) error {
	if s.cfg.Compression != CompressionZstd {
		return write(w)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err = write(enc); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Open returns the decompressed capture stream of the named object.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.bucket.Get(ctx, s.objectPath(name))
	if err != nil {
		if s.bucket.IsObjNotFoundErr(err) {
			return nil, errors.Wrap(ErrNotFound, name)
		}
		return nil, errors.Wrapf(err, "opening capture %s", name)
	}
	if !strings.HasSuffix(name, zstdExt) {
		return rc, nil
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return &decompressor{Decoder: dec, rc: rc}, nil
}

type decompressor struct {
	*zstd.Decoder
	rc io.ReadCloser
}

func (d *decompressor) Close() error {
	d.Decoder.Close()
	return d.rc.Close()
}

// Load reads the named capture, see capture.Load.
func (s *Store) Load(ctx context.Context, name string, cfg capture.ReaderConfig) (*timeline.Model, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "store.Load")
	span.SetTag("name", name)
	defer span.Finish()

	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return capture.Load(ctx, rc, cfg)
}

// List returns the stored captures ordered by id.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.bucket.Iter(ctx, s.cfg.Prefix, func(p string) error {
		name := path.Base(p)
		e := Entry{Name: name, Compressed: strings.HasSuffix(name, zstdExt)}
		id, ok := strings.CutSuffix(strings.TrimSuffix(name, zstdExt), captureExt)
		if !ok {
			return nil
		}
		var err error
		if e.ID, err = ulid.ParseStrict(id); err != nil {
			level.Warn(s.logger).Log("msg", "skipping object with invalid capture id", "name", name, "err", err)
			return nil
		}
		attrs, err := s.bucket.Attributes(ctx, p)
		if err != nil {
			return errors.Wrapf(err, "reading attributes of %s", name)
		}
		e.Size = attrs.Size
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.Compare(entries[j].ID) < 0
	})
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.bucket.Delete(ctx, s.objectPath(name)); err != nil {
		if s.bucket.IsObjNotFoundErr(err) {
			return errors.Wrap(ErrNotFound, name)
		}
		return err
	}
	return nil
}
