package capture

import (
	"flag"
	"fmt"

	"github.com/grafana/timeline-capture/pkg/capture/frame"
)

const defaultWriteBufferSize = 256 << 10

type ReaderConfig struct {
	MaxFrameSize uint64 `yaml:"max_frame_size"`
}

func (cfg *ReaderConfig) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("capture.", f)
}

func (cfg *ReaderConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.Uint64Var(&cfg.MaxFrameSize, prefix+"max-frame-size", frame.DefaultMaxFrameSize, "Frames claiming a larger payload are rejected before the payload is read.")
}

func (cfg *ReaderConfig) Validate() error {
	if cfg.MaxFrameSize == 0 {
		return fmt.Errorf("max frame size must be positive")
	}
	return nil
}

type WriterConfig struct {
	BufferSize int `yaml:"write_buffer_size"`
}

func (cfg *WriterConfig) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("capture.", f)
}

func (cfg *WriterConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.BufferSize, prefix+"write-buffer-size", defaultWriteBufferSize, "Size of the buffer in front of the capture sink.")
}

func (cfg *WriterConfig) Validate() error {
	if cfg.BufferSize < 0 {
		return fmt.Errorf("write buffer size must not be negative")
	}
	return nil
}
