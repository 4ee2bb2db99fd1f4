package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/grafana/dskit/flagext"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/grafana/timeline-capture/pkg/capture"
	"github.com/grafana/timeline-capture/pkg/capture/loader"
	"github.com/grafana/timeline-capture/pkg/capture/store"
	"github.com/grafana/timeline-capture/pkg/capture/synth"
)

type config struct {
	Reader capture.ReaderConfig `yaml:"reader"`
	Writer capture.WriterConfig `yaml:"writer"`
	Loader loader.Config        `yaml:"loader"`
	Store  store.Config         `yaml:"store"`
	Synth  synth.Config         `yaml:"synth"`
}

// Note: flags are registered to get the defaults only.
func (c *config) RegisterFlags(f *flag.FlagSet) {
	c.Reader.RegisterFlags(f)
	c.Writer.RegisterFlags(f)
	c.Loader.RegisterFlags(f)
	c.Store.RegisterFlags(f)
	c.Synth.RegisterFlags(f)
}

func (c *config) Validate() error {
	var err error
	for _, v := range []struct {
		name string
		cfg  interface{ Validate() error }
	}{
		{"reader", &c.Reader},
		{"writer", &c.Writer},
		{"loader", &c.Loader},
		{"store", &c.Store},
		{"synth", &c.Synth},
	} {
		if verr := v.cfg.Validate(); verr != nil {
			err = multierror.Append(err, fmt.Errorf("invalid %s config: %w", v.name, verr))
		}
	}
	return err
}

// loadConfig returns the defaults overridden by the file, if one is given.
func loadConfig(path string) (*config, error) {
	c := &config{}
	flagext.DefaultValues(c)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err = dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed parsing config %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
