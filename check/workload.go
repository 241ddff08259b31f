package main

import (
	"os"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"
)

// workload describes one audit run. Flags fill in the defaults and a yaml
// file given with -config overrides them field by field.
type workload struct {
	Width   uint    `yaml:"width"`
	Quot    uint    `yaml:"quotient_bits"`
	N       int     `yaml:"values"`
	Probes  int     `yaml:"probes"`
	Hash    string  `yaml:"hash"`
	Packed  bool    `yaml:"packed"`
	MaxLoad float64 `yaml:"max_load"`
	Resize  uint    `yaml:"resize"`
	Merge   bool    `yaml:"merge"`
	Remove  int     `yaml:"remove"`
	Cascade string  `yaml:"cascade"`
}

func loadWorkload(path string, base workload) (workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, errs.Wrap(err)
	}
	wl := base
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return base, errs.New("parsing %s: %v", path, err)
	}
	return wl, nil
}

func (wl workload) validate() error {
	switch {
	case wl.Width == 0 || wl.Width > 64:
		return errs.New("width must be in [1, 64], got %d", wl.Width)
	case wl.N < 0:
		return errs.New("values must not be negative, got %d", wl.N)
	case wl.Probes < 0:
		return errs.New("probes must not be negative, got %d", wl.Probes)
	case wl.Remove < 0:
		return errs.New("remove must not be negative, got %d", wl.Remove)
	}
	return nil
}
