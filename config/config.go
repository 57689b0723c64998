// Package config loads a runctx.Context from a YAML document naming
// workers and a log level (spec §6 "Config"), grounded in the
// teacher's infra/config.go Schema.Unmarshal, which decodes YAML into
// a typed configuration the same way.
package config

import (
	"fmt"

	yaml "gopkg.in/yaml.v2"

	"github.com/latticerun/lattice/affinity"
	"github.com/latticerun/lattice/errors"
	"github.com/latticerun/lattice/log"
	"github.com/latticerun/lattice/runctx"
)

// Document is the YAML shape consumed by Unmarshal:
//
//	workers:
//	  - w1
//	  - w2
//	log_level: debug
//	profile: false
type Document struct {
	Workers  []string `yaml:"workers"`
	LogLevel string   `yaml:"log_level"`
	Profile  bool     `yaml:"profile"`
}

// Unmarshal decodes a YAML document into a runctx.Context.
func Unmarshal(data []byte) (*runctx.Context, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.E("config.Unmarshal", errors.Invalid, err)
	}
	level, err := parseLevel(doc.LogLevel)
	if err != nil {
		return nil, errors.E("config.Unmarshal", errors.Invalid, err)
	}
	workers := make([]affinity.Worker, len(doc.Workers))
	for i, w := range doc.Workers {
		workers[i] = affinity.Worker(w)
	}
	rc := runctx.New(workers...)
	rc.Log = log.New(log.Std.Outputter, level)
	rc.Profile = doc.Profile
	return rc, nil
}

func parseLevel(s string) (log.Level, error) {
	switch s {
	case "", "info":
		return log.InfoLevel, nil
	case "off":
		return log.OffLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "debug":
		return log.DebugLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Marshal renders rc's workers and profile flag back to YAML, mostly
// useful for tests and for writing out a starting-point document.
func Marshal(rc *runctx.Context, level string) ([]byte, error) {
	doc := Document{LogLevel: level, Profile: rc.Profile}
	for _, w := range rc.Workers {
		doc.Workers = append(doc.Workers, string(w))
	}
	return yaml.Marshal(doc)
}
