// Package config loads the query cache settings from YAML or TOML files.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pelletier/go-toml/v2"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/logging"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Snapshots configures the snapshot store. Durations accept the extended
// syntax of str2duration, so "1d12h" is valid.
type Snapshots struct {
	Capacity           int    `yaml:"capacity" toml:"capacity"`
	Shards             int    `yaml:"shards" toml:"shards"`
	TTL                string `yaml:"ttl" toml:"ttl"`
	EvictionPercentage int    `yaml:"eviction_percentage" toml:"eviction_percentage"`
	EvictionInterval   string `yaml:"eviction_interval,omitempty" toml:"eviction_interval,omitempty"`
}

// Log configures the logger.
type Log struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// Journal configures the transaction journal.
type Journal struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	DSN     string `yaml:"dsn" toml:"dsn"`
}

// Engine configures the query engine.
type Engine struct {
	// PreservedKinds survive ClearPreserving. Empty keeps the engine default.
	PreservedKinds []string `yaml:"preserved_kinds,omitempty" toml:"preserved_kinds,omitempty"`
}

// File is a complete configuration document.
type File struct {
	Snapshots Snapshots `yaml:"snapshots" toml:"snapshots"`
	Log       Log       `yaml:"log" toml:"log"`
	Journal   Journal   `yaml:"journal" toml:"journal"`
	Engine    Engine    `yaml:"engine" toml:"engine"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	def := cache.DefaultConfig()
	f := File{
		Snapshots: Snapshots{
			Capacity:           def.Capacity,
			Shards:             def.NumShards,
			TTL:                str2duration.String(def.TTL),
			EvictionPercentage: def.EvictionPercentage,
		},
		Log:     Log{Level: "info"},
		Journal: Journal{DSN: "file:qcache.db?cache=shared"},
	}
	if def.EvictionInterval > 0 {
		f.Snapshots.EvictionInterval = str2duration.String(def.EvictionInterval)
	}
	return f
}

// Format returns the document format implied by a file name.
func Format(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", path)
}

// Parse decodes a document over the defaults and validates the result.
func Parse(data []byte, format string) (File, error) {
	f := Default()
	var err error
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	case "toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&f)
	default:
		return File{}, errors.Wrapf(ErrUnsupportedFormat, "%q", format)
	}
	if err != nil {
		return File{}, errors.Wrap(err, "decode config")
	}
	if err := f.Validate(); err != nil {
		return File{}, errors.Wrap(err, "validate config")
	}
	return f, nil
}

// Load reads a config file. An empty path returns the defaults.
func Load(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}
	format, err := Format(path)
	if err != nil {
		return File{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data, format)
}

var logLevels = []any{"debug", "info", "warn", "warning", "error"}

func duration(required bool) validation.Rule {
	return validation.By(func(v any) error {
		s, _ := v.(string)
		if s == "" {
			if required {
				return errors.New("cannot be blank")
			}
			return nil
		}
		d, err := str2duration.ParseDuration(s)
		if err != nil {
			return errors.Newf("invalid duration %q", s)
		}
		if d < 0 {
			return errors.New("must not be negative")
		}
		return nil
	})
}

// Validate checks the document, including the snapshot store settings it
// converts to.
func (f File) Validate() error {
	s := f.Snapshots
	if err := validation.ValidateStruct(&s,
		validation.Field(&s.TTL, duration(true)),
		validation.Field(&s.EvictionInterval, duration(false)),
	); err != nil {
		return errors.Wrap(err, "snapshots")
	}
	cfg, err := f.CacheConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "snapshots")
	}

	l := f.Log
	if err := validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In(logLevels...)),
	); err != nil {
		return errors.Wrap(err, "log")
	}

	j := f.Journal
	if err := validation.ValidateStruct(&j,
		validation.Field(&j.DSN, validation.When(j.Enabled, validation.Required)),
	); err != nil {
		return errors.Wrap(err, "journal")
	}

	for _, k := range f.Engine.PreservedKinds {
		if !cache.Kind(k).Known() {
			return errors.Newf("engine: unknown preserved kind %q", k)
		}
	}
	return nil
}

// CacheConfig converts the snapshot settings.
func (f File) CacheConfig() (cache.Config, error) {
	s := f.Snapshots
	ttl, err := str2duration.ParseDuration(s.TTL)
	if err != nil {
		return cache.Config{}, errors.Wrapf(err, "snapshots ttl %q", s.TTL)
	}
	var interval time.Duration
	if s.EvictionInterval != "" {
		if interval, err = str2duration.ParseDuration(s.EvictionInterval); err != nil {
			return cache.Config{}, errors.Wrapf(err, "snapshots eviction_interval %q", s.EvictionInterval)
		}
	}
	return cache.Config{
		Capacity:           s.Capacity,
		NumShards:          s.Shards,
		TTL:                ttl,
		EvictionPercentage: s.EvictionPercentage,
		EvictionInterval:   interval,
	}, nil
}

// LogOptions converts the log settings.
func (f File) LogOptions() logging.Options {
	return logging.Options{Level: f.Log.Level, JSON: f.Log.JSON}
}

// Kinds returns the preserved kinds, nil when unset.
func (f File) Kinds() []cache.Kind {
	if len(f.Engine.PreservedKinds) == 0 {
		return nil
	}
	out := make([]cache.Kind, len(f.Engine.PreservedKinds))
	for i, k := range f.Engine.PreservedKinds {
		out[i] = cache.Kind(k)
	}
	return out
}
