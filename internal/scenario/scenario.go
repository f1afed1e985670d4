package scenario

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for documents that are neither YAML nor
// TOML.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Watch kinds understood by the runner.
const (
	WatchJournals         = "journals"
	WatchBlock            = "block"
	WatchBlockRefsCount   = "block-refs-count"
	WatchPageBlocks       = "page-blocks"
	WatchBlockAndChildren = "block-and-children"
	WatchPageLinks        = "page-links"
	WatchPageBacklinks    = "page-backlinks"
	WatchReferences       = "references"
	WatchUnlinkedRefs     = "unlinked-refs"
	WatchBlockRefIDs      = "block-ref-ids"
	WatchEntity           = "entity"
	WatchKV               = "kv"
	WatchQuery            = "query"
)

var watchKinds = []any{
	WatchJournals, WatchBlock, WatchBlockRefsCount, WatchPageBlocks,
	WatchBlockAndChildren, WatchPageLinks, WatchPageBacklinks, WatchReferences,
	WatchUnlinkedRefs, WatchBlockRefIDs, WatchEntity, WatchKV, WatchQuery,
}

// Watch is a cached query observed while the scenario runs. Target is a
// page name, a block uuid or "#<id>"; Key names a keyed value; Query holds
// the textual query of WatchQuery watches.
type Watch struct {
	Name   string `yaml:"name" toml:"name"`
	Kind   string `yaml:"kind" toml:"kind"`
	Target string `yaml:"target,omitempty" toml:"target,omitempty"`
	Key    string `yaml:"key,omitempty" toml:"key,omitempty"`
	Query  string `yaml:"query,omitempty" toml:"query,omitempty"`
}

// Validate checks the watch shape.
func (w Watch) Validate() error {
	needsTarget := w.Kind != WatchJournals && w.Kind != WatchKV && w.Kind != WatchQuery
	return validation.ValidateStruct(&w,
		validation.Field(&w.Name, validation.Required),
		validation.Field(&w.Kind, validation.Required, validation.In(watchKinds...)),
		validation.Field(&w.Target, validation.When(needsTarget, validation.Required)),
		validation.Field(&w.Key, validation.When(w.Kind == WatchKV, validation.Required)),
		validation.Field(&w.Query, validation.When(w.Kind == WatchQuery, validation.Required)),
	)
}

// Assertion sets or retracts one attribute value. Entity and, for ref
// attributes, Value use the Ref syntax.
type Assertion struct {
	Entity string `yaml:"entity" toml:"entity"`
	Attr   string `yaml:"attr" toml:"attr"`
	Value  any    `yaml:"value" toml:"value"`
}

// Step is one transaction of a scenario.
type Step struct {
	Name    string         `yaml:"name" toml:"name"`
	Graph   Graph          `yaml:"graph,omitempty" toml:"graph,omitempty"`
	Set     []Assertion    `yaml:"set,omitempty" toml:"set,omitempty"`
	Retract []Assertion    `yaml:"retract,omitempty" toml:"retract,omitempty"`
	Delete  []string       `yaml:"delete,omitempty" toml:"delete,omitempty"`
	KV      map[string]any `yaml:"kv,omitempty" toml:"kv,omitempty"`
}

// Scenario seeds a graph, watches queries and commits a sequence of steps.
type Scenario struct {
	Name    string  `yaml:"name" toml:"name"`
	Repo    string  `yaml:"repo,omitempty" toml:"repo,omitempty"`
	Graph   Graph   `yaml:"graph" toml:"graph"`
	Watches []Watch `yaml:"watch" toml:"watch"`
	Steps   []Step  `yaml:"steps" toml:"steps"`
}

// Validate checks the scenario and its watches.
func (s Scenario) Validate() error {
	if err := validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Watches, validation.Required),
	); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, w := range s.Watches {
		if err := w.Validate(); err != nil {
			return errors.Wrapf(err, "watch %d", i)
		}
		if seen[w.Name] {
			return errors.Newf("duplicate watch %q", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// RepoName returns the repository name the scenario runs under.
func (s Scenario) RepoName() string {
	if s.Repo == "" {
		return "scenario"
	}
	return s.Repo
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

// Decode unmarshals a YAML or TOML document into v.
func Decode(data []byte, format string, v any) error {
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(v)
	case "toml":
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(v)
	}
	return errors.Wrapf(ErrUnsupportedFormat, "%q", format)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte, format string) (Scenario, error) {
	var s Scenario
	if err := Decode(data, format, &s); err != nil {
		return Scenario{}, errors.Wrap(err, "decode scenario")
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, errors.Wrap(err, "validate scenario")
	}
	return s, nil
}

// Load reads a scenario file, choosing the format from its extension.
func Load(path string) (Scenario, error) {
	format, err := Format(path)
	if err != nil {
		return Scenario{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, errors.Wrapf(err, "read scenario %s", path)
	}
	return Parse(data, format)
}

// LoadGraph reads a graph document.
func LoadGraph(path string) (Graph, error) {
	format, err := Format(path)
	if err != nil {
		return Graph{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Graph{}, errors.Wrapf(err, "read graph %s", path)
	}
	var g Graph
	if err := Decode(data, format, &g); err != nil {
		return Graph{}, errors.Wrapf(err, "decode graph %s", path)
	}
	return g, nil
}
