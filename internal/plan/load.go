package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
)

type planFile struct {
	Tools    map[string]toolFile    `yaml:"tools"`
	Products map[string]productFile `yaml:"products"`
}

type toolFile struct {
	Help          string   `yaml:"help"`
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	Batch         bool     `yaml:"batch"`
	Deterministic bool     `yaml:"deterministic"`
}

type productFile struct {
	Help string `yaml:"help"`
	// A parameter mapped to null is unconstrained.
	Params        map[string][]string `yaml:"params"`
	Inputs        []string            `yaml:"inputs"`
	Outputs       []string            `yaml:"outputs"`
	Actions       []actionFile        `yaml:"actions"`
	Prereqs       []string            `yaml:"prereqs"`
	Intermediate  bool                `yaml:"intermediate"`
	Orchestration string              `yaml:"orchestration"`
}

type actionFile struct {
	Tool    string         `yaml:"tool"`
	Inputs  []string       `yaml:"inputs"`
	Outputs []string       `yaml:"outputs"`
	Options map[string]any `yaml:"options"`
}

// LoadFile reads and parses a plan file.
func LoadFile(path string) (*Plan, error) {
	// #nosec G304 -- the plan path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, foundation.ConfigError("failed to read plan file").WithCause(err).WithContext("path", path).Build()
	}
	pl, err := Parse(data)
	if err != nil {
		if ce, ok := foundation.AsClassified(err); ok {
			return nil, ce.WithContext("path", path)
		}
		return nil, err
	}
	return pl, nil
}

// Parse parses plan YAML. Either the whole plan is valid or an error is
// returned; no product is partially registered.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var raw planFile
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, foundation.ConfigError("failed to parse plan").WithCause(err).Build()
	}

	pl := &Plan{
		Tools:    make(map[string]ToolSpec, len(raw.Tools)),
		Products: make(map[BoundName]*Product, len(raw.Products)),
	}
	for _, name := range slices.Sorted(maps.Keys(raw.Tools)) {
		t := raw.Tools[name]
		if name == "" {
			return nil, foundation.ConfigError("tool without a name").Build()
		}
		if len(t.Args) != 0 && t.Command == "" {
			return nil, foundation.ConfigError("tool args given without a command").WithContext("tool", name).Build()
		}
		pl.Tools[name] = ToolSpec{
			Name:          name,
			Help:          t.Help,
			Command:       t.Command,
			Args:          t.Args,
			Batch:         t.Batch,
			Deterministic: t.Deterministic,
		}
	}
	for _, key := range slices.Sorted(maps.Keys(raw.Products)) {
		p, err := buildProduct(key, raw.Products[key])
		if err != nil {
			return nil, err
		}
		pl.Products[p.Name] = p
	}
	for _, p := range pl.Products {
		for _, pre := range p.Prereqs {
			if _, ok := pl.Products[pre.Unbound()]; !ok {
				return nil, foundation.ConfigError("unknown prerequisite").
					WithContext("product", p.Name.String()).WithContext("prereq", pre.String()).Build()
			}
		}
	}
	names := pl.ProductNames()
	for i, a := range names {
		for _, b := range names[i+1:] {
			if shared := sharedOutput(pl.Products[a], pl.Products[b]); shared != nil {
				return nil, foundation.ConfigError("products have overlapping outputs").
					WithContext("product", a.String()).WithContext("other", b.String()).
					WithContext("overlap", shared.String()).Build()
			}
		}
	}
	return pl, nil
}

// sharedOutput returns a glob matching paths both products would produce,
// or nil when their outputs are disjoint.
func sharedOutput(a, b *Product) *glob.Pattern {
	if !glob.Overlaps(a.Outputs(), b.Outputs()) {
		return nil
	}
	for _, x := range a.Outputs() {
		for _, y := range b.Outputs() {
			if g := glob.Intersection(x, y); g != nil {
				return g
			}
		}
	}
	return nil
}

func buildProduct(key string, raw productFile) (*Product, error) {
	name, err := ParseBoundName(key)
	if err != nil {
		return nil, err
	}
	if name.HasBindings() {
		return nil, foundation.ConfigError("plan product names cannot carry bindings").WithContext("product", key).Build()
	}
	fail := func(msg string, cause error) error {
		return foundation.ConfigError(msg).WithCause(cause).WithContext("product", key).Build()
	}
	p := &Product{
		Name:          name,
		Help:          raw.Help,
		Intermediate:  raw.Intermediate,
		Orchestration: raw.Orchestration,
	}
	var allIn, allOut []*glob.Pattern
	for i, ra := range raw.Actions {
		if ra.Tool == "" {
			return nil, fail(fmt.Sprintf("action %d has no tool", i), nil)
		}
		a := Action{Tool: ra.Tool}
		if a.Inputs, err = glob.ExpandAll(ra.Inputs); err != nil {
			return nil, fail("bad action input glob", err)
		}
		if a.Outputs, err = glob.ExpandAll(ra.Outputs); err != nil {
			return nil, fail("bad action output glob", err)
		}
		if len(ra.Options) != 0 {
			a.Options = normalizeOptions(ra.Options)
		}
		allIn = append(allIn, a.Inputs...)
		allOut = append(allOut, a.Outputs...)
		p.Actions = append(p.Actions, a)
	}

	inputs, outputs := dedupeGlobs(allIn), dedupeGlobs(allOut)
	if raw.Inputs != nil {
		if inputs, err = glob.ExpandAll(raw.Inputs); err != nil {
			return nil, fail("bad input glob", err)
		}
	}
	if raw.Outputs != nil {
		if outputs, err = glob.ExpandAll(raw.Outputs); err != nil {
			return nil, fail("bad output glob", err)
		}
	}

	params := make([]glob.Param, 0, len(raw.Params))
	for _, pn := range slices.Sorted(maps.Keys(raw.Params)) {
		params = append(params, glob.Param{Name: pn, Values: raw.Params[pn]})
	}
	p.Relation = glob.NewRelation(inputs, outputs, params...)

	for _, pre := range raw.Prereqs {
		bn, err := ParseBoundName(pre)
		if err != nil {
			return nil, fail("bad prerequisite name", err)
		}
		p.Prereqs = append(p.Prereqs, bn)
	}
	return p, nil
}

func dedupeGlobs(globs []*glob.Pattern) []*glob.Pattern {
	out := make([]*glob.Pattern, 0, len(globs))
	for _, g := range globs {
		if !slices.ContainsFunc(out, g.Equal) {
			out = append(out, g)
		}
	}
	return out
}

// normalizeOptions turns the map[any]any values yaml produces for
// non-string keys into map[string]any so options can be JSON encoded.
func normalizeOptions(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeOption(v)
	}
	return out
}

func normalizeOption(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeOptions(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeOption(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeOption(e)
		}
		return out
	}
	return v
}
