package glob

import (
	"fmt"
	"maps"
	"slices"
)

// Param is a named hole shared by a relation's patterns. A nil Values means
// the parameter is unconstrained.
type Param struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Constrained reports whether the parameter has an enumerable value set.
func (p Param) Constrained() bool { return p.Values != nil }

// Allows reports whether value is acceptable for the parameter.
func (p Param) Allows(value string) bool {
	return p.Values == nil || slices.Contains(p.Values, value)
}

// Relation pairs input and output patterns whose named holes must bind
// consistently. It is immutable once built.
type Relation struct {
	inputs  []*Pattern
	outputs []*Pattern
	outSet  *Set
	params  map[string]Param
}

// Solution is a relation with every hole substituted.
type Solution struct {
	Inputs   []*Pattern
	Outputs  []*Pattern
	Bindings map[string]string
}

// NewRelation builds a relation. Holes that are used but not declared
// become unconstrained parameters.
func NewRelation(inputs, outputs []*Pattern, params ...Param) *Relation {
	r := &Relation{
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
		outSet:  NewSet(outputs...),
		params:  make(map[string]Param, len(params)),
	}
	for _, p := range params {
		if p.Values != nil {
			p.Values = dedupe(p.Values)
		}
		r.params[p.Name] = p
	}
	for _, g := range slices.Concat(r.inputs, r.outputs) {
		for _, name := range g.HoleNames() {
			if _, ok := r.params[name]; !ok {
				r.params[name] = Param{Name: name}
			}
		}
	}
	return r
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Inputs returns the input patterns.
func (r *Relation) Inputs() []*Pattern { return slices.Clone(r.inputs) }

// Outputs returns the output patterns.
func (r *Relation) Outputs() []*Pattern { return slices.Clone(r.outputs) }

// Params returns the parameters sorted by name.
func (r *Relation) Params() []Param {
	out := make([]Param, 0, len(r.params))
	for _, name := range slices.Sorted(maps.Keys(r.params)) {
		out = append(out, r.params[name])
	}
	return out
}

// Param looks up a parameter by name.
func (r *Relation) Param(name string) (Param, bool) {
	p, ok := r.params[name]
	return p, ok
}

// SolveForOutput finds the instance of the relation that produces path. It
// returns nil when no output pattern matches, when matching patterns
// disagree on a shared hole, or when some parameter is left unbound.
func (r *Relation) SolveForOutput(path string) *Solution {
	matching := r.outSet.Matching(path)
	if len(matching) == 0 {
		return nil
	}
	if len(r.params) == 0 {
		return &Solution{Inputs: r.Inputs(), Outputs: r.Outputs(), Bindings: map[string]string{}}
	}
	bindings := make(map[string]string, len(r.params))
	for _, g := range matching {
		if !g.MatchBindings(path, bindings) {
			return nil
		}
	}
	if len(bindings) != len(r.params) {
		return nil
	}
	for name, value := range bindings {
		if !r.params[name].Allows(value) {
			return nil
		}
	}
	sol, err := r.WithParameterValues(bindings)
	if err != nil {
		return nil
	}
	return sol
}

// WithParameterValues substitutes known bindings into every pattern.
func (r *Relation) WithParameterValues(bindings map[string]string) (*Solution, error) {
	sol := &Solution{
		Inputs:   make([]*Pattern, 0, len(r.inputs)),
		Outputs:  make([]*Pattern, 0, len(r.outputs)),
		Bindings: maps.Clone(bindings),
	}
	if sol.Bindings == nil {
		sol.Bindings = map[string]string{}
	}
	for _, g := range r.inputs {
		s, err := g.Subst(bindings)
		if err != nil {
			return nil, fmt.Errorf("substituting into %s: %w", g, err)
		}
		sol.Inputs = append(sol.Inputs, s)
	}
	for _, g := range r.outputs {
		s, err := g.Subst(bindings)
		if err != nil {
			return nil, fmt.Errorf("substituting into %s: %w", g, err)
		}
		sol.Outputs = append(sol.Outputs, s)
	}
	return sol, nil
}

// AllPossibleSolutions enumerates one solution per element of the cartesian
// product of the parameters' value sets. It fails with ErrUnconstrained if
// any parameter has no value set.
func (r *Relation) AllPossibleSolutions() ([]*Solution, error) {
	params := r.Params()
	for _, p := range params {
		if !p.Constrained() {
			return nil, fmt.Errorf("%w: %s", ErrUnconstrained, p.Name)
		}
	}
	var out []*Solution
	bindings := make(map[string]string, len(params))
	var walk func(i int) error
	walk = func(i int) error {
		if i == len(params) {
			sol, err := r.WithParameterValues(bindings)
			if err != nil {
				return err
			}
			out = append(out, sol)
			return nil
		}
		for _, v := range params[i].Values {
			bindings[params[i].Name] = v
			if err := walk(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return out, nil
}
