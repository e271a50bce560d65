// Package plan models the products a build can produce: their names, the
// files they consume and produce, and the tool actions that produce them.
package plan

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/glob"
)

// Action is one tool invocation within a product. Options are passed to the
// tool untouched.
type Action struct {
	Tool    string
	Inputs  []*glob.Pattern
	Outputs []*glob.Pattern
	Options map[string]any
}

// WithParameterValues substitutes bindings into the action's globs.
func (a Action) WithParameterValues(bindings map[string]string) (Action, error) {
	out := Action{Tool: a.Tool, Options: a.Options}
	var err error
	if out.Inputs, err = substAll(a.Inputs, bindings); err != nil {
		return Action{}, err
	}
	if out.Outputs, err = substAll(a.Outputs, bindings); err != nil {
		return Action{}, err
	}
	return out, nil
}

func substAll(globs []*glob.Pattern, bindings map[string]string) ([]*glob.Pattern, error) {
	out := make([]*glob.Pattern, len(globs))
	for i, g := range globs {
		s, err := g.Subst(bindings)
		if err != nil {
			return nil, fmt.Errorf("substituting into %s: %w", g, err)
		}
		out[i] = s
	}
	return out, nil
}

// Product is a named buildable unit. Products are replaced wholesale when
// the plan changes, never mutated.
type Product struct {
	Name BoundName
	Help string
	// Relation holds the product's inputs, outputs and parameters.
	Relation *glob.Relation
	Actions  []Action
	Prereqs  []BoundName
	// Intermediate products exist only to feed other products.
	Intermediate bool
	// Orchestration names a registered orchestration that sequences the
	// actions. Empty means run them in declared order.
	Orchestration string
	// Template is the parameterized product this one was instantiated from.
	Template *Product
}

// Inputs returns the product's input globs.
func (p *Product) Inputs() []*glob.Pattern { return p.Relation.Inputs() }

// Outputs returns the product's output globs.
func (p *Product) Outputs() []*glob.Pattern { return p.Relation.Outputs() }

// IsParameterized reports whether the product still has unbound parameters
// and so cannot be built directly.
func (p *Product) IsParameterized() bool { return len(p.Relation.Params()) != 0 }

// Tools returns the distinct tool names used by the actions, sorted.
func (p *Product) Tools() []string {
	names := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		names = append(names, a.Tool)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// WithParameterValues returns the concrete instance of the product for the
// given bindings, named by the product's identifier and the union of its
// existing bindings and the new ones.
func (p *Product) WithParameterValues(bindings map[string]string) (*Product, error) {
	merged := p.Name.Bindings()
	for k, v := range bindings {
		if prev, ok := merged[k]; ok && prev != v {
			return nil, foundation.ValidationError("conflicting parameter value").
				WithContext("product", p.Name.String()).WithContext("param", k).Build()
		}
		merged[k] = v
	}
	for k, v := range bindings {
		if param, ok := p.Relation.Param(k); ok && !param.Allows(v) {
			return nil, foundation.NotFoundError("parameter value not allowed").
				WithContext("product", p.Name.String()).WithContext("param", k).WithContext("value", v).Build()
		}
	}
	sol, err := p.Relation.WithParameterValues(bindings)
	if err != nil {
		return nil, foundation.ValidationError("cannot bind product").WithCause(err).
			WithContext("product", p.Name.String()).Build()
	}
	actions := make([]Action, len(p.Actions))
	for i, a := range p.Actions {
		if actions[i], err = a.WithParameterValues(bindings); err != nil {
			return nil, foundation.ValidationError("cannot bind action").WithCause(err).
				WithContext("product", p.Name.String()).WithContext("tool", a.Tool).Build()
		}
	}

	var remaining []glob.Param
	for _, param := range p.Relation.Params() {
		if _, bound := bindings[param.Name]; !bound {
			remaining = append(remaining, param)
		}
	}
	template := p
	if p.Template != nil {
		template = p.Template
	}
	return &Product{
		Name:          p.Name.WithBindings(merged),
		Help:          p.Help,
		Relation:      glob.NewRelation(sol.Inputs, sol.Outputs, remaining...),
		Actions:       actions,
		Prereqs:       slices.Clone(p.Prereqs),
		Intermediate:  p.Intermediate,
		Orchestration: p.Orchestration,
		Template:      template,
	}, nil
}

// Plan is a loaded plan file: tool bindings and products by name.
type Plan struct {
	Tools    map[string]ToolSpec
	Products map[BoundName]*Product
}

// ProductNames returns product names in canonical text order.
func (pl *Plan) ProductNames() []BoundName {
	names := slices.Collect(maps.Keys(pl.Products))
	slices.SortFunc(names, func(a, b BoundName) int { return strings.Compare(a.String(), b.String()) })
	return names
}

// ProducerOf names the product, or product instance, whose outputs include
// path. Plans never hold overlapping outputs, so the answer is unique.
func (pl *Plan) ProducerOf(path string) (BoundName, bool) {
	for _, name := range pl.ProductNames() {
		p := pl.Products[name]
		if sol := p.Relation.SolveForOutput(path); sol != nil {
			return p.Name.WithBindings(sol.Bindings), true
		}
	}
	return BoundName{}, false
}

// ToolSpec binds a tool name to its implementation. An empty Command
// selects the built-in tool of that name.
type ToolSpec struct {
	Name    string
	Help    string
	Command string
	// Args are passed to Command; "{in}" and "{out}" expand to the input
	// and output paths of each file pair.
	Args []string
	// Batch runs Command once with every input rather than once per file.
	Batch bool
	// Deterministic tools produce identical outputs for identical inputs.
	Deterministic bool
}
