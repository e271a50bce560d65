package plan

import (
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/prebake/internal/glob"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

type actionSignature struct {
	Tool    string         `json:"tool"`
	Inputs  []string       `json:"inputs"`
	Outputs []string       `json:"outputs"`
	Options map[string]any `json:"options,omitempty"`
}

type productSignature struct {
	Name          string            `json:"name"`
	Help          string            `json:"help,omitempty"`
	Inputs        []string          `json:"inputs"`
	Outputs       []string          `json:"outputs"`
	Params        []glob.Param      `json:"params,omitempty"`
	Actions       []actionSignature `json:"actions"`
	Prereqs       []string          `json:"prereqs,omitempty"`
	Intermediate  bool              `json:"intermediate,omitempty"`
	Orchestration string            `json:"orchestration,omitempty"`
}

// Signature hashes everything about the product definition that affects
// what a build produces. Two products with equal signatures build the same
// way given the same inputs and tools.
func (p *Product) Signature() (validity.Hash, error) {
	sig := productSignature{
		Name:          p.Name.String(),
		Help:          p.Help,
		Inputs:        globStrings(p.Inputs()),
		Outputs:       globStrings(p.Outputs()),
		Params:        p.Relation.Params(),
		Intermediate:  p.Intermediate,
		Orchestration: p.Orchestration,
	}
	for _, a := range p.Actions {
		sig.Actions = append(sig.Actions, actionSignature{
			Tool:    a.Tool,
			Inputs:  globStrings(a.Inputs),
			Outputs: globStrings(a.Outputs),
			Options: a.Options,
		})
	}
	for _, pre := range p.Prereqs {
		sig.Prereqs = append(sig.Prereqs, pre.String())
	}

	// encoding/json sorts map keys, so options hash the same whatever order
	// they were declared in.
	data, err := json.Marshal(sig)
	if err != nil {
		return validity.Hash{}, fmt.Errorf("failed to marshal product signature: %w", err)
	}
	return validity.NewHasher().WithData(data).Sum(), nil
}

func globStrings(globs []*glob.Pattern) []string {
	out := make([]string, len(globs))
	for i, g := range globs {
		out[i] = g.String()
	}
	return out
}
