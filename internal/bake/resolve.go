package bake

import (
	"context"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/plan"
)

// resolve finds the status for name, instantiating a parameterized product
// when name binds every one of its parameters.
func (b *Baker) resolve(ctx context.Context, name plan.BoundName) (*status, error) {
	if st := b.lookup(name.String()); st != nil {
		return st, nil
	}
	b.mu.RLock()
	template := b.templates[name.Ident()]
	b.mu.RUnlock()
	if template == nil {
		return nil, foundation.NotFoundError("unrecognized product").WithContext("product", name.String()).Build()
	}

	bindings := name.Bindings()
	if len(bindings) == 0 {
		return nil, foundation.NotFoundError("product is parameterized; name its parameter values").
			WithContext("product", name.String()).Build()
	}
	witnessed := false
	for _, param := range template.Relation.Params() {
		if _, ok := bindings[param.Name]; !ok {
			return nil, foundation.NotFoundError("unbound product parameter").
				WithContext("product", name.String()).WithContext("param", param.Name).Build()
		}
		if !param.Constrained() {
			witnessed = true
		}
	}
	for k := range bindings {
		if _, ok := template.Relation.Param(k); !ok {
			return nil, foundation.NotFoundError("product has no such parameter").
				WithContext("product", name.String()).WithContext("param", k).Build()
		}
	}
	inst, err := template.WithParameterValues(bindings)
	if err != nil {
		return nil, foundation.NotFoundError("cannot solve product for its parameters").WithCause(err).
			WithContext("product", name.String()).Build()
	}
	if witnessed {
		inputs, err := b.tracker.Matching(ctx, inst.Inputs())
		if err != nil {
			return nil, err
		}
		if len(inputs) == 0 {
			return nil, foundation.NotFoundError("no input witnesses product parameters").
				WithContext("product", name.String()).Build()
		}
	}
	sig, err := inst.Signature()
	if err != nil {
		return nil, foundation.InternalError("cannot hash product instance").WithCause(err).Build()
	}

	b.mu.Lock()
	if b.templates[name.Ident()] != template {
		b.mu.Unlock()
		return nil, foundation.NotFoundError("product definition changed").WithContext("product", name.String()).Build()
	}
	if st := b.statuses[inst.Name.String()]; st != nil {
		b.mu.Unlock()
		return st, nil
	}
	st := b.newStatus(inst, sig, witnessed)
	b.statuses[inst.Name.String()] = st
	b.mu.Unlock()

	b.logger.Debug("Instantiated product", logfields.Product(inst.Name.String()))
	b.restore(ctx, st)
	return st, nil
}
