package bake

import (
	"sync"

	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

// productNamespace is the addresser namespace products register under.
const productNamespace = "product"

// status is the baker's view of one product. It is the artifact the
// validity tracker validates and invalidates.
type status struct {
	baker   *Baker
	product *plan.Product
	// signature is the product definition hash.
	signature validity.Hash
	// witnessed instances of templates with unconstrained parameters are
	// collected once no input matches.
	witnessed bool

	unwatch func()

	mu sync.Mutex
	// future is the running build, or the last one while nothing it
	// depended on has changed since.
	future *Future
	// generation counts invalidations so a build can tell whether its
	// result is already stale when it finishes.
	generation uint64
	valid      bool
	// builtWith is the definition and tool hash the product was last built
	// or restored with.
	builtWith validity.Hash
	removed   bool
}

func (s *status) name() string { return s.product.Name.String() }

// Definition implements validity.Definer.
func (s *status) Definition() validity.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builtWith
}

// Validate implements validity.Artifact.
func (s *status) Validate() {
	s.mu.Lock()
	was := s.valid
	s.valid = true
	s.mu.Unlock()
	if !was {
		s.baker.validCount.Add(1)
	}
}

// Invalidate implements validity.Artifact.
func (s *status) Invalidate() {
	s.mu.Lock()
	was := s.valid
	s.valid = false
	s.generation++
	if s.future != nil && s.future.IsDone() {
		s.future = nil
	}
	s.mu.Unlock()
	if was {
		s.baker.validCount.Add(-1)
	}
	s.baker.invalidated(s, was)
}

func (s *status) isValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// discard retires the status when its definition is replaced or removed.
func (s *status) discard() {
	s.mu.Lock()
	was := s.valid
	s.valid = false
	s.removed = true
	f := s.future
	s.future = nil
	s.mu.Unlock()
	if was {
		s.baker.validCount.Add(-1)
	}
	if f != nil {
		f.Cancel()
	}
	if s.unwatch != nil {
		s.unwatch()
	}
}

// addresser maps product statuses to their canonical names.
type addresser struct{ b *Baker }

func (a addresser) AddressFor(art validity.Artifact) string {
	return art.(*status).name()
}

func (a addresser) Lookup(id string) validity.Artifact {
	if st := a.b.lookup(id); st != nil {
		return st
	}
	return nil
}
