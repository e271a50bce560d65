package glob

import (
	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

var (
	errMalformed = foundation.ConfigError("malformed glob").Build()

	// ErrUnconstrained is returned when solutions are requested from a
	// relation with a parameter that has no enumerable value set.
	ErrUnconstrained = foundation.ValidationError("relation has unconstrained parameters").Build()

	// ErrNoTransform is returned by Transform when the output glob has a
	// wildcard that no input wildcard can feed.
	ErrNoTransform = foundation.ConfigError("glob transform impossible").Build()
)

// SyntaxError reports text that is not a valid glob.
type SyntaxError struct {
	Glob string
}

func (e *SyntaxError) Error() string { return "malformed glob: " + e.Glob }

// Unwrap exposes the classified configuration error so callers can route on
// the category.
func (e *SyntaxError) Unwrap() error { return errMalformed }

func syntaxError(text string) error { return &SyntaxError{Glob: text} }
