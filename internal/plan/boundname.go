package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strings"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
)

var dottedIdent = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// BoundName names a product, or an instance of a parameterized product:
// `cc` or `cc["arch":"x86","os":"linux"]`. Keys are kept sorted, so equal
// names have equal text and a BoundName can be used as a map key.
type BoundName struct {
	ident string
	text  string
}

// ParseBoundName parses the canonical text form of a name.
func ParseBoundName(s string) (BoundName, error) {
	ident, rest, hasBindings := strings.Cut(s, "[")
	if !hasBindings {
		return NewBoundName(ident, nil)
	}
	if !strings.HasSuffix(rest, "]") {
		return BoundName{}, malformedName(s, nil)
	}
	bindings, err := parseBindings(rest[:len(rest)-1])
	if err != nil {
		return BoundName{}, malformedName(s, err)
	}
	return NewBoundName(ident, bindings)
}

// MustParseBoundName is ParseBoundName for names known to be well formed.
func MustParseBoundName(s string) BoundName {
	n, err := ParseBoundName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// parseBindings reads a `"k":"v",...` list. A key may repeat only with the
// same value.
func parseBindings(inner string) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader("{" + inner + "}"))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	bindings := map[string]string{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		var v string
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		k := kt.(string)
		if prev, ok := bindings[k]; ok && prev != v {
			return nil, fmt.Errorf("conflicting values for %q", k)
		}
		bindings[k] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing content after bindings")
	}
	return bindings, nil
}

// NewBoundName builds a name from an identifier and its bindings.
func NewBoundName(ident string, bindings map[string]string) (BoundName, error) {
	if !dottedIdent.MatchString(ident) {
		return BoundName{}, foundation.ConfigError("invalid product identifier").WithContext("ident", ident).Build()
	}
	if len(bindings) == 0 {
		return BoundName{ident: ident, text: ident}, nil
	}
	var sb strings.Builder
	sb.WriteString(ident)
	sep := byte('[')
	for _, k := range slices.Sorted(maps.Keys(bindings)) {
		sb.WriteByte(sep)
		sep = ','
		writeQuoted(&sb, k)
		sb.WriteByte(':')
		writeQuoted(&sb, bindings[k])
	}
	sb.WriteByte(']')
	return BoundName{ident: ident, text: sb.String()}, nil
}

func writeQuoted(sb *strings.Builder, s string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	sb.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func malformedName(s string, cause error) error {
	return foundation.ConfigError("malformed product name").WithCause(cause).WithContext("name", s).Build()
}

// String returns the canonical text.
func (n BoundName) String() string { return n.text }

// Ident returns the name without bindings.
func (n BoundName) Ident() string { return n.ident }

// Unbound returns the name of the parameterized product n instantiates, or
// n itself when it has no bindings.
func (n BoundName) Unbound() BoundName { return BoundName{ident: n.ident, text: n.ident} }

// IsZero reports whether n is the zero value.
func (n BoundName) IsZero() bool { return n.text == "" }

// HasBindings reports whether n names an instance of a parameterized product.
func (n BoundName) HasBindings() bool { return n.text != n.ident }

// Bindings returns a fresh copy of the parameter bindings.
func (n BoundName) Bindings() map[string]string {
	if !n.HasBindings() {
		return map[string]string{}
	}
	b, err := parseBindings(n.text[len(n.ident)+1 : len(n.text)-1])
	if err != nil {
		panic(fmt.Sprintf("canonical name %s does not parse: %v", n.text, err))
	}
	return b
}

// WithBindings returns the name of the same identifier with the given
// bindings, replacing any it had.
func (n BoundName) WithBindings(bindings map[string]string) BoundName {
	out, err := NewBoundName(n.ident, bindings)
	if err != nil {
		panic(err)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (n BoundName) MarshalText() ([]byte, error) { return []byte(n.text), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *BoundName) UnmarshalText(b []byte) error {
	parsed, err := ParseBoundName(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
