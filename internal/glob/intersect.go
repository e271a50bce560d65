package glob

import "strings"

// strategy is one way to advance the intersection cursors when at least one
// of the current parts is a wildcard.
type strategy struct {
	advanceA, advanceB int
	// out is the side whose part is emitted: 0 for a, 1 for b, -1 for none.
	out int
	// check is the side whose part disqualifies the strategy when it is a
	// separator: 0 for a, 1 for b, -1 for none. A "*" may never consume "/".
	check int
}

// Part kinds used to index the strategy table.
const (
	kindLiteral = 0
	kindStar    = 1
	kindStars   = 2
)

// strategies is indexed by kind(a) | kind(b)<<2. Every entry advances at
// least one cursor, which bounds the recursion depth by the total part count.
var strategies = [11][]strategy{
	nil, // literal, literal: compared directly
	{ // *, literal
		{advanceA: 0, advanceB: 1, out: 1, check: 1},
		{advanceA: 1, advanceB: 0, out: -1, check: -1},
	},
	{ // **, literal
		{advanceA: 0, advanceB: 1, out: 1, check: -1},
		{advanceA: 1, advanceB: 0, out: -1, check: -1},
	},
	nil,
	{ // literal, *
		{advanceA: 1, advanceB: 0, out: 0, check: 0},
		{advanceA: 0, advanceB: 1, out: -1, check: -1},
	},
	{ // *, *
		{advanceA: 0, advanceB: 1, out: 0, check: -1},
		{advanceA: 1, advanceB: 0, out: 0, check: -1},
		{advanceA: 1, advanceB: 1, out: 0, check: -1},
	},
	{ // **, *
		{advanceA: 0, advanceB: 1, out: 1, check: -1},
		{advanceA: 1, advanceB: 1, out: 1, check: -1},
	},
	nil,
	{ // literal, **
		{advanceA: 1, advanceB: 0, out: 0, check: -1},
		{advanceA: 0, advanceB: 1, out: -1, check: -1},
	},
	{ // *, **
		{advanceA: 1, advanceB: 0, out: 0, check: -1},
		{advanceA: 1, advanceB: 1, out: 0, check: -1},
	},
	{ // **, **
		{advanceA: 0, advanceB: 1, out: 0, check: -1},
		{advanceA: 1, advanceB: 0, out: 0, check: -1},
		{advanceA: 1, advanceB: 1, out: 0, check: -1},
	},
}

func kindOf(part string) int {
	switch part {
	case "*":
		return kindStar
	case "**":
		return kindStars
	default:
		return kindLiteral
	}
}

// Intersection returns a glob that matches only paths matched by both a and
// b, or nil when no such path exists. The result carries no hole names.
func Intersection(a, b *Pattern) *Pattern {
	if differentSuffixes(a.parts, b.parts) {
		return nil
	}
	in := intersector{p: a.parts, q: b.parts}
	reversed, ok := in.inter(0, false, 0, false)
	if !ok {
		return nil
	}
	parts := make([]string, len(reversed))
	for i, part := range reversed {
		parts[len(reversed)-1-i] = part
	}
	return fromParts(min(a.treeRoot, b.treeRoot), parts)
}

// Overlaps reports whether some path is matched by a glob in as and by a glob
// in bs.
func Overlaps(as, bs []*Pattern) bool {
	for _, a := range as {
		for _, b := range bs {
			if differentSuffixes(a.parts, b.parts) {
				continue
			}
			in := intersector{p: a.parts, q: b.parts}
			if _, ok := in.inter(0, false, 0, false); ok {
				return true
			}
		}
	}
	return false
}

// differentSuffixes is an early out for the common foo/*.x versus foo/*.y
// case, which is the recursion's worst case.
func differentSuffixes(p, q []string) bool {
	if len(p) == 0 || len(q) == 0 {
		return false
	}
	pend, qend := p[len(p)-1], q[len(q)-1]
	if isWildcard(pend) || isWildcard(qend) || pend == "/" || qend == "/" {
		return false
	}
	if len(pend) > len(qend) {
		return !strings.HasSuffix(pend, qend)
	}
	return !strings.HasSuffix(qend, pend)
}

type intersector struct {
	p, q []string
}

// inter intersects p[i:] with q[j:]. A suffix flag means the preceding part
// on that side was a wildcard, so the current literal may be the tail of a
// longer literal on the other side. Output parts are returned in reverse.
//
// When pairing the current parts fails, a run that can match the empty
// string ("**/" or a trailing "/", "/*", "/**") is skipped on either side.
// A "**" that has already consumed part of the other side is never skipped.
func (in *intersector) inter(i int, isuffix bool, j int, jsuffix bool) ([]string, bool) {
	if out, ok := in.pair(i, isuffix, j, jsuffix); ok {
		return out, true
	}
	if n := emptyRun(in.p, i, isuffix); n > 0 {
		if out, ok := in.inter(i+n, isuffix, j, jsuffix); ok {
			return out, true
		}
	}
	if n := emptyRun(in.q, j, jsuffix); n > 0 {
		return in.inter(i, isuffix, j+n, jsuffix)
	}
	return nil, false
}

// emptyRun returns the number of parts starting at i that together may
// match nothing, mirroring the optional groups the matcher emits.
func emptyRun(parts []string, i int, suffix bool) int {
	n := len(parts)
	switch {
	case i >= n:
		return 0
	case parts[i] == "**" && !suffix && i+1 < n && parts[i+1] == "/":
		return 2
	case parts[i] == "/" && i+1 == n:
		return 1
	case parts[i] == "/" && i+2 == n && isWildcard(parts[i+1]):
		return 2
	}
	return 0
}

func (in *intersector) pair(i int, isuffix bool, j int, jsuffix bool) ([]string, bool) {
	var a, b string
	if i < len(in.p) {
		a = in.p[i]
	}
	if j < len(in.q) {
		b = in.q[j]
	} else if a == "" {
		return make([]string, 0, i+j), true
	}

	idx := 0
	if isWildcard(a) {
		if b == "" {
			return in.inter(i+1, true, j, jsuffix)
		}
		idx |= kindOf(a)
	}
	if isWildcard(b) {
		if a == "" {
			return in.inter(i, isuffix, j+1, true)
		}
		idx |= kindOf(b) << 2
	}

	if idx == 0 {
		match, ok := literalMatch(a, isuffix, b, jsuffix)
		if !ok {
			return nil, false
		}
		out, ok := in.inter(i+1, false, j+1, false)
		if ok {
			out = append(out, match)
		}
		return out, ok
	}

	for _, s := range strategies[idx] {
		if (s.check == 0 && a == "/") || (s.check == 1 && b == "/") {
			continue
		}
		out, ok := in.inter(i+s.advanceA, isWildcard(a), j+s.advanceB, isWildcard(b))
		if !ok {
			continue
		}
		switch s.out {
		case 0:
			out = append(out, a)
		case 1:
			out = append(out, b)
		}
		return out, true
	}
	return nil, false
}

// literalMatch compares two literal parts. Under a suffix flag the literal on
// that side may be the tail of the other; the longer literal is emitted.
// Separators only ever match separators.
func literalMatch(a string, isuffix bool, b string, jsuffix bool) (string, bool) {
	if a == "/" || b == "/" {
		return a, a == b
	}
	switch {
	case isuffix && jsuffix:
		if len(a) >= len(b) {
			return a, strings.HasSuffix(a, b)
		}
		return b, strings.HasSuffix(b, a)
	case isuffix:
		return b, strings.HasSuffix(b, a)
	case jsuffix:
		return a, strings.HasSuffix(a, b)
	default:
		return a, a == b
	}
}

// fromParts builds a hole-free pattern directly from parts.
func fromParts(treeRoot int, parts []string) *Pattern {
	p := &Pattern{treeRoot: treeRoot, parts: parts}
	for _, part := range parts {
		if isWildcard(part) {
			p.holes = append(p.holes, "")
		}
	}
	if treeRoot >= len(parts) || (treeRoot != 0 && parts[treeRoot] != "/") {
		p.treeRoot = 0
	}
	p.text = p.render()
	return p
}
