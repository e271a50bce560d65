package glob

import (
	"fmt"
	"slices"
	"strings"
)

// Transform returns a function mapping paths matched by in to paths matched
// by out, pairing wildcards from the right. For in "src/**/*.c" and out
// "lib/**/*.o" it maps "src/foo/bar.c" to "lib/foo/bar.o". The function
// reports false for paths that in does not match.
//
// Input wildcards without an output counterpart are dropped from the left,
// since the tail of a path is the more significant part: "*/*.foo" to
// "*.bar" maps "x/y.foo" to "y.bar".
func Transform(in, out *Pattern) (func(path string) (string, bool), error) {
	m, n := len(in.parts), len(out.parts)
	var (
		literals        []string
		precededBySlash []bool
		followedBySlash []bool
	)
	pos := n
	j := m
	for i := n - 1; i >= 0; i-- {
		outPart := out.parts[i]
		if !isWildcard(outPart) {
			continue
		}
		inPart := ""
		for j--; j >= 0; j-- {
			if isWildcard(in.parts[j]) {
				inPart = in.parts[j]
				break
			}
		}
		if inPart == "" {
			return nil, fmt.Errorf("%w: no wildcard in %s feeds %s", ErrNoTransform, in,
				strings.Join(out.parts[:i+1], ""))
		}
		if inPart == "**" && outPart == "*" {
			return nil, fmt.Errorf("%w: %s in %s cannot feed the * at the end of %s", ErrNoTransform,
				inPart, in, strings.Join(out.parts[:i+1], ""))
		}
		k := i + 1
		if k < pos && out.parts[k] == "/" {
			k++
		}
		literals = append(literals, strings.Join(out.parts[k:pos], ""))
		pos = i
		before := i > 0 && out.parts[i-1] == "/"
		if before {
			pos--
		}
		precededBySlash = append(precededBySlash, before)
		followedBySlash = append(followedBySlash, i+1 < n && out.parts[i+1] == "/")
	}
	literals = append(literals, strings.Join(out.parts[:max(pos, 0)], ""))
	slices.Reverse(literals)
	slices.Reverse(precededBySlash)
	slices.Reverse(followedBySlash)

	unused := 0
	for j--; j >= 0; j-- {
		if isWildcard(in.parts[j]) {
			unused++
		}
	}

	var sb strings.Builder
	sb.WriteString(`(?s)^(?:`)
	in.writeRegex(&sb, transformSeparators, true)
	sb.WriteString(`)$`)
	c, err := compile(sb.String())
	if err != nil {
		return nil, err
	}

	subs := len(literals) - 1
	return func(path string) (string, bool) {
		groups := c.re.FindStringSubmatch(path)
		if groups == nil {
			return "", false
		}
		var out strings.Builder
		out.WriteString(literals[0])
		needSlash := false
		for s := 1; s <= subs; s++ {
			if precededBySlash[s-1] {
				needSlash = true
			}
			if group := groups[s+unused]; group != "" {
				if needSlash {
					out.WriteByte('/')
					needSlash = false
				}
				out.WriteString(group)
				if followedBySlash[s-1] {
					needSlash = true
				}
			}
			if lit := literals[s]; lit != "" {
				if needSlash {
					out.WriteByte('/')
					needSlash = false
				}
				out.WriteString(lit)
			}
		}
		return out.String(), true
	}, nil
}
