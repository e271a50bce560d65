package glob

import (
	"path/filepath"
	"strings"
	"sync"
)

// Pattern is an immutable parsed glob.
type Pattern struct {
	// Index of the "/" part that follows the tree root, or 0 when the glob
	// has no tree root.
	treeRoot int
	parts    []string
	// One entry per wildcard part, "" for anonymous wildcards.
	holes []string
	named bool
	text  string

	once  sync.Once
	re    *compiled
	reErr error
}

// Parse converts text into a Pattern.
//
// Text is rejected when it contains a whole "." or ".." segment, three or
// more adjacent "*", a "*" that follows a literal in the same segment, or a
// doubled "/". A tripled "/" marks the tree root and may appear at most once,
// before any wildcard.
func Parse(text string) (*Pattern, error) {
	n := len(text)
	partCount, treeRoot, nHoles := 0, 0, 0
	for i := 0; i < n; i++ {
		partCount++
		switch text[i] {
		case '*':
			if i+1 < n && text[i+1] == '*' {
				i++
				if i+1 < n && text[i+1] == '*' {
					return nil, syntaxError(text)
				}
			}
			if i+1 < n && text[i+1] == '(' {
				end := strings.IndexByte(text[i+2:], ')')
				if end < 0 {
					return nil, syntaxError(text)
				}
				i += 2 + end
			}
			nHoles++
		case '/':
			start := i
			for i+1 < n && text[i+1] == '/' {
				i++
			}
			switch i - start {
			case 0:
			case 2:
				if treeRoot != 0 || nHoles != 0 || partCount == 1 {
					return nil, syntaxError(text)
				}
				treeRoot = partCount - 1
			default:
				return nil, syntaxError(text)
			}
		default:
			for i+1 < n && text[i+1] != '/' {
				if text[i+1] == '*' {
					return nil, syntaxError(text)
				}
				i++
			}
		}
	}

	p := &Pattern{
		treeRoot: treeRoot,
		parts:    make([]string, 0, partCount),
		holes:    make([]string, 0, nHoles),
	}
	for i := 0; i < n; i++ {
		start := i
		switch text[i] {
		case '*':
			part := "*"
			if i+1 < n && text[i+1] == '*' {
				i++
				part = "**"
			}
			name := ""
			if i+1 < n && text[i+1] == '(' {
				end := i + 2 + strings.IndexByte(text[i+2:], ')')
				name = text[i+2 : end]
				if !validHoleName(name) {
					return nil, syntaxError(text)
				}
				p.named = true
				i = end
			}
			p.parts = append(p.parts, part)
			p.holes = append(p.holes, name)
		case '/':
			if treeRoot != 0 && len(p.parts) == treeRoot {
				i += 2
			}
			p.parts = append(p.parts, "/")
		default:
			for i+1 < n && text[i+1] != '/' {
				i++
			}
			part := text[start : i+1]
			if part == "." || part == ".." {
				return nil, syntaxError(text)
			}
			p.parts = append(p.parts, part)
		}
	}
	p.text = p.render()
	return p, nil
}

// MustParse is like Parse but panics on malformed text. It is meant for
// package-level patterns and tests.
func MustParse(text string) *Pattern {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseAll parses each text in order.
func ParseAll(texts ...string) ([]*Pattern, error) {
	out := make([]*Pattern, 0, len(texts))
	for _, t := range texts {
		p, err := Parse(t)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// validHoleName accepts dotted identifiers such as "x" or "os.arch".
func validHoleName(name string) bool {
	if name == "" {
		return false
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" {
			return false
		}
		for i, r := range seg {
			switch {
			case r == '_' || r == '$':
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case i > 0 && r >= '0' && r <= '9':
			default:
				return false
			}
		}
	}
	return true
}

func isWildcard(part string) bool { return part != "" && part[0] == '*' }

func (p *Pattern) render() string {
	var sb strings.Builder
	if p.treeRoot != 0 {
		for _, part := range p.parts[:p.treeRoot] {
			sb.WriteString(part)
		}
		sb.WriteString("//")
	}
	h := 0
	for i, part := range p.parts {
		if isWildcard(part) {
			if i >= p.treeRoot {
				sb.WriteString(part)
				if name := p.holes[h]; name != "" {
					sb.WriteByte('(')
					sb.WriteString(name)
					sb.WriteByte(')')
				}
			}
			h++
			continue
		}
		if i >= p.treeRoot {
			sb.WriteString(part)
		}
	}
	return sb.String()
}

// String returns text that parses back to an equal pattern.
func (p *Pattern) String() string { return p.text }

// Parts returns a copy of the pattern's parts.
func (p *Pattern) Parts() []string { return append([]string(nil), p.parts...) }

// Equal reports whether both patterns have the same source text.
func (p *Pattern) Equal(o *Pattern) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.text == o.text
}

// Compare orders patterns lexicographically over their parts.
func (p *Pattern) Compare(o *Pattern) int {
	for i := 0; i < len(p.parts) && i < len(o.parts); i++ {
		if c := strings.Compare(p.parts[i], o.parts[i]); c != 0 {
			return c
		}
	}
	return len(p.parts) - len(o.parts)
}

// TreeRoot returns the prefix that precedes the "///" marker, or "".
func (p *Pattern) TreeRoot() string {
	if p.treeRoot == 0 {
		return ""
	}
	return strings.Join(p.parts[:p.treeRoot], "")
}

// HoleNames returns the names of the pattern's named wildcards in order of
// first appearance.
func (p *Pattern) HoleNames() []string {
	if !p.named {
		return nil
	}
	seen := make(map[string]struct{}, len(p.holes))
	var out []string
	for _, h := range p.holes {
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// HasHoles reports whether any wildcard is named.
func (p *Pattern) HasHoles() bool { return p.named }

// Subst replaces named wildcards with their bound values. Unbound holes are
// dropped along with the separator that would have joined them. The result
// has no tree root.
func (p *Pattern) Subst(bindings map[string]string) (*Pattern, error) {
	if !p.named {
		return p, nil
	}
	var sb strings.Builder
	h := 0
	pendingSep := false
	for i, part := range p.parts {
		switch {
		case part == "/":
			// "/foo" keeps its leading separator, "*(a)/foo" with a blank
			// does not.
			pendingSep = i == 0 || sb.Len() != 0
		case isWildcard(part) && p.holes[h] != "":
			value := bindings[p.holes[h]]
			h++
			if value == "" {
				continue
			}
			if pendingSep {
				if !strings.HasPrefix(value, "/") {
					sb.WriteByte('/')
				}
				pendingSep = false
			}
			if strings.HasSuffix(value, "/") {
				pendingSep = true
				value = value[:len(value)-1]
			}
			sb.WriteString(value)
		default:
			if isWildcard(part) {
				h++
			}
			if pendingSep {
				sb.WriteByte('/')
				pendingSep = false
			}
			sb.WriteString(part)
		}
	}
	if pendingSep && sb.Len() == 0 {
		return Parse("/")
	}
	return Parse(sb.String())
}

// PathContainingAllMatches returns the most specific directory under base
// that is an ancestor of every path the pattern matches.
func (p *Pattern) PathContainingAllMatches(base string) string {
	n := len(p.parts)
	end := 0
	for end < n && !isWildcard(p.parts[end]) {
		end++
	}
	if end == 0 {
		return base
	}
	start := 0
	if p.parts[0] == "/" {
		base = string(filepath.Separator)
		start = 1
	}
	if end > start && p.parts[end-1] == "/" {
		end--
	} else if end == n {
		// Without wildcards the last part may name a file.
		end--
	}
	if end <= start {
		return base
	}
	return filepath.Join(base, filepath.FromSlash(strings.Join(p.parts[start:end], "")))
}

// CommonPrefix returns a literal prefix shared by every glob that is also
// an ancestor, not necessarily strict, of every path they match.
func CommonPrefix(globs []*Pattern) string {
	if len(globs) == 0 {
		return ""
	}
	first := globs[0]
	n := 0
	for n < len(first.parts) && !isWildcard(first.parts[n]) {
		n++
	}
	for _, g := range globs[1:] {
		if n == 0 {
			break
		}
		if len(g.parts) < n {
			n = len(g.parts)
		}
		for i := 0; i < n; i++ {
			if g.parts[i] != first.parts[i] {
				n = i
				break
			}
		}
	}
	return strings.Join(first.parts[:n], "")
}
