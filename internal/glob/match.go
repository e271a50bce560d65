package glob

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Separator classes for the two regex flavours: matching accepts either
// slash, transforms only see normalized paths.
const (
	matchSeparators     = `/\\`
	transformSeparators = `/`
)

// compiled is a regular expression shared between patterns that render to
// the same source.
type compiled struct {
	re *regexp.Regexp
}

// Plans are re-parsed on every reload and every solution substitutes fresh
// patterns, so compiled expressions are cached by source.
var regexCache, _ = lru.New[string, *compiled](2048)

func compile(src string) (*compiled, error) {
	if c, ok := regexCache.Get(src); ok {
		return c, nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	c := &compiled{re: re}
	regexCache.Add(src, c)
	return c, nil
}

// Match reports whether path matches the pattern. Either "/" or "\" is
// accepted as a separator.
func (p *Pattern) Match(path string) bool {
	return p.MatchBindings(path, nil)
}

// MatchBindings is like Match but also binds named wildcards.
//
// When bindings is non-nil, holes already present in it must match the
// bound text exactly, and on success any newly bound holes are added. A hole
// that appears twice must consume identical text both times. Bound values use
// "/" as the separator.
func (p *Pattern) MatchBindings(path string, bindings map[string]string) bool {
	c, err := p.matcher()
	if err != nil {
		return false
	}
	if !p.named {
		return c.re.MatchString(path)
	}
	groups := c.re.FindStringSubmatch(path)
	if groups == nil {
		return false
	}
	var fresh map[string]string
	for h, name := range p.holes {
		if name == "" {
			continue
		}
		value := strings.ReplaceAll(groups[h+1], `\`, "/")
		if bound, ok := bindings[name]; ok {
			if bound != value {
				return false
			}
			continue
		}
		if fresh == nil {
			fresh = make(map[string]string, len(p.holes))
		}
		if prev, ok := fresh[name]; ok && prev != value {
			return false
		}
		fresh[name] = value
	}
	if bindings != nil {
		for k, v := range fresh {
			bindings[k] = v
		}
	}
	return true
}

func (p *Pattern) matcher() (*compiled, error) {
	p.once.Do(func() {
		var sb strings.Builder
		sb.WriteString(`(?s)^(?:`)
		p.writeRegex(&sb, matchSeparators, p.named)
		sb.WriteString(`)$`)
		p.re, p.reErr = compile(sb.String())
	})
	return p.re, p.reErr
}

// writeRegex appends a regular expression equivalent to the pattern. With
// capture set, every wildcard contributes exactly one group, in order.
func (p *Pattern) writeRegex(sb *strings.Builder, seps string, capture bool) {
	sep := "[" + seps + "]"
	notSep := "[^" + seps + "]*"
	n := len(p.parts)
	for i := 0; i < n; i++ {
		part := p.parts[i]
		switch {
		case part == "**":
			if i+1 < n && p.parts[i+1] == "/" {
				// foo/**/bar matches foo/bar.
				if capture {
					sb.WriteString("(?:(.+)" + sep + ")?")
				} else {
					sb.WriteString("(?:.+" + sep + ")?")
				}
				i++
			} else if capture {
				sb.WriteString("(.*)")
			} else {
				sb.WriteString(".*")
			}
		case part == "*":
			if capture {
				sb.WriteString("(" + notSep + ")")
			} else {
				sb.WriteString(notSep)
			}
		case part == "/":
			if i+2 == n && isWildcard(p.parts[i+1]) {
				// foo/* and foo/** match foo.
				body := notSep
				if p.parts[i+1] == "**" {
					body = ".*"
				}
				if capture {
					body = "(" + body + ")"
				}
				sb.WriteString("(?:" + sep + body + ")?")
				i++
				continue
			}
			sb.WriteString(sep)
			if i+1 == n {
				// foo/ matches foo.
				sb.WriteString("?")
			}
		default:
			sb.WriteString(regexp.QuoteMeta(part))
		}
	}
}

// Regexp returns a regular expression matching any path matched by one of
// the globs.
func Regexp(globs []*Pattern) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`(?s)^(?:`)
	for i, g := range globs {
		if i > 0 {
			sb.WriteByte('|')
		}
		g.writeRegex(&sb, matchSeparators, false)
	}
	if len(globs) == 0 {
		// Matches nothing.
		sb.WriteString(`[^\x00-\x{10FFFF}]`)
	}
	sb.WriteString(`)$`)
	c, err := compile(sb.String())
	if err != nil {
		return nil, err
	}
	return c.re, nil
}
