package glob

import (
	"fmt"
	"regexp"
	"strings"
)

var braceGroup = regexp.MustCompile(`\{([^,}]*,[^}]*)\}`)

// Expand performs shell-style expansion of "{a,b}" groups and parses each
// result, so "foo/**.{html,js}" yields [foo/**.html foo/**.js]. Groups
// without a comma are literal text.
func Expand(text string) ([]*Pattern, error) {
	locs := braceGroup.FindAllStringSubmatchIndex(text, -1)
	if locs == nil {
		p, err := Parse(Normalize(text))
		if err != nil {
			return nil, err
		}
		return []*Pattern{p}, nil
	}

	lits := make([]string, 0, len(locs)+1)
	options := make([][]string, 0, len(locs))
	pos := 0
	for _, loc := range locs {
		lits = append(lits, text[pos:loc[0]])
		options = append(options, strings.Split(text[loc[2]:loc[3]], ","))
		pos = loc[1]
	}
	lits = append(lits, text[pos:])

	var out []*Pattern
	var expand func(i int, prefix string) error
	expand = func(i int, prefix string) error {
		prefix += lits[i]
		if i == len(options) {
			p, err := Parse(Normalize(prefix))
			if err != nil {
				return fmt.Errorf("%w (expanded from %q)", err, text)
			}
			out = append(out, p)
			return nil
		}
		for _, opt := range options[i] {
			if err := expand(i+1, prefix+opt); err != nil {
				return err
			}
		}
		return nil
	}
	if err := expand(0, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// ExpandAll expands every text in order.
func ExpandAll(texts []string) ([]*Pattern, error) {
	var out []*Pattern
	for _, t := range texts {
		ps, err := Expand(t)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// Normalize folds doubled separators left by lazy concatenation and drops a
// trailing separator. A tripled separator is a tree root marker and is kept.
func Normalize(text string) string {
	var sb strings.Builder
	n := len(text)
	pos := 0
	folded := false
	for i := 0; i < n; i++ {
		if text[i] != '/' {
			continue
		}
		end := i + 1
		for end < n && text[end] == '/' {
			end++
		}
		if end-i == 2 {
			sb.WriteString(text[pos : i+1])
			pos = end
			folded = true
		}
		i = end - 1
	}
	if folded {
		sb.WriteString(text[pos:])
		text = sb.String()
	}
	if n := len(text); n > 1 && text[n-1] == '/' {
		text = text[:n-1]
	}
	return text
}
