package glob

import (
	"slices"
	"strings"
)

// Set is a collection of patterns indexed for fast "which patterns match
// this path" queries.
//
// Patterns live in a trie keyed by their leading literal segments, and
// within a node they are bucketed by the extension of their last literal
// part. Wildcard-terminated patterns go in the "" bucket, which is checked
// for every path. A Set is not safe for concurrent mutation.
type Set struct {
	root  *trieNode
	order []*Pattern
}

type trieNode struct {
	segment  string
	parent   *trieNode
	children map[string]*trieNode
	byExt    map[string][]*Pattern
}

func newTrieNode(segment string, parent *trieNode) *trieNode {
	t := &trieNode{
		segment:  segment,
		parent:   parent,
		children: make(map[string]*trieNode),
		byExt:    make(map[string][]*Pattern),
	}
	if parent != nil {
		parent.children[segment] = t
	}
	return t
}

func (t *trieNode) empty() bool { return len(t.byExt) == 0 && len(t.children) == 0 }

// NewSet returns a set holding the given patterns.
func NewSet(patterns ...*Pattern) *Set {
	s := &Set{root: newTrieNode("", nil)}
	for _, p := range patterns {
		s.Add(p)
	}
	return s
}

func (s *Set) lookup(p *Pattern, create bool) *trieNode {
	t := s.root
	for _, part := range p.parts {
		if part == "/" {
			continue
		}
		if isWildcard(part) {
			break
		}
		child, ok := t.children[part]
		if !ok {
			if !create {
				break
			}
			child = newTrieNode(part, t)
		}
		t = child
	}
	return t
}

// Add inserts p and reports whether the set changed.
func (s *Set) Add(p *Pattern) bool {
	t := s.lookup(p, true)
	ext := patternExtension(p)
	if slices.ContainsFunc(t.byExt[ext], p.Equal) {
		return false
	}
	t.byExt[ext] = append(t.byExt[ext], p)
	s.order = append(s.order, p)
	return true
}

// Remove deletes p, pruning emptied trie nodes, and reports whether the set
// changed.
func (s *Set) Remove(p *Pattern) bool {
	t := s.lookup(p, false)
	ext := patternExtension(p)
	bucket := t.byExt[ext]
	idx := slices.IndexFunc(bucket, p.Equal)
	if idx < 0 {
		return false
	}
	bucket = slices.Delete(bucket, idx, idx+1)
	if len(bucket) == 0 {
		delete(t.byExt, ext)
	} else {
		t.byExt[ext] = bucket
	}
	for ; t.parent != nil && t.empty(); t = t.parent {
		delete(t.parent.children, t.segment)
	}
	s.order = slices.DeleteFunc(s.order, p.Equal)
	return true
}

// Contains reports whether an equal pattern is in the set.
func (s *Set) Contains(p *Pattern) bool {
	return slices.ContainsFunc(s.order, p.Equal)
}

// Len returns the number of patterns.
func (s *Set) Len() int { return len(s.order) }

// Patterns returns the patterns in insertion order.
func (s *Set) Patterns() []*Pattern { return slices.Clone(s.order) }

// Matching returns every pattern that matches path.
func (s *Set) Matching(path string) []*Pattern {
	var out []*Pattern
	s.visit(path, func(p *Pattern) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Matches reports whether any pattern matches path.
func (s *Set) Matches(path string) bool {
	found := false
	s.visit(path, func(*Pattern) bool {
		found = true
		return false
	})
	return found
}

// visit descends the trie along path's segments as far as nodes exist, then
// walks back up testing only the path's own extension bucket and the ""
// bucket at each node.
func (s *Set) visit(path string, fn func(*Pattern) bool) {
	norm := strings.ReplaceAll(path, `\`, "/")
	t := s.root
	for _, seg := range strings.Split(norm, "/") {
		if seg == "" {
			continue
		}
		child, ok := t.children[seg]
		if !ok {
			break
		}
		t = child
	}
	ext := pathExtension(norm)
	for ; t != nil; t = t.parent {
		if ext != "" {
			for _, p := range t.byExt[ext] {
				if p.Match(path) && !fn(p) {
					return
				}
			}
		}
		for _, p := range t.byExt[""] {
			if p.Match(path) && !fn(p) {
				return
			}
		}
	}
}

// GroupedByPrefix maps each literal directory prefix to the patterns rooted
// there, so a walker only needs to descend into those directories.
func (s *Set) GroupedByPrefix() map[string][]*Pattern {
	out := make(map[string][]*Pattern)
	var walk func(t *trieNode, prefix string)
	walk = func(t *trieNode, prefix string) {
		for _, bucket := range t.byExt {
			out[prefix] = append(out[prefix], bucket...)
		}
		for seg, child := range t.children {
			next := seg
			if prefix != "" {
				next = prefix + "/" + seg
			}
			walk(child, next)
		}
	}
	walk(s.root, "")
	for k := range out {
		slices.SortFunc(out[k], (*Pattern).Compare)
	}
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set { return NewSet(s.order...) }

func patternExtension(p *Pattern) string {
	if len(p.parts) == 0 {
		return ""
	}
	last := p.parts[len(p.parts)-1]
	if isWildcard(last) {
		return ""
	}
	return extension(last)
}

func pathExtension(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return extension(path)
}

func extension(s string) string {
	if dot := strings.LastIndexByte(s, '.'); dot >= 0 {
		return s[dot:]
	}
	return ""
}
