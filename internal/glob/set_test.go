package glob

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	setGlobs = []string{
		"foo/*", "foo/**", "foo/*.txt", "**/*.txt", "foo/bar/baz.txt", "*.c",
		"**", "foo/**/baz", "bar/*(x).c", "/abs/*", "src///org/**.java", "foo/bar/",
	}
	setPaths = []string{
		"foo", "foo/a.txt", "foo/bar/baz.txt", "x.c", "bar/y.c", "foo/baz",
		"foo/q/baz", "/abs/k", "src/org/a/B.java", "other", `foo\bar\baz.txt`, "foo/bar",
	}
)

func matchingStrings(s *Set, path string) []string {
	out := patternStrings(s.Matching(path))
	slices.Sort(out)
	return out
}

func bruteForce(globs []*Pattern, path string) []string {
	var out []string
	for _, g := range globs {
		if g.Match(path) {
			out = append(out, g.String())
		}
	}
	slices.Sort(out)
	return out
}

func TestSetMatchingAgreesWithEachPattern(t *testing.T) {
	globs, err := ParseAll(setGlobs...)
	require.NoError(t, err)
	s := NewSet(globs...)
	require.Equal(t, len(globs), s.Len())
	for _, path := range setPaths {
		want := bruteForce(globs, path)
		assert.Equal(t, want, matchingStrings(s, path), path)
		assert.Equal(t, len(want) > 0, s.Matches(path), path)
	}
}

func TestSetIsIndependentOfInsertionOrder(t *testing.T) {
	globs, err := ParseAll(setGlobs...)
	require.NoError(t, err)
	ref := NewSet(globs...)
	rng := rand.New(rand.NewSource(7))
	for range 5 {
		shuffled := slices.Clone(globs)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		s := NewSet(shuffled...)
		for _, path := range setPaths {
			assert.Equal(t, matchingStrings(ref, path), matchingStrings(s, path), path)
		}
	}
}

func TestSetAddRemove(t *testing.T) {
	s := NewSet()
	txt := MustParse("foo/*.txt")
	assert.True(t, s.Add(txt))
	assert.False(t, s.Add(MustParse("foo/*.txt")), "adding an equal pattern is a no-op")
	assert.True(t, s.Contains(MustParse("foo/*.txt")))
	assert.True(t, s.Matches("foo/a.txt"))

	assert.True(t, s.Add(MustParse("foo/bar/*")))
	assert.Equal(t, []string{"foo/*.txt", "foo/bar/*"}, patternStrings(s.Patterns()))

	assert.True(t, s.Remove(MustParse("foo/*.txt")))
	assert.False(t, s.Remove(txt))
	assert.False(t, s.Matches("foo/a.txt"))
	assert.True(t, s.Matches("foo/bar/x"))

	assert.True(t, s.Remove(MustParse("foo/bar/*")))
	assert.Zero(t, s.Len())
	assert.True(t, s.root.empty(), "emptied trie nodes should be pruned")
	assert.False(t, s.Remove(MustParse("never/added")))
}

func TestSetClone(t *testing.T) {
	s := NewSet(MustParse("a/*"), MustParse("b/*"))
	c := s.Clone()
	c.Remove(MustParse("a/*"))
	assert.True(t, s.Matches("a/x"))
	assert.False(t, c.Matches("a/x"))
}

func TestGroupedByPrefix(t *testing.T) {
	s := NewSet(
		MustParse("foo/lib/bar/*.lib"),
		MustParse("foo/lib/**.o"),
		MustParse("foo/bin/*.a"),
		MustParse("**.so"),
	)
	got := map[string][]string{}
	for prefix, globs := range s.GroupedByPrefix() {
		got[prefix] = patternStrings(globs)
	}
	assert.Equal(t, map[string][]string{
		"":            {"**.so"},
		"foo/lib/bar": {"foo/lib/bar/*.lib"},
		"foo/lib":     {"foo/lib/**.o"},
		"foo/bin":     {"foo/bin/*.a"},
	}, got)
}
