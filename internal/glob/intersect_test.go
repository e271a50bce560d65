package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersection(t *testing.T) {
	cases := []struct {
		a, b string
		want []string // nil means disjoint
	}{
		{"*", "*", []string{"*"}},
		{"**", "**", []string{"**"}},
		{"*", "**", []string{"*"}},
		{"**", "*", []string{"*"}},
		{"foo", "bar", nil},
		{"foo", "foo", []string{"foo"}},
		{"foo/bar.baz", "**", []string{"foo", "/", "bar.baz"}},
		{"foo/bar.baz", "*", nil},
		{"bar.baz", "*", []string{"bar.baz"}},
		{"bar.baz", "*.baz", []string{"bar.baz"}},
		{"bar.baz", "*.boo", nil},
		{"bar.baz", "**.baz", []string{"bar.baz"}},
		{"bar.baz", "**.boo", nil},
		{"foo/*/*.baz", "**bar.baz", []string{"foo", "/", "*", "/", "*", "bar.baz"}},
		{"foo/*.txt", "**/*.txt", []string{"foo", "/", "*", ".txt"}},
		{
			"src/**/*Test.java", "*/com/google/caja/**",
			[]string{"src", "/", "com", "/", "google", "/", "caja", "/", "**", "/", "*", "Test.java"},
		},
		{"foo/*", "bar/*", nil},
		{"*.c", "*.h", nil},
		// "**/" and a trailing "/*" or "/**" may match nothing.
		{"x/*", "x/**/y", []string{"x", "/", "y"}},
		{"x/**/y", "x/*", []string{"x", "/", "y"}},
		{"**/a.c", "a.c", []string{"a.c"}},
		{"a.c", "**/a.c", []string{"a.c"}},
		{"a/**/b", "a/b", []string{"a", "/", "b"}},
		{"foo/**", "foo", []string{"foo"}},
		{"foo", "foo/*", []string{"foo"}},
	}
	for _, tc := range cases {
		got := Intersection(MustParse(tc.a), MustParse(tc.b))
		if tc.want == nil {
			assert.Nil(t, got, "%s ∩ %s", tc.a, tc.b)
			continue
		}
		if assert.NotNil(t, got, "%s ∩ %s", tc.a, tc.b) {
			assert.Equal(t, tc.want, got.Parts(), "%s ∩ %s", tc.a, tc.b)
		}
	}
}

func TestIntersectionOfSymmetricPairsAgreesOnDisjointness(t *testing.T) {
	globs := []string{
		"*", "**", "foo", "foo/*", "foo/**", "bar/*", "*.c", "**.c", "*/*.c",
		"**/*.h", "src/**/*.c", "src/lib/*", "*/bar", "a/b/c", "foo/*/*.baz",
	}
	for _, x := range globs {
		for _, y := range globs {
			a, b := MustParse(x), MustParse(y)
			ab, ba := Intersection(a, b), Intersection(b, a)
			assert.Equal(t, ab == nil, ba == nil, "%s ∩ %s", x, y)
			assert.Equal(t, ab != nil, Overlaps([]*Pattern{a}, []*Pattern{b}), "Overlaps(%s, %s)", x, y)
		}
	}
}

func TestIntersectionIsContainedInBoth(t *testing.T) {
	pairs := [][2]string{
		{"foo/*.txt", "**/*.txt"},
		{"src/**/*.c", "src/lib/*"},
		{"*/bar", "foo/*"},
		{"**", "a/b/c"},
		{"foo/*/*.baz", "**bar.baz"},
		{"x/*", "x/**/y"},
		{"x/**/y", "x/*"},
		{"**/a.c", "a.c"},
		{"a/**/b", "a/b"},
		{"foo/**", "foo"},
	}
	paths := []string{
		"foo/a.txt", "foo/b/c.txt", "src/lib/x.c", "src/x.c", "src/lib/x.h",
		"foo/bar", "a/b/c", "bar/x", "x.c", "foo/x/ybar.baz", "foo/x/y.baz",
		"x/y", "x/ay", "x/z/y", "a.c", "b/a.c", "a/b", "a/c/b", "foo",
	}
	for _, pair := range pairs {
		a, b := MustParse(pair[0]), MustParse(pair[1])
		both := Intersection(a, b)
		require.NotNil(t, both, "%s ∩ %s", pair[0], pair[1])
		for _, p := range paths {
			if both.Match(p) {
				assert.True(t, a.Match(p) && b.Match(p),
					"%s matches %s but not both of %s and %s", both, p, pair[0], pair[1])
			} else if a.Match(p) && b.Match(p) {
				t.Errorf("%s misses %s, matched by %s and %s", both, p, pair[0], pair[1])
			}
		}
	}
}

func TestOverlaps(t *testing.T) {
	srcs, err := ParseAll("src/**/*.c", "src/**/*.h")
	require.NoError(t, err)
	libs, err := ParseAll("lib/**/*.o")
	require.NoError(t, err)
	assert.False(t, Overlaps(srcs, libs))
	assert.False(t, Overlaps(nil, libs))

	all, err := ParseAll("**/*.h")
	require.NoError(t, err)
	assert.True(t, Overlaps(srcs, all))
	assert.True(t, Overlaps(all, srcs))

	top, err := ParseAll("**/main.c")
	require.NoError(t, err)
	root, err := ParseAll("main.c")
	require.NoError(t, err)
	assert.True(t, Overlaps(top, root), "**/ matches zero segments")
	assert.True(t, Overlaps(root, top))
}

func TestStrategyTable(t *testing.T) {
	for idx, entries := range strategies {
		a, b := idx&3, idx>>2
		if a == kindLiteral && b == kindLiteral || a == 3 || b == 3 {
			assert.Empty(t, entries, "index %d is not a wildcard combination", idx)
			continue
		}
		assert.NotEmpty(t, entries, "index %d has no strategies", idx)
		for k, s := range entries {
			assert.Contains(t, []int{0, 1}, s.advanceA, "strategies[%d][%d]", idx, k)
			assert.Contains(t, []int{0, 1}, s.advanceB, "strategies[%d][%d]", idx, k)
			assert.False(t, s.advanceA == 0 && s.advanceB == 0, "strategies[%d][%d] advances nothing", idx, k)
			assert.Contains(t, []int{-1, 0, 1}, s.out, "strategies[%d][%d]", idx, k)
			assert.Contains(t, []int{-1, 0, 1}, s.check, "strategies[%d][%d]", idx, k)

			// A "*" consuming a literal must refuse a separator.
			if a == kindStar && b == kindLiteral && s.advanceA == 0 {
				assert.Equal(t, 1, s.check, "strategies[%d][%d]", idx, k)
			}
			if b == kindStar && a == kindLiteral && s.advanceB == 0 {
				assert.Equal(t, 0, s.check, "strategies[%d][%d]", idx, k)
			}
		}
	}
}

func TestIntersectionTerminates(t *testing.T) {
	// Long wildcard runs exercise every branch of the table.
	a := MustParse("*/*/*/*")
	b := MustParse("**/**/**")
	require.NotNil(t, Intersection(a, b))
	assert.Nil(t, Intersection(MustParse("a/**/*/x"), MustParse("b/**/**/x")))
	assert.Nil(t, Intersection(MustParse("*/*/*.c"), MustParse("*/*")))
}
