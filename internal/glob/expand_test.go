package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patternStrings(ps []*Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

func TestExpand(t *testing.T) {
	cases := map[string][]string{
		"foo/*.c":           {"foo/*.c"},
		"{a,b,c}{0,1,}":     {"a0", "a1", "a", "b0", "b1", "b", "c0", "c1", "c"},
		"foo/{*.x,*.y,bar}": {"foo/*.x", "foo/*.y", "foo/bar"},
		"foo/{/,bar}":       {"foo", "foo/bar"},
		"foo/**.{html,js}":  {"foo/**.html", "foo/**.js"},
		"**/*.{foo}":        {"**/*.{foo}"},
		"foo//bar/":         {"foo/bar"},
	}
	for text, want := range cases {
		got, err := Expand(text)
		require.NoError(t, err, text)
		assert.Equal(t, want, patternStrings(got), text)
	}
}

func TestExpandReportsSource(t *testing.T) {
	_, err := Expand("foo/{a,b**}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foo/{a,b**}")
}

func TestExpandAll(t *testing.T) {
	got, err := ExpandAll([]string{"a/{x,y}", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/x", "a/y", "b"}, patternStrings(got))

	_, err = ExpandAll([]string{"a", "b//c//d/***"})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                    "",
		"/":                   "/",
		"foo":                 "foo",
		"/foo//bar/":          "/foo/bar",
		"lib///org//prebake/": "lib///org/prebake",
		"lib//org//prebake/":  "lib/org/prebake",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}
